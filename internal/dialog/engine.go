// sentiric-dialer-service/internal/dialog/engine.go
package dialog

import (
	"context"
	"strings"

	"github.com/sentiric/sentiric-dialer-service/internal/audio"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

// DialogFunc, tek bir diyalog durumunu işler ve güncellenmiş durumu döndürür.
type DialogFunc func(context.Context, *Dependencies, audio.TurnSession, *state.CallState) (*state.CallState, error)

var stateMap = map[constants.DialogState]DialogFunc{
	constants.StateGreeting:   StateFnGreeting,
	constants.StateListening:  StateFnListening,
	constants.StateResponding: StateFnResponding,
	constants.StateClosing:    StateFnClosing,
	constants.StateAnalyzing:  StateFnAnalyzing,
}

// RunDialogLoop, bir çağrının konuşma döngüsünü durum durum işler. Her adımın
// sonucu Redis'e yazılır; servis çağrı ortasında yeniden başlasa bile
// transkript kaybolmaz.
//
// Döngünün tek çıkış garantisi vardır: hangi yoldan çıkılırsa çıkılsın
// (normal kapanış, hata, kopan kanal, context iptali) analiz adımı en fazla
// bir kez koşturulur ve durum DONE olarak bırakılır.
func RunDialogLoop(ctx context.Context, deps *Dependencies, session audio.TurnSession, initialSt *state.CallState) {
	ctx = ctxlogger.ToContext(ctx, deps.Log)
	ctx = ctxlogger.WithCall(ctx, initialSt.CallID, initialSt.CampaignID)
	l := ctxlogger.FromContext(ctx)

	st := initialSt

	// Döngü hangi yoldan biterse bitsin analiz borcu kapatılır. Analiz
	// dinleyiciden bağımsızdır; kanal koptuktan sonra da koşabilir.
	defer func() {
		if !st.AnalysisDone {
			l.Info().Msg("Döngü analiz koşmadan bitti, analiz borcu kapatılıyor.")
			// Çağrı context'i iptal edilmiş olabilir; analiz kendi context'iyle koşar.
			finalCtx := ctxlogger.ToContext(context.Background(), l)
			st, _ = StateFnAnalyzing(finalCtx, deps, session, st)
			if err := deps.States.Set(finalCtx, st); err != nil {
				l.Error().Err(err).Msg("Son analiz durumu kaydedilemedi.")
			}
		}
	}()

	if err := deps.States.Set(ctx, st); err != nil {
		l.Error().Err(err).Msg("Başlangıç durumu kaydedilemedi, döngü başlatılmıyor.")
		return
	}

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("Context iptal edildi, diyalog döngüsü temiz bir şekilde sonlandırılıyor.")
			return
		default:
		}

		// Redis tek doğruluk kaynağıdır: dışarıdan (ör. kampanya durdurma)
		// yazılan durum değişiklikleri buradan görülür.
		loaded, err := deps.States.Get(ctx, st.CallID)
		if err != nil {
			l.Error().Err(err).Msg("Durum Redis'ten alınamadı, eldeki kopyayla devam ediliyor.")
		} else if loaded != nil {
			st = loaded
		}

		if st.CurrentState == constants.StateDone {
			l.Info().Int("turns", len(st.Turns)).Msg("✅ Diyalog döngüsü tamamlandı.")
			return
		}

		handlerFunc, ok := stateMap[st.CurrentState]
		if !ok {
			l.Error().Str("state", string(st.CurrentState)).Msg("Bilinmeyen durum, analize kaçılıyor.")
			st.CurrentState = constants.StateAnalyzing
			handlerFunc = StateFnAnalyzing
		}

		l.Debug().Str("state", string(st.CurrentState)).Msg("Diyalog döngüsü adımı işleniyor.")
		st, err = handlerFunc(ctx, deps, session, st)
		if err != nil {
			if err == context.Canceled || strings.Contains(err.Error(), "context canceled") {
				l.Warn().Msg("İşlem context iptali nedeniyle durduruldu, döngü sonlanıyor.")
				return
			}
			// Koşulsuz kaçış: hata hangi durumda çıkarsa çıksın döngü analize
			// gider; analiz de hata verirse defer DONE'a taşır.
			l.Error().Err(err).Str("state", string(st.CurrentState)).Msg("Durum işlenirken hata oluştu, analize kaçılıyor.")
			st.CurrentState = constants.StateAnalyzing
		}

		if err := deps.States.Set(ctx, st); err != nil {
			if err == context.Canceled {
				l.Warn().Msg("Durum kaydı sırasında context iptal edildi, normal sonlanma.")
			} else {
				l.Error().Err(err).Msg("Döngü içinde durum güncellenemedi, sonlandırılıyor.")
			}
			return
		}
	}
}
