// sentiric-dialer-service/internal/handler/call_handler.go
package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/agi"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/dialog"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

// CallRegistry, cevaplanan AGI bacağını dispatcher'ın yuva kaydıyla eşler ve
// çağrının doğal sonunu bildirir. *dispatcher.Dispatcher bunu sağlar.
//
// AnswerFromAgi yalnızca okuma değildir: bacağın gelişi cevap kanıtıdır ve
// cevaplama zamanlayıcısını keser. AMI tarafındaki olay sırasına güvenilmez.
type CallRegistry interface {
	AnswerFromAgi(ctx context.Context, number, channel string) (callID string, contact *domain.Contact, ok bool)
	CompleteCall(ctx context.Context, number, cause string)
}

// CallHandler, telefon platformundan gelen her cevaplı çağrı bacağını karşılar:
// kanal değişkenlerinden çağrıyı tanır, dispatcher kaydıyla doğrular ve
// konuşma döngüsünü çalıştırır.
type CallHandler struct {
	registry     CallRegistry
	stateManager *state.Manager
	dialogDeps   *dialog.Dependencies
	log          zerolog.Logger
}

func NewCallHandler(registry CallRegistry, sm *state.Manager, deps *dialog.Dependencies, log zerolog.Logger) *CallHandler {
	return &CallHandler{
		registry:     registry,
		stateManager: sm,
		dialogDeps:   deps,
		log:          log,
	}
}

// HandleSession, tek bir FastAGI oturumunun tüm yaşam döngüsüdür. Dönüşte
// kanal her koşulda kapatılır ve dispatcher yuvası serbest bırakılır.
func (h *CallHandler) HandleSession(ctx context.Context, session *agi.Session) {
	defer session.Close()

	number, err := session.GetVariable(ctx, "DIALER_NUMBER")
	if err != nil || number == "" {
		h.log.Warn().Err(err).Str("channel", session.Channel()).Msg("Kanalda arama kimliği yok, bu bizim başlattığımız bir çağrı değil.")
		session.Hangup(ctx)
		return
	}

	callID, contact, ok := h.registry.AnswerFromAgi(ctx, number, session.Channel())
	if !ok {
		// Yuva çoktan serbest bırakılmış ya da cevap zaman aşımına yenilmiş olabilir.
		h.log.Warn().Str("number", number).Msg("Numara için aktif yuva kaydı yok, bacak kapatılıyor.")
		session.Hangup(ctx)
		return
	}

	l := h.log.With().Str("call_id", callID).Str("number", number).Logger()

	// Aynı çağrı için yinelenen AGI bacağı (platform tarafında retry) bastırılır.
	isNew, err := h.stateManager.AcquireLock(ctx, "agi_session:"+callID, 10*time.Second)
	if err != nil {
		l.Error().Err(err).Msg("Redis kilit hatası, oturum yine de işlenecek.")
	} else if !isNew {
		l.Warn().Msg("⚠️ Bu çağrı için zaten aktif bir AGI oturumu var, yinelenen bacak kapatılıyor.")
		session.Hangup(ctx)
		return
	}

	if err := session.Answer(ctx); err != nil {
		l.Error().Err(err).Msg("Bacak cevaplanamadı, çağrı tamamlandı sayılıyor.")
		h.registry.CompleteCall(ctx, number, "agi answer failed")
		return
	}

	l.Info().Str("channel", session.Channel()).Msg("🤖 Konuşma döngüsü başlatılıyor...")

	st := &state.CallState{
		CallID:        callID,
		CampaignID:    contact.CampaignID,
		ContactID:     contact.ID,
		ContactName:   contact.Name,
		PhoneNumber:   number,
		TalkingPoints: contact.TalkingPoints,
		CurrentState:  constants.StateGreeting,
		StartedAt:     time.Now().UTC(),
	}

	dialog.RunDialogLoop(ctx, h.dialogDeps, session, st)

	session.Hangup(ctx)
	h.registry.CompleteCall(ctx, number, "dialog completed")

	if err := h.stateManager.Delete(context.Background(), callID); err != nil {
		l.Warn().Err(err).Msg("Çağrı durumu Redis'ten silinemedi, TTL ile düşecek.")
	}
	l.Info().Msg("📴 Çağrı bacağı kapatıldı ve kaynaklar temizlendi.")
}
