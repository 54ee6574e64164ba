// sentiric-dialer-service/internal/audio/pipeline.go
package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/agi"
	"github.com/sentiric/sentiric-dialer-service/internal/client"
)

// Arayanın turu sonlandırmak için basabileceği tuş.
const recordEscapeDigits = "#"

// Platform tamamlanma sinyali göndermezse asla takılı kalmamak için çalma
// komutlarına eklenen pay.
const playbackGrace = 10 * time.Second

// TurnSession, ses hattının çağrı bacağı üzerinde ihtiyaç duyduğu komut alt
// kümesidir. *agi.Session bunu sağlar; testler sahte oturum kullanır.
type TurnSession interface {
	StreamFile(ctx context.Context, maxWait time.Duration, path string) error
	RecordFile(ctx context.Context, path, format, escapeDigits string, maxDuration time.Duration, silenceSeconds int) (*agi.Reply, error)
}

// Synthesizer, metinden ses üreten harici adaptördür.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, traceID string) (*client.TtsResult, error)
}

// Pipeline, bir çağrı turunun ses tarafını yönetir: arayanı kaydeder,
// transkripsiyon için iyileştirir, bot yanıtını sentezleyip telefon hattının
// beklediği biçime çevirir ve çalar.
type Pipeline struct {
	recordingDir   string
	retention      time.Duration
	fallbackPrompt string // birincil yol çökerse çalınacak hazır anons
	tts            Synthesizer
	log            zerolog.Logger
}

func NewPipeline(recordingDir string, retention time.Duration, tts Synthesizer, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		recordingDir:   recordingDir,
		retention:      retention,
		fallbackPrompt: "sentiric-technical-difficulty",
		tts:            tts,
		log:            log.With().Str("component", "audio").Logger(),
	}
}

// RecordCallerTurn, arayanın tek bir konuşma turunu kaydeder. Kayıt; sessizlik
// eşiği, azami süre veya sonlandırıcı tuşla biter. Hiçbir şey kaydedilmediyse
// boş string döner — bu bir hata değildir, arayan sessiz kalmıştır.
func (p *Pipeline) RecordCallerTurn(ctx context.Context, session TurnSession, callID string, seq int, maxDuration time.Duration, silenceSeconds int) (string, error) {
	base := filepath.Join(p.recordingDir, fmt.Sprintf("%s-turn-%03d", callID, seq))
	wavPath := base + ".wav"

	reply, err := session.RecordFile(ctx, base, "wav", recordEscapeDigits, maxDuration, silenceSeconds)
	if err != nil {
		return "", fmt.Errorf("kayıt komutu başarısız: %w", err)
	}
	// result=-1, platform tarafında yazma hatası demektir.
	if reply.Result < 0 {
		return "", fmt.Errorf("platform kaydı yazamadı: %s", reply.Raw)
	}

	info, err := os.Stat(wavPath)
	if err != nil || info.Size() <= 44 { // yalnızca WAV başlığı: boş kayıt
		return "", nil
	}
	return wavPath, nil
}

// HasVoiceActivity, kayıtta konuşma olup olmadığına dair ucuz bir genlik
// sezgisidir. Ölçüm sonuçsuz kalırsa (dosya okunamadı vb.) "ses var" kabul
// edilir; bir turu sessizce düşürmektense boş yere dinlemek yeğdir.
func (p *Pipeline) HasVoiceActivity(path string) bool {
	buf, err := decodeWavFile(path)
	if err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("VAD ölçümü sonuçsuz, ses var kabul ediliyor.")
		return true
	}
	buf = toMono(buf)
	if len(buf.Data) == 0 {
		return true
	}

	var sum float64
	for _, s := range buf.Data {
		sum += math.Abs(float64(s))
	}
	mean := sum / float64(len(buf.Data)) / 32768.0
	return mean >= 0.005
}

// SynthesizeAndPlay, bot yanıtını sentezler, telefon hattı biçimine çevirir,
// platformun erişebileceği dizine yazar ve çalar. Sentez, dönüştürme ve çalma
// adımları bağımsız olarak başarısız olabilir; birincil yol çökerse arayan
// sessizlikte bırakılmaz, yedek anons denenir.
func (p *Pipeline) SynthesizeAndPlay(ctx context.Context, session TurnSession, text, traceID string) (string, error) {
	path, err := p.synthesizeToFile(ctx, text, traceID)
	if err != nil {
		p.log.Error().Err(err).Msg("Sentez/dönüştürme başarısız, yedek anons çalınacak.")
		p.playFallback(ctx, session)
		return "", err
	}

	wait := EstimateSpokenDuration(text) + playbackGrace
	if err := session.StreamFile(ctx, wait, strings.TrimSuffix(path, ".wav")); err != nil {
		p.log.Error().Err(err).Msg("Çalma başarısız, yedek anons çalınacak.")
		p.playFallback(ctx, session)
		return path, err
	}
	return path, nil
}

func (p *Pipeline) synthesizeToFile(ctx context.Context, text, traceID string) (string, error) {
	result, err := p.tts.Synthesize(ctx, text, traceID)
	if err != nil {
		return "", fmt.Errorf("sentez başarısız: %w", err)
	}

	buf, err := decodeWavBytes(result.Audio)
	if err != nil {
		return "", fmt.Errorf("sentezlenen ses çözülemedi: %w", err)
	}
	if buf.Format.SampleRate == 0 {
		buf.Format.SampleRate = result.SampleRate
	}

	buf = toMono(buf)
	buf = resample(buf, telephonySampleRate)

	path := filepath.Join(p.recordingDir, fmt.Sprintf("tts-%s.wav", uuid.New().String()))
	if err := encodeWavFile(path, buf); err != nil {
		return "", fmt.Errorf("çalma dosyası yazılamadı: %w", err)
	}
	return path, nil
}

func (p *Pipeline) playFallback(ctx context.Context, session TurnSession) {
	if err := session.StreamFile(ctx, 30*time.Second, p.fallbackPrompt); err != nil {
		p.log.Error().Err(err).Msg("KRİTİK: Yedek anons dahi çalınamadı.")
	}
}

// StartJanitor, saklama süresini aşan kayıtları periyodik olarak temizler.
// Temizlik hiçbir zaman çağrı akışının içinde (senkron) yapılmaz.
func (p *Pipeline) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

func (p *Pipeline) sweep() {
	cutoff := time.Now().Add(-p.retention)
	entries, err := os.ReadDir(p.recordingDir)
	if err != nil {
		p.log.Warn().Err(err).Msg("Kayıt dizini okunamadı, temizlik atlandı.")
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.recordingDir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("🧹 Eski kayıtlar temizlendi.")
	}
}
