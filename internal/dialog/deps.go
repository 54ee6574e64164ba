// sentiric-dialer-service/internal/dialog/deps.go
package dialog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/audio"
	"github.com/sentiric/sentiric-dialer-service/internal/client"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

// LlmService, metin üretimi soyutlamasıdır. *client.LlmClient bunu sağlar.
type LlmService interface {
	Generate(ctx context.Context, system string, history []client.ChatMessage, campaignContext map[string]string, traceID string) (string, error)
}

// SttService, transkripsiyon soyutlamasıdır. *client.SttClient bunu sağlar.
type SttService interface {
	TranscribeFile(ctx context.Context, audioPath, language, traceID string) (string, error)
}

// TurnAudio, ses hattı soyutlamasıdır. *audio.Pipeline bunu sağlar.
type TurnAudio interface {
	RecordCallerTurn(ctx context.Context, session audio.TurnSession, callID string, seq int, maxDuration time.Duration, silenceSeconds int) (string, error)
	HasVoiceActivity(path string) bool
	EnhanceForTranscription(path string) string
	SynthesizeAndPlay(ctx context.Context, session audio.TurnSession, text, traceID string) (string, error)
}

// StateStore, tur bazında konuşma durumu kalıcılığıdır. *state.Manager bunu
// sağlar; testler bellek içi sahte kullanır.
type StateStore interface {
	Get(ctx context.Context, callID string) (*state.CallState, error)
	Set(ctx context.Context, st *state.CallState) error
}

// TurnStore, diyalog motorunun kalıcılık alt kümesidir.
type TurnStore interface {
	GetTemplate(ctx context.Context, templateID, languageCode string) (string, error)
	SaveTurn(ctx context.Context, turn *domain.ConversationTurn) error
	SaveAppointment(ctx context.Context, appt *domain.Appointment) error
}

// Publisher, diyalog motorunun olay yayınlama soyutlamasıdır.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, body interface{}) error
}

// Settings, konuşma döngüsünün sınırlarını taşır. Sınırların hepsi kampanyanın
// arayanları yormaması için vardır; hiçbir konuşma sonsuza kadar süremez.
type Settings struct {
	MaxTurns               int
	MaxCallDuration        time.Duration
	MaxConsecutiveFailures int
	TurnMaxDuration        time.Duration
	TurnSilenceSeconds     int
	AppointmentMinInterest int
	Language               string
}

// Dependencies, diyalog fonksiyonlarının ihtiyaç duyduğu tüm bağımlılıkları içeren bir yapıdır.
type Dependencies struct {
	Templates  *TemplateProvider
	Store      TurnStore
	States     StateStore
	LLM        LlmService
	STT        SttService
	Audio      TurnAudio
	Publisher  Publisher
	Classifier Classifier
	Settings   Settings
	Log        zerolog.Logger
}
