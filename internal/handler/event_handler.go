// sentiric-dialer-service/internal/handler/event_handler.go
package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/metrics"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

// CampaignController, kampanya kontrol komutlarının hedefidir.
// *dispatcher.Dispatcher bunu sağlar.
type CampaignController interface {
	StartCampaign(ctx context.Context, campaignID int64) error
	PauseCampaign(ctx context.Context, campaignID int64) error
	StopCampaign(ctx context.Context, campaignID int64) error
}

// Locker, yinelenen komutları bastırmak için kısa ömürlü kilit sağlar.
// *state.Manager bunu sağlar.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// ControlEvent, RabbitMQ üzerinden gelen kampanya kontrol komutudur.
type ControlEvent struct {
	EventType  string `json:"eventType"`
	CampaignID int64  `json:"campaignId"`
	TraceID    string `json:"traceId,omitempty"`
}

type EventHandler struct {
	controller CampaignController
	locker     Locker
	log        zerolog.Logger
}

func NewEventHandler(controller CampaignController, locker Locker, log zerolog.Logger) *EventHandler {
	return &EventHandler{
		controller: controller,
		locker:     locker,
		log:        log,
	}
}

// HandleRabbitMQMessage, kontrol kuyruğundan gelen tek bir mesajı işler.
// Mesajlar en-az-bir-kez teslim edilir; yinelenen komutlar Redis kilidiyle
// bastırılır.
func (h *EventHandler) HandleRabbitMQMessage(body []byte) {
	var event ControlEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Error().Err(err).Bytes("raw_message", body).Msg("Hata: Mesaj JSON formatında değil")
		metrics.EventsFailed.WithLabelValues("unknown", "json_unmarshal").Inc()
		return
	}
	if event.CampaignID == 0 {
		h.log.Error().Bytes("raw_message", body).Msg("Hata: Komutta kampanya kimliği yok")
		metrics.EventsFailed.WithLabelValues(event.EventType, "missing_campaign_id").Inc()
		return
	}

	metrics.EventsProcessed.WithLabelValues(event.EventType).Inc()
	l := h.log.With().Str("event_type", event.EventType).Int64("campaign_id", event.CampaignID).Str("trace_id", event.TraceID).Logger()
	l.Info().Msg("Kampanya komutu alındı")

	ctx := context.Background()

	lockName := "campaign_cmd:" + event.EventType + ":" + strconv.FormatInt(event.CampaignID, 10)
	isNew, err := h.locker.AcquireLock(ctx, lockName, 5*time.Second)
	if err != nil {
		l.Error().Err(err).Msg("Redis kilit hatası, komut yine de işlenecek.")
	} else if !isNew {
		l.Warn().Msg("⚠️ Yinelenen kampanya komutu algılandı ve yoksayıldı.")
		return
	}

	switch constants.EventType(event.EventType) {
	case constants.EventCampaignStart:
		err = h.controller.StartCampaign(ctx, event.CampaignID)
	case constants.EventCampaignPause:
		err = h.controller.PauseCampaign(ctx, event.CampaignID)
	case constants.EventCampaignStop:
		err = h.controller.StopCampaign(ctx, event.CampaignID)
	default:
		l.Warn().Msg("Bilinmeyen komut türü, yoksayılıyor.")
		metrics.EventsFailed.WithLabelValues(event.EventType, "unknown_event_type").Inc()
		return
	}

	if err != nil {
		l.Error().Err(err).Msg("Kampanya komutu işlenemedi.")
		metrics.EventsFailed.WithLabelValues(event.EventType, "command_failed").Inc()
	}
}

var _ Locker = (*state.Manager)(nil)
