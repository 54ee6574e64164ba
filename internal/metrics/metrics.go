// sentiric-dialer-service/internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_events_processed_total",
		Help: "İşlenen RabbitMQ olaylarının toplam sayısı.",
	}, []string{"event_type"})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_events_failed_total",
		Help: "Başarısız olan işlemlerin nedene göre toplam sayısı.",
	}, []string{"event_type", "reason"})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_calls_total",
		Help: "Çağrıların sonuca göre toplam sayısı.",
	}, []string{"outcome"})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialer_active_calls",
		Help: "Şu anda aktif olan (çalan veya konuşan) çağrı sayısı.",
	})

	ConversationTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_conversation_turns_total",
		Help: "Konuşma turlarının konuşmacıya göre toplam sayısı.",
	}, []string{"speaker"})

	AppointmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialer_appointments_created_total",
		Help: "Çağrı sonrası analizle üretilen randevuların toplam sayısı.",
	})
)

// StartServer, /metrics endpoint'ini verilen portta sunar.
func StartServer(port string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + port
	log.Info().Str("addr", addr).Msg("📊 Metrik sunucusu dinleniyor.")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrik sunucusu durdu.")
	}
}
