// ========== FILE: sentiric-dialer-service/internal/config/config.go ==========
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config struct'ı, uygulamanın ihtiyaç duyduğu tüm yapılandırma değerlerini içerir.
type Config struct {
	Env         string
	LogLevel    string
	PostgresURL string
	RedisURL    string
	RabbitMQURL string
	MetricsPort string

	// Telefon platformu (Asterisk AMI + FastAGI)
	AmiAddr          string
	AmiUser          string
	AmiSecret        string
	AgiListenAddr    string
	OriginateContext string
	CallerID         string

	// Dispatcher ayarları
	MaxConcurrentCalls int
	AnswerTimeout      time.Duration
	DispatchBackoff    time.Duration

	// Diyalog motoru ayarları
	MaxTurns               int
	MaxCallDuration        time.Duration
	MaxConsecutiveFailures int

	// Ses hattı (audio pipeline) ayarları
	RecordingDir       string
	RecordingRetention time.Duration
	TurnMaxDuration    time.Duration
	TurnSilenceSeconds int

	// Yapay zeka servisleri
	LlmServiceURL string
	SttServiceURL string
	TtsServiceURL string
	TtsVoice      string
	TtsSpeed      float64

	// Randevu politikası eşiği (bkz. dialog.AppointmentPolicy)
	AppointmentMinInterest int
}

// Load, .env dosyasından ve ortam değişkenlerinden yapılandırmayı yükler.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Env:         getEnvWithDefault("ENV", "production"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		PostgresURL: getEnv("POSTGRES_URL"),
		RedisURL:    getEnv("REDIS_URL"),
		RabbitMQURL: getEnv("RABBITMQ_URL"),
		MetricsPort: getEnvWithDefault("METRICS_PORT_DIALER", "9092"),

		AmiAddr:          getEnv("AMI_ADDR"),
		AmiUser:          getEnv("AMI_USER"),
		AmiSecret:        getEnv("AMI_SECRET"),
		AgiListenAddr:    getEnvWithDefault("AGI_LISTEN_ADDR", ":4573"),
		OriginateContext: getEnvWithDefault("ORIGINATE_CONTEXT", "sentiric-outbound"),
		CallerID:         getEnvWithDefault("CALLER_ID", "Sentiric <1000>"),

		MaxConcurrentCalls: getEnvInt("MAX_CONCURRENT_CALLS", 2),
		AnswerTimeout:      getEnvDuration("ANSWER_TIMEOUT", 45*time.Second),
		DispatchBackoff:    getEnvDuration("DISPATCH_BACKOFF", 5*time.Second),

		MaxTurns:               getEnvInt("MAX_TURNS", 8),
		MaxCallDuration:        getEnvDuration("MAX_CALL_DURATION", 300*time.Second),
		MaxConsecutiveFailures: getEnvInt("MAX_CONSECUTIVE_FAILURES", 3),

		RecordingDir:       getEnvWithDefault("RECORDING_DIR", "/var/lib/sentiric/recordings"),
		RecordingRetention: getEnvDuration("RECORDING_RETENTION", 24*time.Hour),
		TurnMaxDuration:    getEnvDuration("TURN_MAX_DURATION", 15*time.Second),
		TurnSilenceSeconds: getEnvInt("TURN_SILENCE_SECONDS", 2),

		LlmServiceURL: getEnv("LLM_SERVICE_URL"),
		SttServiceURL: getEnv("STT_SERVICE_URL"),
		TtsServiceURL: getEnv("TTS_SERVICE_URL"),
		TtsVoice:      getEnvWithDefault("TTS_VOICE", "default"),
		TtsSpeed:      getEnvFloat("TTS_SPEED", 1.0),

		AppointmentMinInterest: getEnvInt("APPOINTMENT_MIN_INTEREST", 7),
	}

	// Kritik yapılandırma değerlerinin varlığını kontrol et
	if cfg.PostgresURL == "" || cfg.RedisURL == "" || cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("kritik altyapı URL'leri eksik (Postgres, Redis, RabbitMQ)")
	}
	if cfg.AmiAddr == "" || cfg.AmiUser == "" || cfg.AmiSecret == "" {
		return nil, fmt.Errorf("AMI bağlantı bilgileri eksik (AMI_ADDR, AMI_USER, AMI_SECRET)")
	}
	if cfg.LlmServiceURL == "" || cfg.SttServiceURL == "" || cfg.TtsServiceURL == "" {
		return nil, fmt.Errorf("yapay zeka servis URL'leri eksik (LLM, STT, TTS)")
	}

	return cfg, nil
}

func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvWithDefault(key, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return d
}
