// sentiric-dialer-service/cmd/dialer-service/main.go
package main

import (
	"log"

	"github.com/sentiric/sentiric-dialer-service/internal/app"
	"github.com/sentiric/sentiric-dialer-service/internal/config"
	"github.com/sentiric/sentiric-dialer-service/internal/logger"
)

var (
	ServiceVersion string
	GitCommit      string
	BuildDate      string
)

const serviceName = "dialer-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Konfigürasyon yüklenemedi: %v", err)
	}

	appLog := logger.New(serviceName, cfg.Env, cfg.LogLevel)

	appLog.Info().
		Str("version", ServiceVersion).
		Str("commit", GitCommit).
		Str("build_date", BuildDate).
		Str("profile", cfg.Env).
		Msg("🚀 dialer-service başlatılıyor...")

	application := app.NewApp(cfg, appLog)
	application.Run()
}
