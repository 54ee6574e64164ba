// sentiric-dialer-service/internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/agi"
	"github.com/sentiric/sentiric-dialer-service/internal/ami"
	"github.com/sentiric/sentiric-dialer-service/internal/audio"
	"github.com/sentiric/sentiric-dialer-service/internal/client"
	"github.com/sentiric/sentiric-dialer-service/internal/config"
	"github.com/sentiric/sentiric-dialer-service/internal/database"
	"github.com/sentiric/sentiric-dialer-service/internal/dialog"
	"github.com/sentiric/sentiric-dialer-service/internal/dispatcher"
	"github.com/sentiric/sentiric-dialer-service/internal/handler"
	"github.com/sentiric/sentiric-dialer-service/internal/metrics"
	"github.com/sentiric/sentiric-dialer-service/internal/queue"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

type App struct {
	Cfg *config.Config
	Log zerolog.Logger
}

func NewApp(cfg *config.Config, log zerolog.Logger) *App {
	return &App{Cfg: cfg, Log: log}
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Altyapı Bağlantıları
	db, rdb, rabbitCh, closeChan, err := a.initInfra(ctx)
	if err != nil {
		a.Log.Fatal().Err(err).Msg("Altyapı başlatılamadı")
	}
	defer db.Close()
	defer rdb.Close()
	defer rabbitCh.Close()

	amiClient := ami.NewClient(ami.Config{
		Addr:          a.Cfg.AmiAddr,
		Username:      a.Cfg.AmiUser,
		Secret:        a.Cfg.AmiSecret,
		Context:       a.Cfg.OriginateContext,
		CallerID:      a.Cfg.CallerID,
		AnswerTimeout: a.Cfg.AnswerTimeout,
	}, a.Log)
	if err := amiClient.Connect(ctx); err != nil {
		a.Log.Fatal().Err(err).Msg("Telefon platformuna bağlanılamadı")
	}
	defer amiClient.Close()

	// 2. Bağımlılık Enjeksiyonu
	store := database.NewStore(db)
	stateMgr := state.NewManager(rdb)
	publisher := queue.NewPublisher(rabbitCh, a.Log)

	llmClient := client.NewLlmClient(a.Cfg.LlmServiceURL, a.Log)
	sttClient := client.NewSttClient(a.Cfg.SttServiceURL, a.Log)
	ttsClient := client.NewTtsClient(a.Cfg.TtsServiceURL, a.Cfg.TtsVoice, a.Cfg.TtsSpeed, a.Log)

	audioPipeline := audio.NewPipeline(a.Cfg.RecordingDir, a.Cfg.RecordingRetention, ttsClient, a.Log)
	audioPipeline.StartJanitor(ctx)

	disp := dispatcher.New(ctx, dispatcher.Settings{
		MaxConcurrentCalls: a.Cfg.MaxConcurrentCalls,
		AnswerTimeout:      a.Cfg.AnswerTimeout,
		DispatchBackoff:    a.Cfg.DispatchBackoff,
	}, store, amiClient, publisher, a.Log)

	dialogDeps := &dialog.Dependencies{
		Templates:  dialog.NewTemplateProvider(store, "tr"),
		Store:      store,
		States:     stateMgr,
		LLM:        llmClient,
		STT:        sttClient,
		Audio:      audioPipeline,
		Publisher:  publisher,
		Classifier: dialog.NewKeywordClassifier(),
		Settings: dialog.Settings{
			MaxTurns:               a.Cfg.MaxTurns,
			MaxCallDuration:        a.Cfg.MaxCallDuration,
			MaxConsecutiveFailures: a.Cfg.MaxConsecutiveFailures,
			TurnMaxDuration:        a.Cfg.TurnMaxDuration,
			TurnSilenceSeconds:     a.Cfg.TurnSilenceSeconds,
			AppointmentMinInterest: a.Cfg.AppointmentMinInterest,
			Language:               "tr",
		},
		Log: a.Log,
	}

	callHandler := handler.NewCallHandler(disp, stateMgr, dialogDeps, a.Log)
	eventHandler := handler.NewEventHandler(disp, stateMgr, a.Log)

	// 3. Sunucular
	agiServer := agi.NewServer(a.Cfg.AgiListenAddr, callHandler.HandleSession, a.Log)
	go func() {
		if err := agiServer.ListenAndServe(ctx); err != nil {
			a.Log.Fatal().Err(err).Msg("FastAGI sunucusu başlatılamadı")
		}
	}()
	go metrics.StartServer(a.Cfg.MetricsPort, a.Log)

	// 4. Olay tüketicileri
	go disp.ConsumeTelephonyEvents(ctx, amiClient.Events())

	var wg sync.WaitGroup
	go queue.StartConsumer(ctx, rabbitCh, eventHandler.HandleRabbitMQMessage, a.Log, &wg)

	// 5. Shutdown
	a.handleShutdown(cancel, &wg, closeChan, amiClient.Fatal())
}

func (a *App) initInfra(ctx context.Context) (*sql.DB, *redis.Client, *amqp091.Channel, <-chan *amqp091.Error, error) {
	db, err := database.Connect(ctx, a.Cfg.PostgresURL, a.Log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rdb, err := database.ConnectRedis(ctx, a.Cfg.RedisURL, a.Log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ch, closeCh, err := queue.Connect(ctx, a.Cfg.RabbitMQURL, a.Log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return db, rdb, ch, closeCh, nil
}

func (a *App) handleShutdown(cancel context.CancelFunc, wg *sync.WaitGroup, closeChan <-chan *amqp091.Error, amiFatal <-chan error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		a.Log.Info().Msg("Kapatma sinyali alındı.")
	case err := <-closeChan:
		a.Log.Error().Err(err).Msg("RabbitMQ bağlantısı koptu.")
	case err := <-amiFatal:
		a.Log.Error().Err(err).Msg("Telefon platformu bağlantısı kalıcı olarak koptu.")
	}

	cancel()
	wg.Wait()
	a.Log.Info().Msg("Servis başarıyla durduruldu.")
}
