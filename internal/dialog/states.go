// sentiric-dialer-service/internal/dialog/states.go
package dialog

import (
	"context"
	"time"

	"github.com/sentiric/sentiric-dialer-service/internal/audio"
	"github.com/sentiric/sentiric-dialer-service/internal/client"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
	"github.com/sentiric/sentiric-dialer-service/internal/metrics"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
	"github.com/sentiric/sentiric-dialer-service/internal/watchdog"
)

// StateFnGreeting, kampanyanın açılış metnini çalar. Açılış, kayan konuşma
// geçmişinin ilk bot turu olarak kaydedilir; böylece LLM sonraki turlarda
// kendisinin ne söyleyerek başladığını bilir.
func StateFnGreeting(ctx context.Context, deps *Dependencies, session audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	l := ctxlogger.FromContext(ctx)

	greeting := deps.Templates.GreetingText(ctx, st)
	l.Info().Str("text", greeting).Msg("Açılış metni seslendiriliyor...")

	started := time.Now()
	audioPath, err := deps.Audio.SynthesizeAndPlay(ctx, session, greeting, st.CallID)
	if err != nil {
		// Açılışın çalınamaması tek başına çağrıyı bitirmez; yedek anons
		// çalınmıştır ve dinleme turu hâlâ anlamlıdır.
		l.Error().Err(err).Msg("Açılış çalınamadı, yedek anonsla devam ediliyor.")
		st.ConsecutiveFailures++
	}

	turn := st.AppendTurn(domain.SpeakerBot, greeting, audioPath, time.Since(started))
	saveTurn(ctx, deps, &turn)
	metrics.ConversationTurns.WithLabelValues(string(domain.SpeakerBot)).Inc()

	st.CurrentState = constants.StateListening
	return st, nil
}

// StateFnListening, arayanın bir turunu kaydeder ve metne çevirir. Tur tavanı,
// süre tavanı veya art arda başarısızlık eşiği aşılmışsa konuşma kapanışa gider.
func StateFnListening(ctx context.Context, deps *Dependencies, session audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	l := ctxlogger.FromContext(ctx)

	if reason := reachedLimit(deps, st); reason != "" {
		l.Info().Str("reason", reason).Msg("Konuşma sınırına ulaşıldı, kapanışa geçiliyor.")
		st.CurrentState = constants.StateClosing
		return st, nil
	}

	l.Info().Int("turn", len(st.Turns)+1).Msg("Müşteriden ses bekleniyor...")
	recordStarted := time.Now()
	audioPath, err := deps.Audio.RecordCallerTurn(ctx, session, st.CallID, len(st.Turns)+1,
		deps.Settings.TurnMaxDuration, deps.Settings.TurnSilenceSeconds)
	if err != nil {
		// Kayıt hatası genellikle kopan kanal demektir; hata yukarıya taşınır
		// ve döngü analizle kapanır.
		return st, err
	}

	if audioPath == "" || !deps.Audio.HasVoiceActivity(audioPath) {
		l.Warn().Msg("Müşteri konuşmadı veya ses tespit edilemedi, tekrar soruluyor.")
		return repromptAndStay(ctx, deps, session, st)
	}

	enhancedPath := deps.Audio.EnhanceForTranscription(audioPath)
	text, err := deps.STT.TranscribeFile(ctx, enhancedPath, deps.Settings.Language, st.CallID)
	if err != nil {
		l.Error().Err(err).Msg("Transkripsiyon başarısız, tekrar soruluyor.")
		return repromptAndStay(ctx, deps, session, st)
	}
	if text == "" {
		l.Warn().Msg("Transkripsiyon boş metin döndürdü, tekrar soruluyor.")
		return repromptAndStay(ctx, deps, session, st)
	}

	st.ConsecutiveFailures = 0
	turn := st.AppendTurn(domain.SpeakerClient, text, audioPath, time.Since(recordStarted))
	saveTurn(ctx, deps, &turn)
	metrics.ConversationTurns.WithLabelValues(string(domain.SpeakerClient)).Inc()

	l.Info().Str("text", text).Msg("Müşteri turu metne çevrildi.")
	st.CurrentState = constants.StateResponding
	return st, nil
}

// StateFnResponding, müşterinin son sözüne yanıt üretir ve seslendirir.
// Sınıflandırıcı vedalaşma tespit ederse bu yanıt son yanıt olur.
func StateFnResponding(ctx context.Context, deps *Dependencies, session audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	l := ctxlogger.FromContext(ctx)
	l.Info().Msg("Yanıt üretiliyor...")

	started := time.Now()
	system := deps.Templates.SystemPrompt(ctx, st)
	reply, err := deps.LLM.Generate(ctx, system, buildHistory(st), st.TalkingPoints, st.CallID)
	if err != nil {
		l.Error().Err(err).Msg("Yanıt üretilemedi, dinlemeye dönülüyor.")
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= deps.Settings.MaxConsecutiveFailures {
			st.CurrentState = constants.StateClosing
			return st, nil
		}
		return repromptAndStay(ctx, deps, session, st)
	}

	shouldClose := deps.Classifier.ShouldClose(st.LastClientText(), reply)

	audioPath, playErr := deps.Audio.SynthesizeAndPlay(ctx, session, reply, st.CallID)
	if playErr != nil {
		l.Error().Err(playErr).Msg("Yanıt çalınamadı.")
		st.ConsecutiveFailures++
	}

	turn := st.AppendTurn(domain.SpeakerBot, reply, audioPath, time.Since(started))
	saveTurn(ctx, deps, &turn)
	metrics.ConversationTurns.WithLabelValues(string(domain.SpeakerBot)).Inc()

	if shouldClose {
		l.Info().Msg("Vedalaşma tespit edildi, kapanışa geçiliyor.")
		st.CurrentState = constants.StateClosing
		return st, nil
	}
	st.CurrentState = constants.StateListening
	return st, nil
}

// StateFnClosing, kapanış metnini çalar. Son bot turu vedalaşma içermiyorsa
// sabit veda metni kullanılır; müşteri asla yanıtsız bir kopuşla bırakılmaz.
func StateFnClosing(ctx context.Context, deps *Dependencies, session audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	l := ctxlogger.FromContext(ctx)

	if !lastBotTurnWasFarewell(deps, st) {
		started := time.Now()
		audioPath, err := deps.Audio.SynthesizeAndPlay(ctx, session, constants.FallbackGoodbye, st.CallID)
		if err != nil {
			l.Error().Err(err).Msg("Kapanış metni çalınamadı.")
		}
		turn := st.AppendTurn(domain.SpeakerBot, constants.FallbackGoodbye, audioPath, time.Since(started))
		saveTurn(ctx, deps, &turn)
		metrics.ConversationTurns.WithLabelValues(string(domain.SpeakerBot)).Inc()
	}

	l.Info().Int("turns", len(st.Turns)).Msg("Konuşma kapatıldı, analize geçiliyor.")
	st.CurrentState = constants.StateAnalyzing
	return st, nil
}

// StateFnAnalyzing, çağrı sonrası niyet analizini yapar. Bu adım çağrı başına
// tam olarak bir kez koşar ve buradaki hiçbir hata döngüyü canlı tutamaz;
// analiz çıkmazında çağrı yine de kapanır.
func StateFnAnalyzing(ctx context.Context, deps *Dependencies, _ audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	l := ctxlogger.FromContext(ctx)

	if st.AnalysisDone {
		st.CurrentState = constants.StateDone
		return st, nil
	}
	st.AnalysisDone = true
	st.CurrentState = constants.StateDone

	transcript := buildTranscript(st)
	if transcript == "" {
		l.Info().Msg("Transkript boş, analiz atlandı.")
		return st, nil
	}

	l.Info().Msg("🔎 Çağrı sonrası niyet analizi yapılıyor...")
	raw, err := watchdog.Call(ctx, 30*time.Second, func(wctx context.Context) (string, error) {
		return deps.LLM.Generate(wctx, deps.Templates.IntentPrompt(wctx),
			[]client.ChatMessage{{Role: "user", Content: transcript}}, st.TalkingPoints, st.CallID)
	})
	if err != nil {
		l.Error().Err(err).Msg("Niyet analizi üretilemedi, çağrı analizsiz kapanıyor.")
		return st, nil
	}

	analysis, err := deps.Classifier.ParseIntent(raw)
	if err != nil {
		l.Warn().Err(err).Str("raw", raw).Msg("Niyet analizi çözümlenemedi.")
		return st, nil
	}

	l.Info().
		Int("interest_level", analysis.InterestLevel).
		Bool("appointment_requested", analysis.AppointmentRequested).
		Msg("Niyet analizi tamamlandı.")

	if analysis.AppointmentRequested || analysis.InterestLevel >= deps.Settings.AppointmentMinInterest {
		createAppointment(ctx, deps, st, analysis)
	}
	return st, nil
}

// --- Yardımcılar ---

func reachedLimit(deps *Dependencies, st *state.CallState) string {
	if len(st.Turns) >= deps.Settings.MaxTurns {
		return "tur tavanı"
	}
	if time.Since(st.StartedAt) >= deps.Settings.MaxCallDuration {
		return "süre tavanı"
	}
	if st.ConsecutiveFailures >= deps.Settings.MaxConsecutiveFailures {
		return "art arda başarısızlık eşiği"
	}
	return ""
}

// repromptAndStay, başarısız bir dinleme turundan sonra müşteriden tekrar
// konuşmasını ister ve dinleme durumunda kalır. Eşik kontrolü bir sonraki
// dinleme girişinde yapılır.
func repromptAndStay(ctx context.Context, deps *Dependencies, session audio.TurnSession, st *state.CallState) (*state.CallState, error) {
	st.ConsecutiveFailures++
	if st.ConsecutiveFailures < deps.Settings.MaxConsecutiveFailures {
		if _, err := deps.Audio.SynthesizeAndPlay(ctx, session, constants.FallbackReprompt, st.CallID); err != nil {
			l := ctxlogger.FromContext(ctx)
			l.Error().Err(err).Msg("Tekrar sorma metni çalınamadı.")
		}
	}
	st.CurrentState = constants.StateListening
	return st, nil
}

func lastBotTurnWasFarewell(deps *Dependencies, st *state.CallState) bool {
	for i := len(st.Turns) - 1; i >= 0; i-- {
		if st.Turns[i].Speaker == domain.SpeakerBot {
			return deps.Classifier.ShouldClose("", st.Turns[i].Text)
		}
	}
	return false
}

func saveTurn(ctx context.Context, deps *Dependencies, turn *domain.ConversationTurn) {
	if err := deps.Store.SaveTurn(ctx, turn); err != nil {
		l := ctxlogger.FromContext(ctx)
		l.Error().Err(err).Int("seq", turn.Seq).Msg("Konuşma turu kalıcılaştırılamadı.")
	}
}

// AppointmentEvent, analiz randevu ürettiğinde yayınlanan olaydır.
type AppointmentEvent struct {
	EventType     constants.EventType `json:"eventType"`
	CallID        string              `json:"callId"`
	CampaignID    int64               `json:"campaignId"`
	ContactID     int64               `json:"contactId"`
	InterestLevel int                 `json:"interestLevel"`
	ScheduledAt   *time.Time          `json:"scheduledAt,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

func createAppointment(ctx context.Context, deps *Dependencies, st *state.CallState, analysis *IntentAnalysis) {
	l := ctxlogger.FromContext(ctx)

	appt := &domain.Appointment{
		CallID:        st.CallID,
		ContactID:     st.ContactID,
		CampaignID:    st.CampaignID,
		ScheduledAt:   analysis.ScheduledTime(),
		InterestLevel: analysis.InterestLevel,
		Notes:         analysis.Notes,
	}
	if err := deps.Store.SaveAppointment(ctx, appt); err != nil {
		l.Error().Err(err).Msg("Randevu kalıcılaştırılamadı.")
		return
	}
	metrics.AppointmentsCreated.Inc()

	ev := AppointmentEvent{
		EventType:     constants.EventAppointmentCreated,
		CallID:        st.CallID,
		CampaignID:    st.CampaignID,
		ContactID:     st.ContactID,
		InterestLevel: analysis.InterestLevel,
		ScheduledAt:   analysis.ScheduledTime(),
		Notes:         analysis.Notes,
		Timestamp:     time.Now().UTC(),
	}
	if err := deps.Publisher.PublishJSON(ctx, string(constants.EventAppointmentCreated), ev); err != nil {
		l.Error().Err(err).Msg("Randevu olayı yayınlanamadı.")
	}
	l.Info().Int("interest_level", analysis.InterestLevel).Msg("📅 Randevu oluşturuldu.")
}
