// sentiric-dialer-service/internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentiric/sentiric-dialer-service/internal/ami"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
	"github.com/sentiric/sentiric-dialer-service/internal/metrics"
)

// Store, dispatcher'ın ihtiyaç duyduğu kalıcılık alt kümesidir.
// *database.Store bunu sağlar; testler sahte store kullanır.
type Store interface {
	GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, status domain.CampaignStatus) error
	NextPendingContact(ctx context.Context, campaignID int64) (*domain.Contact, error)
	SetContactStatus(ctx context.Context, contactID int64, status domain.ContactStatus) error
	IncrementContactAttempts(ctx context.Context, contactID int64) error
	RecordContactOutcome(ctx context.Context, contact *domain.Contact, outcome domain.ContactStatus) error
	CreateCall(ctx context.Context, call *domain.Call) error
	FinishCall(ctx context.Context, callID string, status domain.CallStatus, recordingPath string) error
}

// Telephony, çağrı başlatma/kapatma için telefon platformu soyutlamasıdır.
// *ami.Client bunu sağlar.
type Telephony interface {
	Originate(ctx context.Context, number, callID string, campaignID int64) error
	Hangup(ctx context.Context, channel string)
}

// Publisher, yaşam döngüsü olaylarını dış dünyaya duyurur.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, body interface{}) error
}

// Ayarlar, testlerde kısa sürelerle çalışabilmek için ayrı bir struct'tır.
type Settings struct {
	MaxConcurrentCalls int
	AnswerTimeout      time.Duration
	DispatchBackoff    time.Duration
}

// Cevaplama zamanlayıcısının üç durumu: bekliyor, ateşlendi, iptal edildi.
// Geçişler dispatcher kilidi altında yapılır; "ateşlendi" ve "iptal edildi"
// birbirini dışlar, böylece zaman aşımı işlemi en fazla bir kez koşar.
type timerState int

const (
	timerPending timerState = iota
	timerFired
	timerCancelled
)

// callHandler, tek bir aktif çağrının yuva (slot) kaydıdır. Anahtar telefon
// numarasıdır; aynı numara için aynı anda en fazla bir handler bulunur.
type callHandler struct {
	callID   string
	contact  *domain.Contact
	channel  string
	answered bool
	timerSt  timerState
	timer    *time.Timer
}

// LifecycleEvent, RabbitMQ'ya yayınlanan çağrı yaşam döngüsü olayıdır.
type LifecycleEvent struct {
	EventType  constants.EventType `json:"eventType"`
	CallID     string              `json:"callId"`
	CampaignID int64               `json:"campaignId"`
	ContactID  int64               `json:"contactId"`
	Number     string              `json:"number"`
	Cause      string              `json:"cause,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Dispatcher, kampanya kuyruğunu eşzamanlılık tavanına uyarak boşaltır.
//
// Tüm yuva tablosu mutasyonları (dispatch / cevap / zaman aşımı / serbest
// bırakma) tek bir mutex altında yapılır. Aktif sayaç hiçbir zaman tavanı
// aşamaz ve hiçbir zaman sıfırın altına inemez.
type Dispatcher struct {
	settings Settings
	store    Store
	tel      Telephony
	pub      Publisher
	log      zerolog.Logger

	baseCtx context.Context

	mu             sync.Mutex
	active         int
	handlers       map[string]*callHandler // anahtar: telefon numarası
	campaignActive map[int64]int
	running        map[int64]bool
}

func New(baseCtx context.Context, settings Settings, store Store, tel Telephony, pub Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		settings:       settings,
		store:          store,
		tel:            tel,
		pub:            pub,
		log:            log.With().Str("component", "dispatcher").Logger(),
		baseCtx:        baseCtx,
		handlers:       make(map[string]*callHandler),
		campaignActive: make(map[int64]int),
		running:        make(map[int64]bool),
	}
}

// ActiveCalls, anlık aktif çağrı sayısını döndürür.
func (d *Dispatcher) ActiveCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// AnswerFromAgi, cevaplanan AGI bacağını yuva kaydıyla eşler ve cevabı işler:
// zamanlayıcı iptal edilir, çağrı cevaplandı olarak işaretlenir. AGI bacağının
// gelişi cevabın kendisidir; AMI olay sırası ne olursa olsun bu yol çağrıyı
// cevapsız sayılmaktan kurtarır. Zamanlayıcı çoktan ateşlendiyse bacak geç
// kalmıştır ve ok=false döner.
func (d *Dispatcher) AnswerFromAgi(ctx context.Context, number, channel string) (callID string, contact *domain.Contact, ok bool) {
	callID, contact, first, ok := d.markAnswered(number, channel)
	if !ok {
		return "", nil, false
	}
	if first {
		d.log.Info().Str("call_id", callID).Str("number", number).Str("channel", channel).Msg("✅ Çağrı cevaplandı (AGI bacağı).")
		metrics.CallsTotal.WithLabelValues("answered").Inc()
		d.publish(ctx, constants.EventCallAnswered, callID, contact, "")
	}
	return callID, contact, true
}

// StartCampaign, kampanyayı "running" durumuna alır ve kuyruk boşaltmayı
// başlatır. Zaten koşan bir kampanya için tekrar çağrılması zararsızdır.
func (d *Dispatcher) StartCampaign(ctx context.Context, campaignID int64) error {
	campaign, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == domain.CampaignCompleted {
		d.log.Warn().Int64("campaign_id", campaignID).Msg("Tamamlanmış kampanya yeniden başlatılamaz.")
		return nil
	}

	d.mu.Lock()
	alreadyRunning := d.running[campaignID]
	d.running[campaignID] = true
	d.mu.Unlock()

	if err := d.store.SetCampaignStatus(ctx, campaignID, domain.CampaignRunning); err != nil {
		return err
	}
	d.log.Info().Int64("campaign_id", campaignID).Str("name", campaign.Name).Msg("🚀 Kampanya başlatıldı, kuyruk boşaltılıyor.")

	if !alreadyRunning {
		// Tavana kadar paralel boşaltma: her dispatchNext tek yuva doldurur.
		for i := 0; i < d.settings.MaxConcurrentCalls; i++ {
			go d.dispatchNext(campaignID)
		}
	}
	return nil
}

// PauseCampaign, yeni çağrı başlatmayı durdurur; süren çağrılar doğal
// akışlarıyla biter.
func (d *Dispatcher) PauseCampaign(ctx context.Context, campaignID int64) error {
	d.mu.Lock()
	delete(d.running, campaignID)
	d.mu.Unlock()

	d.log.Info().Int64("campaign_id", campaignID).Msg("⏸️ Kampanya duraklatıldı, süren çağrılar tamamlanacak.")
	return d.store.SetCampaignStatus(ctx, campaignID, domain.CampaignPaused)
}

// StopCampaign, kampanyayı durdurur ve süren çağrıları koparır.
func (d *Dispatcher) StopCampaign(ctx context.Context, campaignID int64) error {
	d.mu.Lock()
	delete(d.running, campaignID)
	var channels []string
	for _, h := range d.handlers {
		if h.contact.CampaignID == campaignID && h.channel != "" {
			channels = append(channels, h.channel)
		}
	}
	d.mu.Unlock()

	for _, ch := range channels {
		d.tel.Hangup(ctx, ch)
	}
	d.log.Info().Int64("campaign_id", campaignID).Int("dropped_calls", len(channels)).Msg("⏹️ Kampanya durduruldu.")
	return d.store.SetCampaignStatus(ctx, campaignID, domain.CampaignPaused)
}

// dispatchNext, tek bir yuva doldurmayı dener: kampanya koşuyorsa ve tavanın
// altındaysa sıradaki kontağı çevirir. Tavandaysa geri çekilme süresi sonunda
// yeniden dener. Kuyruk boşsa ve süren çağrı kalmadıysa kampanyayı tam olarak
// bir kez "completed" yapar.
func (d *Dispatcher) dispatchNext(campaignID int64) {
	ctx := d.baseCtx

	d.mu.Lock()
	if !d.running[campaignID] {
		d.mu.Unlock()
		return
	}
	// Sayaç hiçbir koşulda negatif kalmaz.
	if d.active < 0 {
		d.log.Error().Int("active", d.active).Msg("Aktif çağrı sayacı negatif bulundu, sıfıra çekildi.")
		d.active = 0
	}
	if d.active >= d.settings.MaxConcurrentCalls {
		d.mu.Unlock()
		time.AfterFunc(d.settings.DispatchBackoff, func() { d.dispatchNext(campaignID) })
		return
	}
	d.mu.Unlock()

	contact, err := d.store.NextPendingContact(ctx, campaignID)
	if err != nil {
		d.log.Error().Err(err).Int64("campaign_id", campaignID).Msg("Kontak kuyruğu okunamadı, geri çekilme sonrası yeniden denenecek.")
		time.AfterFunc(d.settings.DispatchBackoff, func() { d.dispatchNext(campaignID) })
		return
	}
	if contact == nil {
		d.maybeCompleteCampaign(ctx, campaignID)
		return
	}

	// Yuvayı ayır. Tavan ve numara tekilliği son kez kilit altında doğrulanır;
	// kuyruk sorgusu sırasında başka bir goroutine yuvayı kapmış olabilir.
	callID := uuid.New().String()
	d.mu.Lock()
	if !d.running[campaignID] || d.active >= d.settings.MaxConcurrentCalls {
		d.mu.Unlock()
		return
	}
	if _, exists := d.handlers[contact.PhoneNumber]; exists {
		d.mu.Unlock()
		d.log.Warn().Str("number", contact.PhoneNumber).Msg("Numara için zaten aktif bir çağrı var, kontak atlandı.")
		time.AfterFunc(d.settings.DispatchBackoff, func() { d.dispatchNext(campaignID) })
		return
	}
	h := &callHandler{callID: callID, contact: contact, timerSt: timerPending}
	h.timer = time.AfterFunc(d.settings.AnswerTimeout, func() { d.answerTimeout(contact.PhoneNumber) })
	d.handlers[contact.PhoneNumber] = h
	d.active++
	d.campaignActive[campaignID]++
	d.mu.Unlock()
	metrics.ActiveCalls.Inc()

	if err := d.store.SetContactStatus(ctx, contact.ID, domain.ContactCalling); err != nil {
		d.log.Error().Err(err).Int64("contact_id", contact.ID).Msg("Kontak 'calling' durumuna alınamadı.")
	}
	if err := d.store.IncrementContactAttempts(ctx, contact.ID); err != nil {
		d.log.Error().Err(err).Int64("contact_id", contact.ID).Msg("Deneme sayacı artırılamadı.")
	}
	if err := d.store.CreateCall(ctx, &domain.Call{
		ID:         callID,
		ContactID:  contact.ID,
		CampaignID: campaignID,
		Status:     domain.CallRinging,
		StartedAt:  time.Now().UTC(),
	}); err != nil {
		d.log.Error().Err(err).Str("call_id", callID).Msg("Çağrı kaydı açılamadı.")
	}

	d.log.Info().
		Str("call_id", callID).
		Int64("campaign_id", campaignID).
		Str("number", contact.PhoneNumber).
		Msg("📞 Çağrı başlatılıyor...")

	if err := d.tel.Originate(ctx, contact.PhoneNumber, callID, campaignID); err != nil {
		// Başlatma hatası kuyruğu durdurmaz: kontak işaretlenir, yuva geri
		// verilir ve sıradaki kontağa geçilir.
		d.log.Error().Err(err).Str("number", contact.PhoneNumber).Msg("Çağrı başlatılamadı, kontak 'failed' olarak işaretleniyor.")
		metrics.CallsTotal.WithLabelValues("originate_error").Inc()
		d.finalize(ctx, contact.PhoneNumber, domain.ContactFailed, domain.CallFailed, constants.EventCallFailed, err.Error())
		return
	}

	metrics.CallsTotal.WithLabelValues("originated").Inc()
	d.publish(ctx, constants.EventCallOriginated, callID, contact, "")
}

// maybeCompleteCampaign, kuyruk boşaldığında çağrılır. Süren çağrı kalmadıysa
// kampanyayı bir kez tamamlar; kalan çağrılar bittiğinde serbest bırakma
// yolu buraya tekrar uğrar.
func (d *Dispatcher) maybeCompleteCampaign(ctx context.Context, campaignID int64) {
	d.mu.Lock()
	if !d.running[campaignID] || d.campaignActive[campaignID] > 0 {
		d.mu.Unlock()
		return
	}
	delete(d.running, campaignID)
	delete(d.campaignActive, campaignID)
	d.mu.Unlock()

	if err := d.store.SetCampaignStatus(ctx, campaignID, domain.CampaignCompleted); err != nil {
		d.log.Error().Err(err).Int64("campaign_id", campaignID).Msg("Kampanya 'completed' durumuna alınamadı.")
		return
	}
	d.log.Info().Int64("campaign_id", campaignID).Msg("✅ Kampanya kuyruğu boşaldı, kampanya tamamlandı.")
}

// answerTimeout, cevaplama süresi dolduğunda koşar. Zamanlayıcı bu noktaya
// kadar iptal edilmediyse "ateşlendi" durumuna geçer ve çağrı cevapsız sayılır.
func (d *Dispatcher) answerTimeout(number string) {
	ctx := d.baseCtx

	d.mu.Lock()
	h, ok := d.handlers[number]
	if !ok || h.timerSt != timerPending {
		d.mu.Unlock()
		return
	}
	h.timerSt = timerFired
	channel := h.channel
	d.mu.Unlock()

	d.log.Info().Str("number", number).Dur("timeout", d.settings.AnswerTimeout).Msg("⏰ Cevaplama süresi doldu, çağrı cevapsız sayılıyor.")
	if channel != "" {
		d.tel.Hangup(ctx, channel)
	}
	metrics.CallsTotal.WithLabelValues("no_answer").Inc()
	d.finalize(ctx, number, domain.ContactNoAnswer, domain.CallFailed, constants.EventCallNoAnswer, "answer timeout")
}

// HandleAnswered, telefon platformu çağrının açıldığını bildirdiğinde koşar.
// Zamanlayıcıyı iptal eder; zamanlayıcı çoktan ateşlendiyse cevap geç kalmıştır
// ve çağrı cevapsız akışında kalır.
func (d *Dispatcher) HandleAnswered(ctx context.Context, ev ami.Event) {
	callID, contact, first, ok := d.markAnswered(ev.Number, ev.Channel)
	if !ok || !first {
		return
	}
	d.log.Info().Str("call_id", callID).Str("number", ev.Number).Str("channel", ev.Channel).Msg("✅ Çağrı cevaplandı.")
	metrics.CallsTotal.WithLabelValues("answered").Inc()
	d.publish(ctx, constants.EventCallAnswered, callID, contact, "")
}

// markAnswered, cevabı yuva kaydına işler ve zamanlayıcıyı iptal eder.
// first, cevabın bu çağrı için ilk kez işlendiğini söyler; ok=false ise yuva
// yoktur ya da cevap zaman aşımından sonra gelmiştir. Cevap hem AMI olayından
// hem AGI bacağından gelebilir; hangisi önce ulaşırsa zamanlayıcıyı o keser.
func (d *Dispatcher) markAnswered(number, channel string) (callID string, contact *domain.Contact, first, ok bool) {
	d.mu.Lock()
	h, exists := d.handlers[number]
	if !exists {
		d.mu.Unlock()
		return "", nil, false, false
	}
	if h.timerSt == timerFired {
		d.mu.Unlock()
		d.log.Warn().Str("number", number).Msg("Cevap, zaman aşımından sonra geldi; yok sayılıyor.")
		return "", nil, false, false
	}
	if h.timerSt == timerPending {
		h.timerSt = timerCancelled
		h.timer.Stop()
	}
	first = !h.answered
	h.answered = true
	if channel != "" && h.channel == "" {
		h.channel = channel
	}
	callID = h.callID
	contact = h.contact
	d.mu.Unlock()
	return callID, contact, first, true
}

// HandleEnded, kanal kapandığında koşar. Çağrı cevaplanmışsa sonuç
// "completed"dır; cevaplanmadan kapanan kanal başarısız bir denemedir.
func (d *Dispatcher) HandleEnded(ctx context.Context, ev ami.Event) {
	d.mu.Lock()
	h, ok := d.handlers[ev.Number]
	if !ok {
		d.mu.Unlock()
		return
	}
	if h.timerSt == timerPending {
		h.timerSt = timerCancelled
		h.timer.Stop()
	}
	answered := h.answered
	d.mu.Unlock()

	if answered {
		d.CompleteCall(ctx, ev.Number, ev.Cause)
		return
	}
	d.log.Info().Str("number", ev.Number).Str("cause", ev.Cause).Msg("Kanal cevaplanmadan kapandı.")
	metrics.CallsTotal.WithLabelValues("failed").Inc()
	d.finalize(ctx, ev.Number, domain.ContactFailed, domain.CallFailed, constants.EventCallFailed, ev.Cause)
}

// HandleOriginateFailed, platformun çağrıyı hiç kuramadığını bildirdiğinde koşar.
func (d *Dispatcher) HandleOriginateFailed(ctx context.Context, ev ami.Event) {
	d.log.Warn().Str("number", ev.Number).Str("cause", ev.Cause).Msg("Çağrı kurulumu platform tarafından reddedildi.")
	metrics.CallsTotal.WithLabelValues("originate_failed").Inc()
	d.finalize(ctx, ev.Number, domain.ContactFailed, domain.CallFailed, constants.EventCallFailed, ev.Cause)
}

// CompleteCall, cevaplanan bir çağrının doğal sonunu işler. Diyalog motoru
// veya kanal kapanışı tarafından çağrılır; hangisi önce gelirse yuvayı o
// serbest bırakır, ikincisi sessizce düşer.
func (d *Dispatcher) CompleteCall(ctx context.Context, number, cause string) {
	metrics.CallsTotal.WithLabelValues("completed").Inc()
	d.finalize(ctx, number, domain.ContactCompleted, domain.CallCompleted, constants.EventCallCompleted, cause)
}

// finalize, yuvayı serbest bırakıp sonucu kalıcılaştırır ve sıradaki kontağa
// geçer. Handler tablosundan ilk silen kazanır; böylece her yuva tam olarak
// bir kez serbest bırakılır ve sayaç asla negatife inmez.
func (d *Dispatcher) finalize(ctx context.Context, number string, outcome domain.ContactStatus, callStatus domain.CallStatus, eventType constants.EventType, cause string) {
	d.mu.Lock()
	h, ok := d.handlers[number]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.handlers, number)
	if h.timerSt == timerPending {
		h.timerSt = timerCancelled
		h.timer.Stop()
	}
	if d.active > 0 {
		d.active--
	}
	campaignID := h.contact.CampaignID
	if d.campaignActive[campaignID] > 0 {
		d.campaignActive[campaignID]--
	}
	d.mu.Unlock()
	metrics.ActiveCalls.Dec()

	if err := d.store.RecordContactOutcome(ctx, h.contact, outcome); err != nil {
		d.log.Error().Err(err).Int64("contact_id", h.contact.ID).Str("outcome", string(outcome)).Msg("Kontak sonucu kalıcılaştırılamadı.")
	}
	if err := d.store.FinishCall(ctx, h.callID, callStatus, ""); err != nil {
		d.log.Error().Err(err).Str("call_id", h.callID).Msg("Çağrı kaydı kapatılamadı.")
	}
	d.publish(ctx, eventType, h.callID, h.contact, cause)

	d.log.Info().
		Str("call_id", h.callID).
		Str("number", number).
		Str("outcome", string(outcome)).
		Msg("Çağrı yuvası serbest bırakıldı.")

	go d.dispatchNext(campaignID)
}

func (d *Dispatcher) publish(ctx context.Context, eventType constants.EventType, callID string, contact *domain.Contact, cause string) {
	ev := LifecycleEvent{
		EventType:  eventType,
		CallID:     callID,
		CampaignID: contact.CampaignID,
		ContactID:  contact.ID,
		Number:     contact.PhoneNumber,
		Cause:      cause,
		Timestamp:  time.Now().UTC(),
	}
	if err := d.pub.PublishJSON(ctx, string(eventType), ev); err != nil {
		d.log.Error().Err(err).Str("event_type", string(eventType)).Msg("Yaşam döngüsü olayı yayınlanamadı.")
	}
}

// ConsumeTelephonyEvents, köprüden gelen sadeleştirilmiş olayları yuva
// tablosuna uygular. Uygulama kapanana kadar bloklar.
func (d *Dispatcher) ConsumeTelephonyEvents(ctx context.Context, events <-chan ami.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case ami.EventAnswered:
				d.HandleAnswered(ctx, ev)
			case ami.EventEnded:
				d.HandleEnded(ctx, ev)
			case ami.EventOriginateFailed:
				d.HandleOriginateFailed(ctx, ev)
			}
		}
	}
}
