// sentiric-dialer-service/internal/dispatcher/dispatcher_test.go
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiric/sentiric-dialer-service/internal/ami"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
)

type fakeStore struct {
	mu             sync.Mutex
	campaign       *domain.Campaign
	contacts       []*domain.Contact
	outcomes       map[int64]domain.ContactStatus
	statusHistory  []domain.CampaignStatus
	completedCount int
	finishedCalls  map[string]domain.CallStatus
	createdCalls   int
	queryErr       error
}

func newFakeStore(contacts ...*domain.Contact) *fakeStore {
	return &fakeStore{
		campaign:      &domain.Campaign{ID: 1, Name: "test", Status: domain.CampaignPending},
		contacts:      contacts,
		outcomes:      make(map[int64]domain.ContactStatus),
		finishedCalls: make(map[string]domain.CallStatus),
	}
}

func (s *fakeStore) GetCampaign(_ context.Context, id int64) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.campaign
	return &c, nil
}

func (s *fakeStore) SetCampaignStatus(_ context.Context, id int64, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaign.Status = status
	s.statusHistory = append(s.statusHistory, status)
	if status == domain.CampaignCompleted {
		s.completedCount++
	}
	return nil
}

func (s *fakeStore) NextPendingContact(_ context.Context, campaignID int64) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	for _, c := range s.contacts {
		if c.Status == domain.ContactPending {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SetContactStatus(_ context.Context, contactID int64, status domain.ContactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == contactID {
			c.Status = status
		}
	}
	return nil
}

func (s *fakeStore) IncrementContactAttempts(_ context.Context, contactID int64) error { return nil }

func (s *fakeStore) RecordContactOutcome(_ context.Context, contact *domain.Contact, outcome domain.ContactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[contact.ID] = outcome
	for _, c := range s.contacts {
		if c.ID == contact.ID {
			c.Status = outcome
		}
	}
	return nil
}

func (s *fakeStore) CreateCall(_ context.Context, call *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdCalls++
	return nil
}

func (s *fakeStore) FinishCall(_ context.Context, callID string, status domain.CallStatus, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedCalls[callID] = status
	return nil
}

func (s *fakeStore) outcomeOf(contactID int64) domain.ContactStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[contactID]
}

func (s *fakeStore) completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedCount
}

func (s *fakeStore) campaignStatus() domain.CampaignStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaign.Status
}

type fakeTelephony struct {
	mu         sync.Mutex
	originated []string
	hangups    []string
	failFor    map[string]error
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{failFor: make(map[string]error)}
}

func (t *fakeTelephony) Originate(_ context.Context, number, callID string, campaignID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failFor[number]; ok {
		return err
	}
	t.originated = append(t.originated, number)
	return nil
}

func (t *fakeTelephony) Hangup(_ context.Context, channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups = append(t.hangups, channel)
}

func (t *fakeTelephony) originatedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.originated)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) PublishJSON(_ context.Context, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *fakePublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == routingKey {
			n++
		}
	}
	return n
}

func contact(id int64, number string) *domain.Contact {
	return &domain.Contact{ID: id, CampaignID: 1, PhoneNumber: number, Name: fmt.Sprintf("Kişi %d", id), Status: domain.ContactPending}
}

func newTestDispatcher(t *testing.T, store *fakeStore, tel *fakeTelephony, settings Settings) (*Dispatcher, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	d := New(context.Background(), settings, store, tel, pub, zerolog.Nop())
	return d, pub
}

func defaultSettings() Settings {
	return Settings{
		MaxConcurrentCalls: 2,
		AnswerTimeout:      time.Second,
		DispatchBackoff:    20 * time.Millisecond,
	}
}

func TestDispatcherHonorsConcurrencyCap(t *testing.T) {
	store := newFakeStore(contact(1, "9051"), contact(2, "9052"), contact(3, "9053"))
	tel := newFakeTelephony()
	d, _ := newTestDispatcher(t, store, tel, defaultSettings())

	require.NoError(t, d.StartCampaign(context.Background(), 1))

	assert.Eventually(t, func() bool { return tel.originatedCount() == 2 }, time.Second, 5*time.Millisecond)

	// Tavan doluyken üçüncü kontak asla aranmaz.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, tel.originatedCount())
	assert.Equal(t, 2, d.ActiveCalls())

	// Bir çağrı tamamlanınca yuva üçüncü kontağa geçer.
	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})
	d.CompleteCall(context.Background(), "9051", "dialog completed")

	assert.Eventually(t, func() bool { return tel.originatedCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ContactCompleted, store.outcomeOf(1))
}

func TestDispatcherCompletesCampaignExactlyOnce(t *testing.T) {
	store := newFakeStore(contact(1, "9051"), contact(2, "9052"))
	tel := newFakeTelephony()
	d, pub := newTestDispatcher(t, store, tel, defaultSettings())

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 2 }, time.Second, 5*time.Millisecond)

	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})
	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9052", Channel: "PJSIP/9052-1"})
	d.CompleteCall(context.Background(), "9051", "dialog completed")
	d.CompleteCall(context.Background(), "9052", "dialog completed")

	assert.Eventually(t, func() bool { return store.completed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, d.ActiveCalls())
	assert.Equal(t, 2, pub.count("call.completed"))

	// Geç gelen ikinci bir tamamlama yuva tablosunda karşılık bulmaz.
	d.CompleteCall(context.Background(), "9051", "duplicate")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.completed())
	assert.Equal(t, 0, d.ActiveCalls())
}

func TestDispatcherOriginateFailureContinuesQueue(t *testing.T) {
	store := newFakeStore(contact(1, "9051"), contact(2, "9052"))
	tel := newFakeTelephony()
	tel.failFor["9051"] = fmt.Errorf("platform reddetti")
	settings := defaultSettings()
	settings.MaxConcurrentCalls = 1
	d, pub := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))

	// Başarısız kontak işaretlenir, kuyruk ikinci kontağa ilerler.
	assert.Eventually(t, func() bool {
		return store.outcomeOf(1) == domain.ContactFailed && tel.originatedCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return pub.count("call.failed") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.ActiveCalls())
}

func TestDispatcherAnswerTimeout(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	settings := defaultSettings()
	settings.AnswerTimeout = 30 * time.Millisecond
	d, pub := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))

	assert.Eventually(t, func() bool {
		return store.outcomeOf(1) == domain.ContactNoAnswer
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return d.ActiveCalls() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.count("call.no_answer"))

	// Zaman aşımından sonra gelen cevap yok sayılır, sayaç negatife inmez.
	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})
	d.CompleteCall(context.Background(), "9051", "late")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, d.ActiveCalls())
	assert.Equal(t, domain.ContactNoAnswer, store.outcomeOf(1))
}

func TestDispatcherAnswerCancelsTimeout(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	settings := defaultSettings()
	settings.AnswerTimeout = 40 * time.Millisecond
	d, _ := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 1 }, time.Second, 5*time.Millisecond)

	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})

	// Zamanlayıcı iptal edildi: süre geçse bile çağrı cevapsız sayılmaz.
	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, domain.ContactNoAnswer, store.outcomeOf(1))
	assert.Equal(t, 1, d.ActiveCalls())
}

func TestDispatcherEndedBeforeAnswerIsFailure(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	d, pub := newTestDispatcher(t, store, tel, defaultSettings())

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 1 }, time.Second, 5*time.Millisecond)

	d.HandleEnded(context.Background(), ami.Event{Kind: ami.EventEnded, Number: "9051", Cause: "Busy"})

	assert.Eventually(t, func() bool {
		return store.outcomeOf(1) == domain.ContactFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pub.count("call.failed"))
}

func TestDispatcherPauseStopsDispatching(t *testing.T) {
	store := newFakeStore(contact(1, "9051"), contact(2, "9052"))
	tel := newFakeTelephony()
	settings := defaultSettings()
	settings.MaxConcurrentCalls = 1
	d, _ := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.PauseCampaign(context.Background(), 1))
	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})
	d.CompleteCall(context.Background(), "9051", "dialog completed")

	// Duraklatılan kampanya için ikinci kontak aranmaz.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, tel.originatedCount())
	assert.Equal(t, domain.CampaignPaused, store.campaignStatus())
}

func TestAnswerFromAgiCancelsTimeout(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	settings := defaultSettings()
	settings.AnswerTimeout = 40 * time.Millisecond
	d, pub := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 1 }, time.Second, 5*time.Millisecond)

	// AGI bacağının gelişi cevaptır: AMI olayı hiç gelmese bile zamanlayıcı kesilir.
	callID, c, ok := d.AnswerFromAgi(context.Background(), "9051", "PJSIP/9051-1")
	require.True(t, ok)
	assert.NotEmpty(t, callID)
	assert.Equal(t, int64(1), c.ID)

	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, domain.ContactNoAnswer, store.outcomeOf(1))
	assert.Equal(t, 1, d.ActiveCalls())
	assert.Equal(t, 1, pub.count("call.answered"))

	_, _, ok = d.AnswerFromAgi(context.Background(), "bilinmeyen", "")
	assert.False(t, ok)
}

func TestAnswerFromAgiAfterAmiEventPublishesOnce(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	d, pub := newTestDispatcher(t, store, tel, defaultSettings())

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool { return tel.originatedCount() == 1 }, time.Second, 5*time.Millisecond)

	d.HandleAnswered(context.Background(), ami.Event{Kind: ami.EventAnswered, Number: "9051", Channel: "PJSIP/9051-1"})
	_, _, ok := d.AnswerFromAgi(context.Background(), "9051", "PJSIP/9051-1")
	require.True(t, ok)

	// İki cevap yolu da koşsa yaşam döngüsü olayı bir kez yayınlanır.
	assert.Equal(t, 1, pub.count("call.answered"))
	assert.Equal(t, 1, d.ActiveCalls())
}

func TestAnswerFromAgiAfterTimeoutIsRejected(t *testing.T) {
	store := newFakeStore(contact(1, "9051"))
	tel := newFakeTelephony()
	settings := defaultSettings()
	settings.AnswerTimeout = 30 * time.Millisecond
	d, _ := newTestDispatcher(t, store, tel, settings)

	require.NoError(t, d.StartCampaign(context.Background(), 1))
	assert.Eventually(t, func() bool {
		return store.outcomeOf(1) == domain.ContactNoAnswer
	}, time.Second, 5*time.Millisecond)

	_, _, ok := d.AnswerFromAgi(context.Background(), "9051", "PJSIP/9051-1")
	assert.False(t, ok)
}
