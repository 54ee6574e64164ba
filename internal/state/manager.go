// sentiric-dialer-service/internal/state/manager.go
package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
)

// CallState, bir çağrının yaşam döngüsü boyunca Redis'te saklanan konuşma
// durumunu temsil eder. Diyalog döngüsü her adımda bu durumu yazar; böylece
// çağrı ortasında servis yeniden başlasa bile transkript kaybolmaz.
type CallState struct {
	CallID              string
	CampaignID          int64
	ContactID           int64
	ContactName         string
	PhoneNumber         string
	TalkingPoints       map[string]string
	CurrentState        constants.DialogState
	Turns               []domain.ConversationTurn
	ConsecutiveFailures int
	StartedAt           time.Time
	RecordingPath       string
	AnalysisDone        bool
}

// LastClientText, müşterinin son söylediği metni döndürür; yoksa boş string.
func (st *CallState) LastClientText() string {
	for i := len(st.Turns) - 1; i >= 0; i-- {
		if st.Turns[i].Speaker == domain.SpeakerClient {
			return st.Turns[i].Text
		}
	}
	return ""
}

// AppendTurn, tur geçmişine sıradaki konuşmayı ekler ve eklenen turu döndürür.
func (st *CallState) AppendTurn(speaker domain.Speaker, text, audioPath string, latency time.Duration) domain.ConversationTurn {
	turn := domain.ConversationTurn{
		CallID:    st.CallID,
		Seq:       len(st.Turns) + 1,
		Speaker:   speaker,
		Text:      text,
		AudioPath: audioPath,
		Latency:   latency,
	}
	st.Turns = append(st.Turns, turn)
	return turn
}

type Manager struct {
	rdb *redis.Client
}

func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

func (m *Manager) Get(ctx context.Context, callID string) (*CallState, error) {
	key := "callstate:" + callID
	val, err := m.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st CallState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *Manager) Set(ctx context.Context, st *CallState) error {
	key := "callstate:" + st.CallID
	val, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, key, val, 2*time.Hour).Err()
}

func (m *Manager) Delete(ctx context.Context, callID string) error {
	return m.rdb.Del(ctx, "callstate:"+callID).Err()
}

// AcquireLock, aynı çağrı için yinelenen işlemleri bastırmak amacıyla kısa
// ömürlü bir Redis kilidi alır. true dönerse kilit bize aittir.
func (m *Manager) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, "lock:"+name, "1", ttl).Result()
}
