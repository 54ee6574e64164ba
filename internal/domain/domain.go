// sentiric-dialer-service/internal/domain/domain.go
package domain

import (
	"time"
)

// CampaignStatus, bir kampanyanın yaşam döngüsü durumlarını tanımlar.
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// ContactStatus, tek bir kontağın arama durumunu tanımlar.
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactCalling   ContactStatus = "calling"
	ContactCompleted ContactStatus = "completed"
	ContactFailed    ContactStatus = "failed"
	ContactNoAnswer  ContactStatus = "no_answer"
)

// CallStatus, tek bir telefon denemesinin durumunu tanımlar.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
)

// Campaign, bir dış arama kampanyasını temsil eder. İçe aktarma (import)
// dışarıdan yapılır; bu servis yalnızca durum ve sayaçları günceller.
type Campaign struct {
	ID             int64
	Name           string
	Status         CampaignStatus
	CompletedCalls int
	FailedCalls    int
	PendingCalls   int
	Appointments   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Contact, kampanyaya bağlı tek bir aranacak kişiyi temsil eder.
// TalkingPoints, kampanyaya özgü serbest biçimli satış bilgileridir
// (konum, fiyat, avantajlar vb.) ve LLM bağlamına aynen geçirilir.
type Contact struct {
	ID            int64
	CampaignID    int64
	PhoneNumber   string
	Name          string
	TalkingPoints map[string]string
	Status        ContactStatus
	Attempts      int
}

// Call, bir kontağa yapılan tek bir telefon denemesini temsil eder.
type Call struct {
	ID            string
	ContactID     int64
	CampaignID    int64
	Channel       string
	Bridge        string
	Status        CallStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	RecordingPath string
}

// Speaker, bir konuşma turundaki konuşmacıyı tanımlar.
type Speaker string

const (
	SpeakerBot    Speaker = "bot"
	SpeakerClient Speaker = "client"
)

// ConversationTurn, çağrı içindeki tek bir konuşma turudur. Çağrı başına
// yalnızca eklenir (append-only) ve çağrı sonrası niyet analizinde tüketilir.
type ConversationTurn struct {
	CallID    string
	Seq       int
	Speaker   Speaker
	Text      string
	AudioPath string
	Latency   time.Duration
}

// Appointment, çağrı sonrası analiz ilgi/anlaşma tespit ettiğinde üretilir.
// Sahipliği anında kalıcılık katmanına geçer.
type Appointment struct {
	CallID        string
	ContactID     int64
	CampaignID    int64
	ScheduledAt   *time.Time
	InterestLevel int
	Notes         string
}
