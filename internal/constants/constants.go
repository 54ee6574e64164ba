package constants

// DialogState, konuşma motorunun durumlarını tanımlar.
type DialogState string

const (
	StateGreeting   DialogState = "GREETING"
	StateListening  DialogState = "LISTENING"
	StateResponding DialogState = "RESPONDING"
	StateClosing    DialogState = "CLOSING"
	StateAnalyzing  DialogState = "ANALYZING"
	StateDone       DialogState = "DONE"
)

// EventType, RabbitMQ olay türlerini tanımlar.
type EventType string

const (
	EventCampaignStart EventType = "campaign.start"
	EventCampaignPause EventType = "campaign.pause"
	EventCampaignStop  EventType = "campaign.stop"

	EventCallOriginated     EventType = "call.originated"
	EventCallAnswered       EventType = "call.answered"
	EventCallCompleted      EventType = "call.completed"
	EventCallFailed         EventType = "call.failed"
	EventCallNoAnswer       EventType = "call.no_answer"
	EventAppointmentCreated EventType = "appointment.created"
)

// TemplateID, veritabanındaki kampanya metni şablonlarını tanımlar.
type TemplateID string

const (
	PromptGreeting      TemplateID = "PROMPT_CAMPAIGN_GREETING"
	PromptSystemSales   TemplateID = "PROMPT_SYSTEM_SALES"
	PromptIntentExtract TemplateID = "PROMPT_INTENT_EXTRACT"
)

// Sabit yedek metinler: harici servisler veya şablon sorguları başarısız
// olduğunda arayan asla sessizlikte bırakılmaz.
const (
	FallbackGreeting = "Merhaba, ben Sentiric satış asistanıyım. Size kısa bir fırsattan bahsetmek için aradım."
	FallbackReprompt = "Üzgünüm, sizi duyamadım. Tekrar eder misiniz?"
	FallbackError    = "Üzgünüm, teknik bir sorun yaşıyoruz."
	FallbackGoodbye  = "Zaman ayırdığınız için teşekkürler, iyi günler dilerim."
)
