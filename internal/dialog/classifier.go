// sentiric-dialer-service/internal/dialog/classifier.go
package dialog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IntentAnalysis, çağrı sonrası analizin yapılandırılmış çıktısıdır.
type IntentAnalysis struct {
	InterestLevel        int    `json:"interestLevel"`
	AppointmentRequested bool   `json:"appointmentRequested"`
	ScheduledAt          string `json:"scheduledAt,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

// ScheduledTime, varsa önerilen randevu zamanını çözümler.
func (ia *IntentAnalysis) ScheduledTime() *time.Time {
	if ia.ScheduledAt == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ia.ScheduledAt)
	if err != nil {
		return nil
	}
	return &t
}

// Classifier, konuşmanın kapanıp kapanmayacağına ve analiz çıktısının
// çözümlenmesine karar verir. Varsayılan uygulama anahtar kelime tabanlıdır;
// LLM tabanlı bir sınıflandırıcı aynı arayüzle takılabilir.
type Classifier interface {
	ShouldClose(clientText, botReply string) bool
	ParseIntent(raw string) (*IntentAnalysis, error)
}

// closingPhrases, müşteri tarafında konuşmayı bitirme niyeti taşıyan kalıplar.
var closingPhrases = []string{
	"hoşça kal",
	"hoşçakal",
	"görüşürüz",
	"görüşmek üzere",
	"ilgilenmiyorum",
	"istemiyorum",
	"beni arama",
	"bir daha arama",
	"müsait değilim",
	"kapatıyorum",
	"iyi günler",
	"iyi akşamlar",
}

// farewellMarkers, asistanın kendi yanıtında vedalaştığını gösteren kalıplar.
var farewellMarkers = []string{
	"iyi günler dilerim",
	"hoşça kalın",
	"görüşmek üzere",
	"zaman ayırdığınız için teşekkür",
}

// KeywordClassifier, anahtar kelime eşleme ile çalışan varsayılan
// sınıflandırıcıdır.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// ShouldClose, müşterinin son sözü veya asistanın ürettiği yanıt vedalaşma
// içeriyorsa true döner.
func (c *KeywordClassifier) ShouldClose(clientText, botReply string) bool {
	clientLower := strings.ToLower(clientText)
	for _, phrase := range closingPhrases {
		if strings.Contains(clientLower, phrase) {
			return true
		}
	}
	replyLower := strings.ToLower(botReply)
	for _, marker := range farewellMarkers {
		if strings.Contains(replyLower, marker) {
			return true
		}
	}
	return false
}

// ParseIntent, LLM çıktısındaki ilk JSON nesnesini toleranslı biçimde ayıklar.
// Modeller JSON'u çoğu zaman açıklama metniyle sarar; yalnızca küme parantezi
// aralığı çözümlenir.
func (c *KeywordClassifier) ParseIntent(raw string) (*IntentAnalysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("analiz çıktısında JSON nesnesi bulunamadı")
	}

	var analysis IntentAnalysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("analiz çıktısı çözümlenemedi: %w", err)
	}
	if analysis.InterestLevel < 0 {
		analysis.InterestLevel = 0
	}
	if analysis.InterestLevel > 10 {
		analysis.InterestLevel = 10
	}
	return &analysis, nil
}
