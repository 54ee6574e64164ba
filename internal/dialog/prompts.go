// sentiric-dialer-service/internal/dialog/prompts.go
package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentiric/sentiric-dialer-service/internal/client"
	"github.com/sentiric/sentiric-dialer-service/internal/constants"
	"github.com/sentiric/sentiric-dialer-service/internal/ctxlogger"
	"github.com/sentiric/sentiric-dialer-service/internal/domain"
	"github.com/sentiric/sentiric-dialer-service/internal/state"
)

// TemplateStore, şablon sorgusu için asgari kalıcılık yüzeyidir.
type TemplateStore interface {
	GetTemplate(ctx context.Context, templateID, languageCode string) (string, error)
}

// TemplateProvider, kampanya metni şablonlarını veritabanından okur ve
// çağrıya özgü değerlerle doldurur. Şablon bulunamadığında sabit yedek
// metinler devreye girer; arayan hiçbir durumda sessizlikte bırakılmaz.
type TemplateProvider struct {
	store    TemplateStore
	language string
}

func NewTemplateProvider(store TemplateStore, language string) *TemplateProvider {
	return &TemplateProvider{store: store, language: language}
}

// GreetingText, kampanyanın açılış metnini üretir. Şablondaki {contact_name}
// ve {talking_point_*} yer tutucuları kontağın verileriyle doldurulur.
func (tp *TemplateProvider) GreetingText(ctx context.Context, st *state.CallState) string {
	l := ctxlogger.FromContext(ctx)
	tmpl, err := tp.store.GetTemplate(ctx, string(constants.PromptGreeting), tp.language)
	if err != nil {
		l.Warn().Err(err).Msg("Açılış şablonu alınamadı, yedek metin kullanılıyor.")
		return constants.FallbackGreeting
	}
	return tp.substitute(tmpl, st)
}

// SystemPrompt, yanıt üretimi için sistem talimatını üretir.
func (tp *TemplateProvider) SystemPrompt(ctx context.Context, st *state.CallState) string {
	l := ctxlogger.FromContext(ctx)
	tmpl, err := tp.store.GetTemplate(ctx, string(constants.PromptSystemSales), tp.language)
	if err != nil {
		l.Warn().Err(err).Msg("Satış sistem şablonu alınamadı, yedek talimat kullanılıyor.")
		tmpl = "Sen kibar bir satış asistanısın. Kısa ve doğal cevaplar ver. " +
			"Müşteri ilgilenmiyorsa nazikçe vedalaş."
	}
	return tp.substitute(tmpl, st)
}

// IntentPrompt, çağrı sonrası niyet analizi talimatını üretir.
func (tp *TemplateProvider) IntentPrompt(ctx context.Context) string {
	l := ctxlogger.FromContext(ctx)
	tmpl, err := tp.store.GetTemplate(ctx, string(constants.PromptIntentExtract), tp.language)
	if err != nil {
		l.Warn().Err(err).Msg("Niyet analizi şablonu alınamadı, yedek talimat kullanılıyor.")
		tmpl = "Aşağıdaki satış görüşmesi transkriptini analiz et ve YALNIZCA şu JSON'u döndür: " +
			`{"interestLevel": 0-10 arası tamsayı, "appointmentRequested": bool, ` +
			`"scheduledAt": "ISO-8601 veya boş", "notes": "kısa özet"}`
	}
	return tmpl
}

func (tp *TemplateProvider) substitute(tmpl string, st *state.CallState) string {
	out := strings.ReplaceAll(tmpl, "{contact_name}", st.ContactName)
	for key, value := range st.TalkingPoints {
		out = strings.ReplaceAll(out, "{talking_point_"+key+"}", value)
	}
	return out
}

// buildHistory, tur geçmişini LLM mesaj biçimine çevirir.
func buildHistory(st *state.CallState) []client.ChatMessage {
	history := make([]client.ChatMessage, 0, len(st.Turns))
	for _, turn := range st.Turns {
		role := "user"
		if turn.Speaker == domain.SpeakerBot {
			role = "assistant"
		}
		history = append(history, client.ChatMessage{Role: role, Content: turn.Text})
	}
	return history
}

// buildTranscript, niyet analizine verilecek düz metin transkripti üretir.
func buildTranscript(st *state.CallState) string {
	var b strings.Builder
	for _, turn := range st.Turns {
		speaker := "Müşteri"
		if turn.Speaker == domain.SpeakerBot {
			speaker = "Asistan"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}
	return b.String()
}
