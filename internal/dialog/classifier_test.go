// sentiric-dialer-service/internal/dialog/classifier_test.go
package dialog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldCloseOnClientFarewell(t *testing.T) {
	c := NewKeywordClassifier()

	assert.True(t, c.ShouldClose("Teşekkürler ama ilgilenmiyorum.", ""))
	assert.True(t, c.ShouldClose("Beni arama lütfen.", ""))
	assert.True(t, c.ShouldClose("Tamam, hoşça kal.", ""))
	assert.False(t, c.ShouldClose("Fiyatlar hakkında bilgi alabilir miyim?", ""))
}

func TestShouldCloseOnBotFarewell(t *testing.T) {
	c := NewKeywordClassifier()

	assert.True(t, c.ShouldClose("", "Anlıyorum, zaman ayırdığınız için teşekkür ederim."))
	assert.True(t, c.ShouldClose("", "İyi günler dilerim, hoşça kalın."))
	assert.False(t, c.ShouldClose("", "Projemiz şehir merkezine on dakika uzaklıkta."))
}

func TestParseIntentExtractsWrappedJSON(t *testing.T) {
	c := NewKeywordClassifier()

	raw := "İşte analiz:\n" +
		`{"interestLevel": 7, "appointmentRequested": true, "scheduledAt": "2026-09-02T14:00:00Z", "notes": "salı uygun"}` +
		"\nUmarım yardımcı olur."
	analysis, err := c.ParseIntent(raw)
	require.NoError(t, err)

	assert.Equal(t, 7, analysis.InterestLevel)
	assert.True(t, analysis.AppointmentRequested)
	assert.Equal(t, "salı uygun", analysis.Notes)

	scheduled := analysis.ScheduledTime()
	require.NotNil(t, scheduled)
	assert.Equal(t, time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC), scheduled.UTC())
}

func TestParseIntentClampsInterestLevel(t *testing.T) {
	c := NewKeywordClassifier()

	analysis, err := c.ParseIntent(`{"interestLevel": 42}`)
	require.NoError(t, err)
	assert.Equal(t, 10, analysis.InterestLevel)

	analysis, err = c.ParseIntent(`{"interestLevel": -3}`)
	require.NoError(t, err)
	assert.Equal(t, 0, analysis.InterestLevel)
}

func TestParseIntentRejectsGarbage(t *testing.T) {
	c := NewKeywordClassifier()

	_, err := c.ParseIntent("analiz üretemedim, üzgünüm")
	assert.Error(t, err)

	_, err = c.ParseIntent(`{"interestLevel": "çok"}`)
	assert.Error(t, err)
}

func TestScheduledTimeInvalidFormatsReturnNil(t *testing.T) {
	assert.Nil(t, (&IntentAnalysis{}).ScheduledTime())
	assert.Nil(t, (&IntentAnalysis{ScheduledAt: "yarın öğleden sonra"}).ScheduledTime())
}
