// sentiric-dialer-service/internal/audio/audio_test.go
package audio

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineBuffer, testler için verilen frekansta bir sinüs sinyali üretir.
func sineBuffer(sampleRate int, freq float64, duration time.Duration, amplitude float64) *goaudio.IntBuffer {
	n := int(float64(sampleRate) * duration.Seconds())
	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
}

func writeTestWav(t *testing.T, name string, buf *goaudio.IntBuffer) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, encodeWavFile(path, buf))
	return path
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return NewPipeline(t.TempDir(), 24*time.Hour, nil, zerolog.Nop())
}

func TestWavRoundTripDuration(t *testing.T) {
	path := writeTestWav(t, "tone.wav", sineBuffer(8000, 440, 500*time.Millisecond, 0.5))

	dur, err := WavDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, dur.Seconds(), 0.01)
}

func TestToMonoAveragesChannels(t *testing.T) {
	stereo := &goaudio.IntBuffer{
		Data:           []int{100, 300, -200, -400},
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 8000},
		SourceBitDepth: 16,
	}

	mono := toMono(stereo)
	assert.Equal(t, 1, mono.Format.NumChannels)
	assert.Equal(t, []int{200, -300}, mono.Data)
}

func TestResampleHalvesSampleCount(t *testing.T) {
	src := sineBuffer(16000, 440, time.Second, 0.5)

	out := resample(src, 8000)
	assert.Equal(t, 8000, out.Format.SampleRate)
	assert.InDelta(t, len(src.Data)/2, len(out.Data), 2)
}

func TestResampleNoOpOnSameRate(t *testing.T) {
	src := sineBuffer(8000, 440, 100*time.Millisecond, 0.5)
	assert.Same(t, src, resample(src, 8000))
}

func TestHasVoiceActivity(t *testing.T) {
	p := newTestPipeline(t)

	speech := writeTestWav(t, "speech.wav", sineBuffer(8000, 300, 300*time.Millisecond, 0.5))
	assert.True(t, p.HasVoiceActivity(speech))

	quiet := sineBuffer(8000, 300, 300*time.Millisecond, 0.001)
	silence := writeTestWav(t, "silence.wav", quiet)
	assert.False(t, p.HasVoiceActivity(silence))
}

func TestHasVoiceActivityInconclusiveDefaultsToTrue(t *testing.T) {
	p := newTestPipeline(t)
	assert.True(t, p.HasVoiceActivity("/yok/boyle/bir/dosya.wav"))
}

func TestEnhanceForTranscriptionWritesNewFile(t *testing.T) {
	p := newTestPipeline(t)
	raw := writeTestWav(t, "turn.wav", sineBuffer(8000, 1000, 300*time.Millisecond, 0.3))

	enhanced := p.EnhanceForTranscription(raw)
	assert.NotEqual(t, raw, enhanced)
	assert.Contains(t, enhanced, "-enhanced.wav")

	// İyileştirilmiş dosya çözülebilir olmalı ve tepe genliği normalize edilmeli.
	buf, err := decodeWavFile(enhanced)
	require.NoError(t, err)
	peak := 0
	for _, s := range buf.Data {
		if a := int(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	assert.Greater(t, peak, 22936) // 32767'nin %70'i
}

func TestEnhanceForTranscriptionFallsBackToRawPath(t *testing.T) {
	p := newTestPipeline(t)
	assert.Equal(t, "/yok/dosya.wav", p.EnhanceForTranscription("/yok/dosya.wav"))
}

func TestTrimSilence(t *testing.T) {
	samples := []float64{0.001, 0.0, 0.5, -0.6, 0.4, 0.001, 0.0}
	trimmed := trimSilence(samples)
	assert.Equal(t, []float64{0.5, -0.6, 0.4}, trimmed)
}

func TestNormalizeLeavesSilenceAlone(t *testing.T) {
	silence := []float64{0, 0, 0}
	assert.Equal(t, silence, normalize(silence))
}

func TestEstimateSpokenDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), EstimateSpokenDuration(""))
	assert.Equal(t, 2*time.Second, EstimateSpokenDuration("bir iki üç dört beş"))

	// Tahmin, gerçek seslendirmenin aynı mertebesinde olmalı.
	est := EstimateSpokenDuration("Merhaba, ben Sentiric satış asistanıyım.")
	assert.Greater(t, est, time.Second)
	assert.Less(t, est, 10*time.Second)
}
