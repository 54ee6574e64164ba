// sentiric-dialer-service/internal/audio/enhance.go
package audio

import (
	"math"
	"strings"

	goaudio "github.com/go-audio/audio"
)

// Telefon ses bandı: insan konuşması için 300–3400 Hz aralığı yeterlidir;
// bandın dışı transkripsiyon için yalnızca gürültüdür.
const (
	highpassCutoffHz = 300.0
	lowpassCutoffHz  = 3400.0

	// Sessizlik kırpma eşiği, 16-bit tam ölçeğin oranı olarak.
	trimThresholdRatio = 0.02
)

// EnhanceForTranscription, kaydı transkripsiyon öncesi iyileştirir: telefon
// bandına filtreler, tepe değerine göre normalize eder ve baş/son sessizliği
// kırpar. Sonuç ayrı bir dosyaya yazılır ve onun yolu döner. Herhangi bir adım
// başarısız olursa bu ölümcül DEĞİLDİR; ham kaydın yolu geri döner ve tur
// iyileştirilmemiş sesle devam eder.
func (p *Pipeline) EnhanceForTranscription(path string) string {
	buf, err := decodeWavFile(path)
	if err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("Kayıt çözülemedi, iyileştirme atlanıyor.")
		return path
	}

	buf = toMono(buf)
	samples := toFloat(buf)
	samples = bandpass(samples, float64(buf.Format.SampleRate))
	samples = normalize(samples)
	samples = trimSilence(samples)
	if len(samples) == 0 {
		p.log.Warn().Str("path", path).Msg("İyileştirme sonrası ses kalmadı, ham kayıt kullanılacak.")
		return path
	}

	enhanced := &goaudio.IntBuffer{
		Data:           fromFloat(samples),
		Format:         buf.Format,
		SourceBitDepth: 16,
	}

	outPath := strings.TrimSuffix(path, ".wav") + "-enhanced.wav"
	if err := encodeWavFile(outPath, enhanced); err != nil {
		p.log.Warn().Err(err).Str("path", outPath).Msg("İyileştirilmiş kayıt yazılamadı, ham kayıt kullanılacak.")
		return path
	}
	return outPath
}

func toFloat(buf *goaudio.IntBuffer) []float64 {
	out := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float64(s) / 32768.0
	}
	return out
}

func fromFloat(samples []float64) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int(v)
	}
	return out
}

// bandpass, birinci dereceden bir yüksek geçiren + alçak geçiren filtre
// çiftiyle sinyali telefon bandına daraltır.
func bandpass(samples []float64, sampleRate float64) []float64 {
	if len(samples) == 0 {
		return samples
	}

	// Yüksek geçiren (DC ve düşük frekans uğultusunu atar).
	rcHigh := 1.0 / (2 * math.Pi * highpassCutoffHz)
	dt := 1.0 / sampleRate
	alphaHigh := rcHigh / (rcHigh + dt)
	high := make([]float64, len(samples))
	high[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		high[i] = alphaHigh * (high[i-1] + samples[i] - samples[i-1])
	}

	// Alçak geçiren (band üstü tıslamayı atar).
	rcLow := 1.0 / (2 * math.Pi * lowpassCutoffHz)
	alphaLow := dt / (rcLow + dt)
	out := make([]float64, len(high))
	out[0] = high[0]
	for i := 1; i < len(high); i++ {
		out[i] = out[i-1] + alphaLow*(high[i]-out[i-1])
	}
	return out
}

// normalize, sinyali tepe genliği 0.9 olacak şekilde ölçekler.
func normalize(samples []float64) []float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak < 1e-9 {
		return samples
	}
	gain := 0.9 / peak
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}

// trimSilence, baştaki ve sondaki eşik altı bölümleri kırpar.
func trimSilence(samples []float64) []float64 {
	start := 0
	for start < len(samples) && math.Abs(samples[start]) < trimThresholdRatio {
		start++
	}
	end := len(samples)
	for end > start && math.Abs(samples[end-1]) < trimThresholdRatio {
		end--
	}
	return samples[start:end]
}
