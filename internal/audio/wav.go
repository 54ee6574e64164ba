// sentiric-dialer-service/internal/audio/wav.go
package audio

import (
	"bytes"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// telephonySampleRate, telefon hattının beklediği örnekleme hızıdır.
const telephonySampleRate = 8000

// decodeWavFile, diskteki bir WAV dosyasını PCM buffer'a çözer.
func decodeWavFile(path string) (*goaudio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav dosyası açılamadı: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav verisi çözülemedi: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("wav dosyası boş: %s", path)
	}
	return buf, nil
}

// decodeWavBytes, bellekteki WAV verisini PCM buffer'a çözer.
func decodeWavBytes(data []byte) (*goaudio.IntBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav verisi çözülemedi: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("wav verisi boş")
	}
	return buf, nil
}

// encodeWavFile, PCM buffer'ı 16-bit WAV olarak diske yazar.
func encodeWavFile(path string, buf *goaudio.IntBuffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav dosyası oluşturulamadı: %w", err)
	}
	defer f.Close()

	e := wav.NewEncoder(f, buf.Format.SampleRate, 16, buf.Format.NumChannels, 1)
	if err := e.Write(buf); err != nil {
		return fmt.Errorf("wav verisi yazılamadı: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("wav dosyası kapatılamadı: %w", err)
	}
	return nil
}

// toMono, çok kanallı bir buffer'ı kanal ortalamasıyla tek kanala indirger.
func toMono(buf *goaudio.IntBuffer) *goaudio.IntBuffer {
	ch := buf.Format.NumChannels
	if ch <= 1 {
		return buf
	}
	frames := len(buf.Data) / ch
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		mono[i] = sum / ch
	}
	return &goaudio.IntBuffer{
		Data:           mono,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// resample, buffer'ı doğrusal aradeğerleme ile hedef örnekleme hızına çevirir.
// Telefon bandı için yeterlidir; kalite kritik bir yol değildir.
func resample(buf *goaudio.IntBuffer, targetRate int) *goaudio.IntBuffer {
	srcRate := buf.Format.SampleRate
	if srcRate == targetRate || srcRate <= 0 {
		return buf
	}
	srcLen := len(buf.Data)
	dstLen := int(int64(srcLen) * int64(targetRate) / int64(srcRate))
	if dstLen == 0 {
		return buf
	}
	dst := make([]int, dstLen)
	ratio := float64(srcRate) / float64(targetRate)
	for i := 0; i < dstLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= srcLen-1 {
			dst[i] = buf.Data[srcLen-1]
			continue
		}
		frac := pos - float64(idx)
		dst[i] = int(float64(buf.Data[idx])*(1-frac) + float64(buf.Data[idx+1])*frac)
	}
	return &goaudio.IntBuffer{
		Data:           dst,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: targetRate},
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// WavDuration, bir WAV dosyasının süresini ölçer.
func WavDuration(path string) (time.Duration, error) {
	buf, err := decodeWavFile(path)
	if err != nil {
		return 0, err
	}
	if buf.Format.SampleRate == 0 {
		return 0, fmt.Errorf("geçersiz örnekleme hızı")
	}
	frames := len(buf.Data) / buf.Format.NumChannels
	return time.Duration(float64(frames) / float64(buf.Format.SampleRate) * float64(time.Second)), nil
}

// EstimateSpokenDuration, bir metnin yaklaşık seslendirme süresini tahmin eder.
// Dakikada ~150 kelimelik ortalama konuşma hızı esas alınır; yalnızca makul
// bir üst/alt sınır kontrolü içindir, kesinlik beklenmez.
func EstimateSpokenDuration(text string) time.Duration {
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words) / 2.5 * float64(time.Second))
}
