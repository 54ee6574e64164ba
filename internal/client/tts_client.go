// File: sentiric-dialer-service/internal/client/tts_client.go

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type TtsSynthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// TtsResult, sentezlenen ham ses verisini ve servisin beyan ettiği örnekleme
// hızını taşır. Telefon hattında çalınmadan önce 8 kHz'e indirgenmesi gerekir.
type TtsResult struct {
	Audio      []byte
	SampleRate int
}

type TtsClient struct {
	httpClient *http.Client
	baseURL    string
	voice      string
	speed      float64
	log        zerolog.Logger
}

func NewTtsClient(rawBaseURL, voice string, speed float64, log zerolog.Logger) *TtsClient {
	finalBaseURL := rawBaseURL
	if !strings.HasPrefix(rawBaseURL, "http://") && !strings.HasPrefix(rawBaseURL, "https://") {
		finalBaseURL = "http://" + rawBaseURL
	}
	return &TtsClient{
		httpClient: &http.Client{},
		baseURL:    finalBaseURL,
		voice:      voice,
		speed:      speed,
		log:        log.With().Str("client", "tts").Logger(),
	}
}

func (c *TtsClient) Synthesize(ctx context.Context, text, traceID string) (*TtsResult, error) {
	url := fmt.Sprintf("%s/api/v1/synthesize", c.baseURL)

	payload := TtsSynthesizeRequest{Text: text, Voice: c.voice, Speed: c.speed}
	payloadBytes, _ := json.Marshal(payload)

	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("TTS isteği oluşturulamadı: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", traceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("TTS isteği başarısız oldu (muhtemelen zaman aşımı).")
		return nil, fmt.Errorf("TTS isteği başarısız oldu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.log.Error().Int("status_code", resp.StatusCode).Bytes("body", bodyBytes).Msg("TTS servisi hata döndürdü")
		return nil, fmt.Errorf("TTS servisi %d durum kodu döndürdü", resp.StatusCode)
	}

	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("TTS yanıtı okunamadı: %w", err)
	}
	if len(audioBytes) == 0 {
		return nil, fmt.Errorf("TTS servisi boş ses verisi döndürdü")
	}

	// Servis örnekleme hızını header ile bildirir; bildirmezse 22050 varsayılır.
	sampleRate := 22050
	if sr := resp.Header.Get("X-Sample-Rate"); sr != "" {
		if parsed, err := strconv.Atoi(sr); err == nil && parsed > 0 {
			sampleRate = parsed
		}
	}

	c.log.Debug().Int("audio_size", len(audioBytes)).Int("sample_rate", sampleRate).Msg("TTS'ten ses verisi alındı.")
	return &TtsResult{Audio: audioBytes, SampleRate: sampleRate}, nil
}
