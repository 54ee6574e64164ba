// File: sentiric-dialer-service/internal/client/llm_client.go

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxHistoryMessages, LLM isteğine eklenen konuşma geçmişini sınırlar.
// Daha eski turlar istek boyutunu şişirir ama yanıt kalitesini artırmaz.
const maxHistoryMessages = 10

type ChatMessage struct {
	Role    string `json:"role"` // "assistant" | "user"
	Content string `json:"content"`
}

type LlmGenerateRequest struct {
	System   string            `json:"system,omitempty"`
	Messages []ChatMessage     `json:"messages"`
	Context  map[string]string `json:"context,omitempty"`
}

type LlmGenerateResponse struct {
	Text string `json:"text"`
}

type LlmClient struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

func NewLlmClient(rawBaseURL string, log zerolog.Logger) *LlmClient {
	finalBaseURL := rawBaseURL
	if !strings.HasPrefix(rawBaseURL, "http://") && !strings.HasPrefix(rawBaseURL, "https://") {
		finalBaseURL = "http://" + rawBaseURL
	}

	return &LlmClient{
		httpClient: &http.Client{},
		baseURL:    finalBaseURL,
		log:        log.With().Str("client", "llm").Logger(),
	}
}

// Generate, sistem talimatı + kayan konuşma geçmişi + kampanya bağlamıyla
// metin üretimi ister. Geçmiş son maxHistoryMessages mesajla sınırlanır.
func (c *LlmClient) Generate(ctx context.Context, system string, history []ChatMessage, campaignContext map[string]string, traceID string) (string, error) {
	url := fmt.Sprintf("%s/generate", c.baseURL)

	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	payload := LlmGenerateRequest{System: system, Messages: history, Context: campaignContext}
	payloadBytes, _ := json.Marshal(payload)

	c.log.Debug().Str("url", url).Int("history_len", len(history)).Msg("LLM'e istek gönderiliyor...")

	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("LLM isteği oluşturulamadı: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", traceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("LLM isteği başarısız oldu (muhtemelen zaman aşımı).")
		return "", fmt.Errorf("LLM isteği başarısız oldu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.log.Error().Int("status_code", resp.StatusCode).Bytes("body", bodyBytes).Msg("LLM servisi hata döndürdü")
		return "", fmt.Errorf("LLM servisi %d durum kodu döndürdü", resp.StatusCode)
	}

	var llmResp LlmGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("LLM yanıtı çözümlenemedi: %w", err)
	}

	cleanedText := strings.Trim(llmResp.Text, "\" \n\r")
	c.log.Debug().Int("response_size", len(cleanedText)).Msg("LLM'den yanıt başarıyla alındı.")

	return cleanedText, nil
}
