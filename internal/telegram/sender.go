// Package telegram предоставляет отправку сообщений через Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Sender отправляет сообщения от имени бота.
type Sender struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewSender создаёт отправителя. apiURL переопределяет адрес Bot API в тестах;
// пустое значение означает боевой api.telegram.org.
func NewSender(apiURL, token string) *Sender {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Sender{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		httpClient: rc.StandardClient(),
	}
}

// Send отправляет сообщение в чат. Текст трактуется как HTML.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if s == nil || s.token == "" {
		return fmt.Errorf("telegram sender not configured")
	}

	raw, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !result.OK {
		return fmt.Errorf("telegram api error: %s", result.Description)
	}

	return nil
}
