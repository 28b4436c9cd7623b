package outbound

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// APISender 通过事务邮件 HTTP 接口投递报文。
type APISender struct {
	url    string
	apiKey string
	client *http.Client
	log    *zap.Logger
}

type apiRequest struct {
	From      string   `json:"from"`
	To        []string `json:"to"`
	MessageID string   `json:"messageId"`
	Raw       string   `json:"raw"`
}

type apiErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewAPISender 创建 HTTP 投递通道。
func NewAPISender(url, apiKey string, timeout time.Duration, log *zap.Logger) *APISender {
	if log == nil {
		log = zap.NewNop()
	}
	return &APISender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Send 以 JSON 提交 base64 编码的报文，非 2xx 响应视为失败。
func (s *APISender) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(apiRequest{
		From:      env.From,
		To:        env.To,
		MessageID: env.MessageID,
		Raw:       base64.StdEncoding.EncodeToString(env.Raw),
	})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send via api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.log.Debug("message accepted by api", zap.String("message_id", env.MessageID), zap.Int("status", resp.StatusCode))
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiErrorResponse
	if json.Unmarshal(data, &apiErr) == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("api rejected message (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("api rejected message (status %d): %s", resp.StatusCode, apiErr.Message)
		}
	}
	return fmt.Errorf("api rejected message (status %d)", resp.StatusCode)
}
