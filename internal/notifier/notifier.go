// Package notifier tells requesters about the decision on their registration.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/staffgate/staffgate-api/internal/model"
)

// Notifier delivers a decision to the requester. Delivery is best effort:
// callers log failures and never undo the decision.
type Notifier interface {
	NotifyDecision(ctx context.Context, req *model.RegistrationRequest) error
}

// DecisionMessage renders the text sent to the requester.
func DecisionMessage(req *model.RegistrationRequest) string {
	switch req.Status {
	case model.StatusApproved:
		return fmt.Sprintf("Hello, %s! Your registration request has been approved.", req.Name)
	case model.StatusRejected:
		return fmt.Sprintf("Hello, %s. Your registration request has been rejected. You may submit a new one.", req.Name)
	default:
		return fmt.Sprintf("Hello, %s. Your registration request is %s.", req.Name, req.Status)
	}
}

// TelegramNotifier sends decisions through the Bot API sendMessage method.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier talking to baseURL
// (normally https://api.telegram.org).
func NewTelegramNotifier(baseURL, botToken string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		botToken: botToken,
		client:   &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type botAPIResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NotifyDecision sends the decision message to the requester's chat
func (n *TelegramNotifier) NotifyDecision(ctx context.Context, req *model.RegistrationRequest) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID: req.TelegramID,
		Text:   DecisionMessage(req),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := n.baseURL + "/bot" + n.botToken + "/sendMessage"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		// The url embeds the bot token; keep it out of the error.
		return fmt.Errorf("failed to send message to %s: %w", req.TelegramID, redact(err, n.botToken))
	}
	defer resp.Body.Close()

	var result botAPIResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &result)

	if resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("bot api rejected message to %s: status %d: %s",
			req.TelegramID, resp.StatusCode, result.Description)
	}

	return nil
}

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), secret, "<redacted>"))
}

// LogNotifier only logs decisions. Used in development mode.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyDecision logs the message that would have been sent
func (n *LogNotifier) NotifyDecision(ctx context.Context, req *model.RegistrationRequest) error {
	n.logger.InfoContext(ctx, "decision notification",
		"telegram_id", req.TelegramID,
		"status", req.Status,
		"text", DecisionMessage(req),
	)
	return nil
}

// MockNotifier records notifications for testing
type MockNotifier struct {
	mu   sync.Mutex
	Sent []model.RegistrationRequest
	Err  error
}

// NewMockNotifier creates a mock notifier for testing
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyDecision mock implementation
func (n *MockNotifier) NotifyDecision(ctx context.Context, req *model.RegistrationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, *req.Clone())
	return n.Err
}

// Notifications returns a copy of what has been sent so far
func (n *MockNotifier) Notifications() []model.RegistrationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.RegistrationRequest(nil), n.Sent...)
}
