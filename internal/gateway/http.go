package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/monateaches/assessment/internal/model"
)

type messageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// HTTPSubmitter posts results to a save-submission endpoint.
type HTTPSubmitter struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSubmitter) Submit(ctx context.Context, res model.AssessmentResult) (int64, error) {
	var out messageResponse
	status, err := postJSON(ctx, s.Client, s.URL, SubmissionFromResult(res), &out)
	if err != nil {
		return 0, &PersistenceError{Status: status, Err: err}
	}
	if status != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return 0, &PersistenceError{Status: status, Err: errors.New(msg)}
	}
	slog.Info("submission saved", "id", out.ID, "message", out.Message)
	return out.ID, nil
}

// HTTPNotifier posts reports to a send-email endpoint.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

func (n *HTTPNotifier) Notify(ctx context.Context, req model.NotificationRequest) error {
	var out messageResponse
	status, err := postJSON(ctx, n.Client, n.URL, req, &out)
	if err != nil {
		return &NotificationError{Status: status, Network: status == 0, Err: err}
	}
	if status != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &NotificationError{Status: status, Err: errors.New(msg)}
	}
	return nil
}
