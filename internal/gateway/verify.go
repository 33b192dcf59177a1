package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// TurnstileVerifyURL is Cloudflare's siteverify endpoint.
const TurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// TurnstileVerifier validates tokens with Cloudflare Turnstile.
type TurnstileVerifier struct {
	Secret string
	URL    string // TurnstileVerifyURL when empty
	Client *http.Client
}

// TurnstileResult is the siteverify response body.
type TurnstileResult struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

func (v *TurnstileVerifier) Verify(ctx context.Context, token string) (bool, error) {
	res, err := v.Check(ctx, token)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// Check returns the full siteverify result for token.
func (v *TurnstileVerifier) Check(ctx context.Context, token string) (TurnstileResult, error) {
	if strings.TrimSpace(token) == "" {
		return TurnstileResult{ErrorCodes: []string{"missing-input-response"}}, nil
	}
	endpoint := v.URL
	if endpoint == "" {
		endpoint = TurnstileVerifyURL
	}
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	form := url.Values{"secret": {v.Secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TurnstileResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return TurnstileResult{}, fmt.Errorf("turnstile request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TurnstileResult{}, fmt.Errorf("turnstile: status %d", resp.StatusCode)
	}

	var out TurnstileResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TurnstileResult{}, fmt.Errorf("decode turnstile response: %w", err)
	}
	if !out.Success {
		slog.Warn("turnstile verification failed", "errors", out.ErrorCodes)
	}
	return out, nil
}

// StaticVerifier accepts any non-empty token, or every token when AllowEmpty
// is set. It is meant for development and tests.
type StaticVerifier struct {
	AllowEmpty bool
	Reject     map[string]bool
}

func (v StaticVerifier) Verify(_ context.Context, token string) (bool, error) {
	if v.Reject[token] {
		return false, nil
	}
	return v.AllowEmpty || strings.TrimSpace(token) != "", nil
}
