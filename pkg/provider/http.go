package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxErrorBody = 512

// postJSON sends body to url and decodes a 2xx response into out. Every
// failure is returned as a classified *Error.
func (b *base) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Provider: b.cfg.ID, Kind: Fatal, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Provider: b.cfg.ID, Kind: Fatal, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return &Error{Provider: b.cfg.ID, Kind: Transient, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Provider: b.cfg.ID, Kind: Transient, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := respBody
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &Error{
			Provider:   b.cfg.ID,
			Kind:       ClassifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("API error: %s", bytes.TrimSpace(msg)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Provider: b.cfg.ID, Kind: Transient, Err: fmt.Errorf("parsing response: %w", err)}
	}
	return nil
}

func (b *base) emptyResponse() error {
	return &Error{Provider: b.cfg.ID, Kind: Transient, Err: fmt.Errorf("empty text content in API response")}
}
