package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// postJSON sends payload to url and decodes the response into out.
// On a 4xx/5xx status it asks extractErr for a provider-specific
// message from the body, falling back to the HTTP status line.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, payload, out any, provider string, extractErr func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		if msg := extractErr(raw.Bytes()); msg != "" {
			return fmt.Errorf("%s api error: %s", provider, msg)
		}
		return fmt.Errorf("%s api error: %s", provider, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}
