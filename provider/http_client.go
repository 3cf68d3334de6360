package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/emreis/sanalpos/infra/apperr"
)

// HTTPClientConfig represents configuration for the acquirer HTTP client
type HTTPClientConfig struct {
	Timeout time.Duration
	// InsecureSkipVerify relaxes TLS verification for legacy acquirer
	// endpoints. It is a per-terminal opt-in, never a global default.
	InsecureSkipVerify bool
	DefaultHeaders     map[string]string
}

// HTTPClient provides the outbound POST surface adapters share. Transport
// failures and timeouts map to network_error so the orchestrator can
// finalize the transaction deterministically.
type HTTPClient struct {
	config HTTPClientConfig
	client *http.Client
}

// NewHTTPClient creates an acquirer HTTP client
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
		},
	}

	return &HTTPClient{
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// PostForm sends an application/x-www-form-urlencoded body. The body is the
// already-encoded string so adapters control field order.
func (c *HTTPClient) PostForm(ctx context.Context, url, body string, headers map[string]string) ([]byte, error) {
	return c.post(ctx, url, "application/x-www-form-urlencoded", []byte(body), headers)
}

// PostJSON sends a JSON body
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	return c.post(ctx, url, "application/json", body, headers)
}

// PostRaw sends body with an explicit content type
func (c *HTTPClient) PostRaw(ctx context.Context, url, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	return c.post(ctx, url, contentType, body, headers)
}

func (c *HTTPClient) post(ctx context.Context, url, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "create acquirer request")
	}

	for key, value := range c.config.DefaultHeaders {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindNetwork, Code: "NETWORK_ERROR", Message: "acquirer request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindNetwork, Code: "NETWORK_ERROR", Message: "acquirer response read failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, apperr.WithCode(apperr.KindNetwork, "NETWORK_ERROR",
			"acquirer returned HTTP "+resp.Status)
	}
	return respBody, nil
}
