package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/saldo-finance/saldo/config"
)

// HTTPClient is the default Client binding: JSON over HTTP with api-key
// auth and bounded exponential backoff on transient failures.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	maxRetries int
	client     *http.Client
}

func NewHTTPClient(conf *config.Configuration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(conf.Provider.BaseURL, "/"),
		apiKey:     conf.Provider.APIKey,
		headers:    conf.Provider.Headers,
		maxRetries: conf.Provider.MaxRetries,
		client: &http.Client{
			Timeout: time.Duration(conf.Provider.TimeoutSec) * time.Second,
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Payload != nil {
		encoded, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	decoded := map[string]interface{}{}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&decoded); decodeErr != nil && decodeErr != io.EOF {
		return nil, fmt.Errorf("decoding provider response: %w", decodeErr)
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Cause: fmt.Errorf("provider returned %d for %s %s", resp.StatusCode, req.Method, req.Endpoint)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider rejected %s %s with %d: %v", req.Method, req.Endpoint, resp.StatusCode, decoded)
	}

	return &Response{StatusCode: resp.StatusCode, Body: decoded}, nil
}

// ExecuteRequest performs the call, retrying transient failures with
// exponential backoff up to the configured attempt limit. Permanent
// (4xx) failures surface immediately.
func (c *HTTPClient) ExecuteRequest(ctx context.Context, req *Request) (*Response, error) {
	var response *Response

	operation := func() error {
		resp, err := c.do(ctx, req)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		response = resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return response, nil
}

// GetConfiguration retrieves provider-side account configuration.
func (c *HTTPClient) GetConfiguration(ctx context.Context) (*Configuration, error) {
	resp, err := c.ExecuteRequest(ctx, &Request{Endpoint: "/configuration", Method: http.MethodGet})
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(resp.Body)
	if err != nil {
		return nil, err
	}
	var configuration Configuration
	if err := json.Unmarshal(encoded, &configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}
