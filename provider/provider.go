package provider

import (
	"context"
	"fmt"
)

// Request describes one call against the upstream wallet provider API.
type Request struct {
	Endpoint string                 `json:"endpoint"`
	Method   string                 `json:"method"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Headers  map[string]string      `json:"headers,omitempty"`
}

// Response is the decoded provider reply.
type Response struct {
	StatusCode int                    `json:"status_code"`
	Body       map[string]interface{} `json:"body,omitempty"`
}

// Configuration is provider-side account configuration retrieved at startup
// or on demand.
type Configuration struct {
	WalletProducts []string          `json:"wallet_products,omitempty"`
	Limits         map[string]int64  `json:"limits,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Client is the contract the core depends on. Transport and auth internals
// live behind it.
type Client interface {
	ExecuteRequest(ctx context.Context, req *Request) (*Response, error)
	GetConfiguration(ctx context.Context) (*Configuration, error)
}

// TransientError marks a failure worth retrying: network trouble or a
// provider 5xx. Everything else is treated as permanent.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	for err != nil {
		if _, ok := err.(*TransientError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
