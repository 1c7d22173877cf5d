package provider

import (
	"context"
	"net/http"
	"sync"

	"github.com/saldo-finance/saldo/model"
)

// MockClient is an in-memory Client for local development and tests. It
// fabricates wallet ids and records every request it sees.
type MockClient struct {
	mu       sync.Mutex
	Requests []*Request
	// Fail, when set, is returned for every call.
	Fail error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) ExecuteRequest(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return nil, m.Fail
	}
	m.Requests = append(m.Requests, req)

	body := map[string]interface{}{
		"wallet_id":      model.GenerateUUIDWithSuffix("wlt"),
		"resumption_ref": model.GenerateUUIDWithSuffix("res"),
		"status":         "accepted",
	}
	return &Response{StatusCode: http.StatusOK, Body: body}, nil
}

func (m *MockClient) GetConfiguration(_ context.Context) (*Configuration, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	return &Configuration{WalletProducts: []string{"standard"}}, nil
}

// RequestCount returns how many requests the mock accepted.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
