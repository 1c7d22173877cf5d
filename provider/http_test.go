package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saldo-finance/saldo/config"
)

func newTestHTTPClient() *HTTPClient {
	conf := &config.Configuration{}
	conf.Provider.BaseURL = "https://provider.test"
	conf.Provider.APIKey = "test-key"
	conf.Provider.TimeoutSec = 5
	conf.Provider.MaxRetries = 2
	return NewHTTPClient(conf)
}

func TestExecuteRequestSuccess(t *testing.T) {
	client := newTestHTTPClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://provider.test/wallets",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"wallet_id": "wlt_abc", "resumption_ref": "res_def",
		}))

	resp, err := client.ExecuteRequest(context.Background(), &Request{
		Endpoint: "/wallets",
		Method:   http.MethodPost,
		Payload:  map[string]interface{}{"owner": "Maria Souza"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "wlt_abc", resp.Body["wallet_id"])
}

func TestExecuteRequestRetriesServerErrors(t *testing.T) {
	client := newTestHTTPClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "https://provider.test/wallets",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewJsonResponse(502, map[string]interface{}{"error": "bad gateway"})
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"wallet_id": "wlt_abc"})
		})

	resp, err := client.ExecuteRequest(context.Background(), &Request{Endpoint: "/wallets", Method: http.MethodPost})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestExecuteRequestDoesNotRetryClientErrors(t *testing.T) {
	client := newTestHTTPClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "https://provider.test/wallets",
		func(*http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewJsonResponse(422, map[string]interface{}{"error": "invalid document"})
		})

	_, err := client.ExecuteRequest(context.Background(), &Request{Endpoint: "/wallets", Method: http.MethodPost})
	assert.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, calls)
}

func TestGetConfiguration(t *testing.T) {
	client := newTestHTTPClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://provider.test/configuration",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"wallet_products": []string{"standard", "premium"},
		}))

	configuration, err := client.GetConfiguration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"standard", "premium"}, configuration.WalletProducts)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Cause: assert.AnError}))
	assert.False(t, IsTransient(assert.AnError))
}
