// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autodev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testVIN = "JF1GR8H6XBL831881"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("autodev-key", server.URL+"/", 0, zaptest.NewLogger(t)) // pragma: allowlist secret
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("  ", "", 0, nil)
	assert.Error(t, err)

	client, err := NewClient("k", "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
}

func TestDecode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vin/"+testVIN, r.URL.Path)
		assert.Equal(t, "autodev-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "true", r.URL.Query().Get("domains"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vin":"` + testVIN + `","make":{"name":"Subaru"},"years":[{"year":2011}]}`))
	})

	payload, err := client.Decode(context.Background(), " jf1gr8h6xbl831881 ")
	require.NoError(t, err)
	assert.Equal(t, testVIN, payload["vin"])
	assert.Equal(t, map[string]any{"name": "Subaru"}, payload["make"])
}

func TestDecodePaymentRequired(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"marker on success", http.StatusOK, `{"errorType":"PAYMENT_REQUIRED","message":"upgrade"}`},
		{"status 402", http.StatusPaymentRequired, `{}`},
		{"marker on error status", http.StatusForbidden, `{"errorType":"PAYMENT_REQUIRED"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Decode(context.Background(), testVIN)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPaymentRequired)
			assert.Contains(t, err.Error(), "https://auto.dev/pricing")
		})
	}
}

func TestDecodeStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrInvalidAPIKey},
		{http.StatusBadRequest, ErrInvalidRequest},
		{http.StatusNotFound, ErrDecodeFailed},
		{http.StatusBadGateway, ErrDecodeFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"upstream detail"}`))
			})

			_, err := client.Decode(context.Background(), testVIN)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var decodeErr *Error
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tt.status, decodeErr.StatusCode)
			assert.Equal(t, "upstream detail", decodeErr.Message)
		})
	}
}

func TestDecodeNonJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.Decode(context.Background(), testVIN)
	assert.ErrorIs(t, err, ErrDecodeFailed)
}

func TestDecodeEmptyVIN(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Decode(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecodeCanceledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Decode(ctx, testVIN)
	assert.ErrorIs(t, err, ErrDecodeFailed)
}
