package emailjs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailJSClient_Send(t *testing.T) {
	var got SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1.0/email/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:    server.URL + "/",
		ServiceID:  "service_x",
		TemplateID: "template_y",
		PublicKey:  "pk_z",
	}, server.Client())

	err := client.Send(context.Background(), map[string]string{"email": "ana@example.com", "message": "hola"})
	require.NoError(t, err)

	assert.Equal(t, "service_x", got.ServiceID)
	assert.Equal(t, "template_y", got.TemplateID)
	assert.Equal(t, "pk_z", got.UserID)
	assert.Equal(t, "hola", got.TemplateParams["message"])
}

func TestEmailJSClient_SendAPIError(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("The template ID is invalid"))
			}))
			defer server.Close()

			err := NewClient(Config{BaseURL: server.URL}, server.Client()).Send(context.Background(), map[string]string{})

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "The template ID is invalid", apiErr.Body)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
		})
	}
}

func TestEmailJSClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(Config{BaseURL: url}, &http.Client{Timeout: time.Second}).Send(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestEmailJSClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient(Config{BaseURL: server.URL}, server.Client()).Send(ctx, map[string]string{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.Equal(t, "https://api.emailjs.com", c.config.BaseURL)
	assert.NotNil(t, c.client)
	assert.NotNil(t, c.logger)
}
