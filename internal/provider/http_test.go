package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{Name: "Twilio", BaseURL: srv.URL, Timeout: 2 * time.Second}, NewTokenCache(StaticTokenSource("tok-1")))
}

func TestHTTPClient_SendSMS(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "job-1", r.Header.Get("Idempotency-Key"))

		var body SendSMSRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15550000001", body.From)
		assert.Equal(t, "hello", body.Body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	})

	res, err := client.SendSMS(context.Background(), SendSMSRequest{
		IdempotencyKey: "job-1", From: "+15550000001", To: "+15550000002", Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM123", res.MessageSid)
	assert.Equal(t, "twilio", client.Name())
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		fatal     bool
		notFound  bool
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, fatal: true},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, fatal: true},
		{name: "not found", status: http.StatusNotFound, fatal: true, notFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			_, err := client.PlaceCall(context.Background(), PlaceCallRequest{From: "+1", To: "+2"})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrProvider)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Equal(t, tt.fatal, apperrors.IsFatal(err))
			assert.Equal(t, tt.notFound, apperrors.IsNotFoundError(err))
			assert.Equal(t, tt.fatal, apperrors.IsTerminal(err))
		})
	}
}

func TestHTTPClient_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewHTTPClient(HTTPConfig{Name: "twilio", BaseURL: url, Timeout: time.Second}, NewTokenCache(StaticTokenSource("t")))
	_, err := client.SendSMS(context.Background(), SendSMSRequest{To: "+1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestHTTPClient_ReleaseNumberNotFoundIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/numbers/PN1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, client.ReleaseNumber(context.Background(), ReleaseNumberRequest{ResourceID: "PN1"}))
}

type countingSource struct {
	calls atomic.Int32
	ttl   time.Duration
}

func (s *countingSource) FetchToken(context.Context) (Token, error) {
	n := s.calls.Add(1)
	tok := Token{AccessToken: "tok-" + string(rune('0'+n))}
	if s.ttl > 0 {
		tok.ExpiresAt = time.Now().UTC().Add(s.ttl)
	}
	return tok, nil
}

func TestTokenCache_RefreshesOnExpiry(t *testing.T) {
	src := &countingSource{ttl: time.Hour}
	cache := NewTokenCache(src)

	first, err := cache.Token(context.Background())
	require.NoError(t, err)
	second, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	// Move the clock past expiry minus skew.
	cache.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	third, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), src.calls.Load())

	cache.Invalidate()
	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

type failingSource struct{}

func (failingSource) FetchToken(context.Context) (Token, error) {
	return Token{}, errors.New("vault sealed")
}

func TestTokenCache_SourceError(t *testing.T) {
	_, err := NewTokenCache(failingSource{}).Token(context.Background())
	assert.EqualError(t, err, "vault sealed")
}

func TestClientCredentialsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id-1", r.PostForm.Get("client_id"))
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":3600}`))
	}))
	defer srv.Close()

	src := &ClientCredentialsSource{TokenURL: srv.URL, ClientID: "id-1", ClientSecret: "s"}
	tok, err := src.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), tok.ExpiresAt, time.Minute)
}
