package adsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/adlens/internal/config"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = pipeline.Credentials{AccountRef: "123", AccessToken: "tok_secret"}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.AdSourceConfig{
		BaseURL:           srv.URL + "/v19.0",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
		PageSize:          2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	return client
}

func TestClient_ListFollowsPaging(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/act_123/ads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok_secret", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("access_token"))

		if r.URL.Query().Get("after") == "" {
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			_, _ = fmt.Fprintf(w, `{"data":[
				{"id":"ad_1","name":"Spring promo","created_time":"2026-03-01T10:00:00+0000",
				 "creative":{"body":"Save 20%%","video_id":"v_1","thumbnail_url":"https://cdn/x.jpg"}},
				{"id":"ad_2","name":"Static","creative":{"image_url":"https://cdn/ad2.png"}}
			],"paging":{"next":"%s/v19.0/act_123/ads?after=c2&access_token=leak"}}`, srvURL)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":[{"id":"ad_3","name":"Last"}],"paging":{}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	client, err := NewClient(config.AdSourceConfig{
		BaseURL: srv.URL + "/v19.0", Timeout: time.Second, RequestsPerSecond: 1000, Burst: 5, PageSize: 2,
	}, nil)
	require.NoError(t, err)

	items, err := client.List(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "ad_1", items[0].ID)
	assert.Equal(t, "123", items[0].AccountRef)
	assert.Equal(t, "Save 20%", items[0].Body)
	assert.Equal(t, "v_1", items[0].Metadata[MetaVideoID])
	assert.Equal(t, "https://cdn/x.jpg", items[0].Metadata[MetaImageURL])
	require.NotNil(t, items[0].StartedAt)
	assert.Equal(t, 2026, items[0].StartedAt.Year())

	assert.Equal(t, "https://cdn/ad2.png", items[1].Metadata[MetaImageURL])
	assert.Empty(t, items[1].Metadata[MetaVideoID])
	assert.Equal(t, "ad_3", items[2].ID)
}

func TestClient_ListMissingCredentials(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())

	_, err := client.List(context.Background(), pipeline.Credentials{AccessToken: "x"})
	assert.ErrorIs(t, err, domain.ErrFatalConfiguration)

	_, err = client.List(context.Background(), pipeline.Credentials{AccountRef: "1"})
	assert.ErrorIs(t, err, domain.ErrFatalConfiguration)
}

func TestClient_ListRejectedToken(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"Invalid OAuth access_token=tok_secret","code":190}}`)
	}))

	_, err := client.List(context.Background(), testCreds)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalConfiguration)
	assert.NotContains(t, err.Error(), "tok_secret")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":[{"id":"ad_9"}]}`)
	}))

	items, err := client.List(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.List(context.Background(), testCreds)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RejectsForeignPagingLink(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":[],"paging":{"next":"https://evil.example/next"}}`)
	}))

	_, err := client.List(context.Background(), testCreds)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestClient_Resolve(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v19.0/v_1":
			_, _ = fmt.Fprint(w, `{"id":"v_1","source":"https://cdn/v_1.mp4"}`)
		case "/v19.0/v_2":
			_, _ = fmt.Fprint(w, `{"id":"v_2"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	loc, err := client.Resolve(ctx, testCreds, domain.Item{ID: "ad_1", Metadata: map[string]string{MetaVideoID: "v_1"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaLocator{ItemID: "ad_1", URL: "https://cdn/v_1.mp4", MediaType: domain.MediaTypeVideo}, loc)

	loc, err = client.Resolve(ctx, testCreds, domain.Item{ID: "ad_2", Metadata: map[string]string{MetaImageURL: "https://cdn/a.png"}})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaTypeImage, loc.MediaType)

	_, err = client.Resolve(ctx, testCreds, domain.Item{ID: "ad_3", Metadata: map[string]string{MetaVideoID: "v_2"}})
	assert.ErrorIs(t, err, ErrNoCreative)

	_, err = client.Resolve(ctx, testCreds, domain.Item{ID: "ad_4"})
	assert.ErrorIs(t, err, ErrNoCreative)

	_, err = client.Resolve(ctx, testCreds, domain.Item{ID: "ad_5", Metadata: map[string]string{MetaVideoID: "missing"}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(config.AdSourceConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
