package billingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ke-billing/domain/billing"
	dconfig "ke-billing/domain/config"
)

func testConfig(url string) dconfig.BillingAPI {
	return dconfig.BillingAPI{
		CredentialID:     "cid",
		CredentialSecret: "csecret",
		BaseURL:          url,
		PageSize:         2,
		MaxPages:         10,
		Timeout:          5 * time.Second,
		MaxRetries:       3,
		RetryWait:        time.Millisecond,
		RetryMaxWait:     5 * time.Millisecond,
	}
}

func item(service string, amount float64) map[string]any {
	return map[string]any{
		"meteringDate":  "20240105",
		"domainId":      "d1",
		"projectId":     "p1",
		"serviceId":     service,
		"serviceName":   service,
		"generalAmount": amount,
		"expectAmount":  amount,
	}
}

func writePage(w http.ResponseWriter, content []any, totalPages int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": map[string]any{
			"content":    content,
			"totalPages": totalPages,
		},
	})
}

type countingObserver struct{ statuses []string }

func (o *countingObserver) APIRequest(status string) { o.statuses = append(o.statuses, status) }

func TestFetchPaginates(t *testing.T) {
	pages := [][]any{
		{item("vm", 1), item("disk", 2)},
		{item("lb", 3), item("ip", 4)},
		{item("nat", 5)},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ResourcesPath, r.URL.Path)
		assert.Equal(t, "cid", r.Header.Get("Credential-ID"))
		assert.Equal(t, "csecret", r.Header.Get("Credential-Secret"))
		q := r.URL.Query()
		assert.Equal(t, "20240105", q.Get("from"))
		assert.Equal(t, "20240105", q.Get("to"))
		assert.Equal(t, "2", q.Get("size"))
		page, _ := strconv.Atoi(q.Get("page"))
		writePage(w, pages[page], len(pages))
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c := NewClient(testConfig(srv.URL)).WithObserver(obs)
	data, err := c.Fetch(context.Background(), "20240105", "20240105")
	require.NoError(t, err)

	items := billing.ExtractEntries(data)
	require.Len(t, items, 5)
	assert.Equal(t, []string{"200", "200", "200"}, obs.statuses)

	entries := billing.DecodeEntries(items)
	assert.Equal(t, "nat", entries[4].ServiceID)
	assert.Equal(t, 5.0, entries[4].ExpectAmount)
}

func TestFetchStopsOnLastFlag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"content":[{"serviceId":"a"},{"serviceId":"b"}],"last":true}}`)
	}))
	defer srv.Close()

	data, err := NewClient(testConfig(srv.URL)).Fetch(context.Background(), "20240105", "20240105")
	require.NoError(t, err)
	assert.Len(t, billing.ExtractEntries(data), 2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []any{}, 0)
	}))
	defer srv.Close()

	data, err := NewClient(testConfig(srv.URL)).Fetch(context.Background(), "20240105", "20240105")
	require.NoError(t, err)
	items := billing.ExtractEntries(data)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFetchRetriesThrottled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(w, []any{item("vm", 1)}, 1)
	}))
	defer srv.Close()

	data, err := NewClient(testConfig(srv.URL)).Fetch(context.Background(), "20240105", "20240105")
	require.NoError(t, err)
	assert.Len(t, billing.ExtractEntries(data), 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"bad range"}`)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Fetch(context.Background(), "20240105", "20240101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad range")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Fetch(context.Background(), "20240105", "20240105")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetchPageLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []any{item("vm", 1), item("disk", 1)}, 1000)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxPages = 3
	_, err := NewClient(cfg).Fetch(context.Background(), "20240105", "20240105")
	assert.ErrorIs(t, err, ErrPageLimit)
}

func TestFetchOAuth2(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Credential-ID"))
		writePage(w, []any{item("vm", 1)}, 1)
	}))
	defer api.Close()

	cfg := testConfig(api.URL)
	cfg.OAuth2 = dconfig.OAuth2{TokenURL: tokenSrv.URL, ClientID: "client", ClientSecret: "secret"}
	data, err := NewClient(cfg).Fetch(context.Background(), "20240105", "20240105")
	require.NoError(t, err)
	assert.Len(t, billing.ExtractEntries(data), 1)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []any{item("vm", 1)}, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(testConfig(srv.URL)).Fetch(ctx, "20240105", "20240105")
	assert.Error(t, err)
}
