package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hourAgo := now.Add(-time.Hour)
	justNow := now.Add(-time.Second)

	tests := []struct {
		name            string
		lastSyncedAt    *time.Time
		intervalSeconds int
		want            bool
	}{
		{
			name:            "never synced",
			lastSyncedAt:    nil,
			intervalSeconds: 3600,
			want:            true,
		},
		{
			name:            "interval elapsed exactly",
			lastSyncedAt:    &hourAgo,
			intervalSeconds: 3600,
			want:            true,
		},
		{
			name:            "interval elapsed long ago",
			lastSyncedAt:    &hourAgo,
			intervalSeconds: 60,
			want:            true,
		},
		{
			name:            "not yet due",
			lastSyncedAt:    &justNow,
			intervalSeconds: 3600,
			want:            false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Due(tt.lastSyncedAt, tt.intervalSeconds, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"vendor_id":"v-1","kind":"asset","name":"Pump","classification":"acme/pump/3.1","hostname":"pump-1"}]}`))
	}))
	defer srv.Close()

	fetcher := &HTTPFetcher{}

	items, err := fetcher.FetchBatch(context.Background(), Integration{Endpoint: srv.URL})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "v-1", items[0].VendorID)
	assert.Equal(t, ItemKindAsset, items[0].Kind)
	assert.Equal(t, "pump-1", items[0].Hostname)
}

func TestHTTPFetcherNoEndpoint(t *testing.T) {
	fetcher := &HTTPFetcher{}
	items, err := fetcher.FetchBatch(context.Background(), Integration{})
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestHTTPFetcherBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fetcher := &HTTPFetcher{}
	_, err := fetcher.FetchBatch(context.Background(), Integration{Endpoint: srv.URL})
	assert.Error(t, err)
}
