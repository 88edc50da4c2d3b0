package kyc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"salvage-settlement/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestGetVendorTierLimit(t *testing.T) {
	vendorID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vendors/"+vendorID.String()+"/tier", r.URL.Path)
		assert.Equal(t, "kyc-key", r.Header.Get("X-API-Key"))
		_, _ = io.WriteString(w, `{"vendor_id":"`+vendorID.String()+`","tier":"tier2","bid_limit":"2500000.00"}`)
	}))
	defer srv.Close()

	p := NewTierProvider(Config{BaseURL: srv.URL, APIKey: "kyc-key", DefaultLimit: 100}, nil, nil, zerolog.Nop())
	limit, err := p.GetVendorTierLimit(context.Background(), vendorID)

	require.NoError(t, err)
	assert.Equal(t, int64(250000000), limit)
}

func TestGetVendorTierLimit_Fallbacks(t *testing.T) {
	t.Run("unconfigured uses default", func(t *testing.T) {
		p := NewTierProvider(Config{DefaultLimit: 50000000}, nil, nil, zerolog.Nop())
		limit, err := p.GetVendorTierLimit(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, int64(50000000), limit)
	})

	t.Run("unknown vendor uses default", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		p := NewTierProvider(Config{BaseURL: srv.URL, DefaultLimit: 777}, nil, nil, zerolog.Nop())
		limit, err := p.GetVendorTierLimit(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, int64(777), limit)
	})
}

func TestGetVendorTierLimit_FailsClosed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"bad json":     func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "{") },
		"sub-minor":    func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"bid_limit":"1.001"}`) },
		"negative":     func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"bid_limit":"-5"}`) },
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			p := NewTierProvider(Config{BaseURL: srv.URL, DefaultLimit: 100}, nil, nil, zerolog.Nop())
			_, err := p.GetVendorTierLimit(context.Background(), uuid.New())
			assert.Error(t, err)
		})
	}
}

func TestGetVendorTierLimit_Cache(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockReadCache(ctrl)
	vendorID := uuid.New()
	key := "kyc:tier:" + vendorID.String()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"tier":"tier1","bid_limit":"1000"}`)
	}))
	defer srv.Close()

	gomock.InOrder(
		cache.EXPECT().Get(gomock.Any(), key).Return(nil, nil),
		cache.EXPECT().Set(gomock.Any(), key, []byte("100000"), time.Minute).Return(nil),
		cache.EXPECT().Get(gomock.Any(), key).Return([]byte("100000"), nil),
		cache.EXPECT().Get(gomock.Any(), key).Return(nil, errors.New("redis down")),
		cache.EXPECT().Set(gomock.Any(), key, []byte("100000"), time.Minute).Return(errors.New("redis down")),
	)

	p := NewTierProvider(Config{BaseURL: srv.URL, CacheTTL: time.Minute}, nil, cache, zerolog.Nop())
	for i := 0; i < 3; i++ {
		limit, err := p.GetVendorTierLimit(context.Background(), vendorID)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), limit)
	}
	assert.Equal(t, int32(2), calls.Load())
}
