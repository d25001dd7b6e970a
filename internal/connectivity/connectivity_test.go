package connectivity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tiliavir/offline-time-tracker/internal/connectivity"
)

func TestHTTPProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"auth required still reachable", http.StatusForbidden, true},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			assert.Equal(t, tt.want, connectivity.NewHTTPProbe(srv.URL).Online(context.Background()))
		})
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := connectivity.NewHTTPProbe(url)
	p.Timeout = time.Second
	assert.False(t, p.Online(context.Background()))
	assert.False(t, connectivity.NewHTTPProbe("").Online(context.Background()))
}

func TestSwitch(t *testing.T) {
	s := connectivity.NewSwitch(false)
	assert.False(t, s.Online(context.Background()))
	s.Set(true)
	assert.True(t, s.Online(context.Background()))
}
