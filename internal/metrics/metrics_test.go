package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(webhookDeliveriesTotal.WithLabelValues("abandoned"))
	ObserveWebhook("abandoned")
	require.Equal(t, before+1, testutil.ToFloat64(webhookDeliveriesTotal.WithLabelValues("abandoned")))

	beforeFallback := testutil.ToFloat64(strategyFallbacksTotal.WithLabelValues("anti_bot"))
	ObserveFallback("anti_bot")
	require.Equal(t, beforeFallback+1, testutil.ToFloat64(strategyFallbacksTotal.WithLabelValues("anti_bot")))

	ObserveJob("completed", 2*time.Second)
	ObserveStrategy("general-web", true)
	ObserveProxyDisabled()
	ObserveCache(true)
	SetPoolSize(4)
	require.Equal(t, float64(4), testutil.ToFloat64(poolSize))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
