package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIDIgnoresForwardingFromUntrustedPeers(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimit{RPS: 1, Burst: 1}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/presale/buy", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("X-Real-IP", "198.51.100.1")
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	require.Equal(t, "203.0.113.9", limiter.clientID(req))

	require.True(t, limiter.allow(limiter.clientID(req)))
	req.Header.Set("X-Real-IP", "198.51.100.77")
	require.False(t, limiter.allow(limiter.clientID(req)), "spoofed header must not open a new bucket")
}

func TestClientIDHonoursTrustedProxies(t *testing.T) {
	limiter, err := NewRateLimiter(RateLimit{TrustedProxies: []string{"10.0.0.0/8", "192.0.2.1"}}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/presale/buy", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.1.2.3")
	require.Equal(t, "198.51.100.2", limiter.clientID(req))

	req.Header.Set("X-Real-IP", "198.51.100.9")
	require.Equal(t, "198.51.100.9", limiter.clientID(req))

	req = httptest.NewRequest("POST", "/v1/presale/buy", nil)
	req.Header.Set("X-Real-IP", "not-an-ip")
	require.Equal(t, "192.0.2.1", limiter.clientID(req))
}

func TestNewRateLimiterRejectsBadProxies(t *testing.T) {
	_, err := NewRateLimiter(RateLimit{TrustedProxies: []string{"10.0.0.0/33"}}, nil)
	require.Error(t, err)
	_, err = NewRateLimiter(RateLimit{TrustedProxies: []string{"proxy.local"}}, nil)
	require.Error(t, err)
}
