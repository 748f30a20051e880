package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/config"
)

func TestResolveAuth(t *testing.T) {
	t.Setenv("SUPPORTSYNC_RELAY_TOKEN", "")
	assert.Equal(t, "none", ResolveAuth(config.RelayConfig{}).Mode)

	auth := ResolveAuth(config.RelayConfig{Token: "abc"})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "abc", auth.Token)

	t.Setenv("SUPPORTSYNC_RELAY_TOKEN", "from-env")
	auth = ResolveAuth(config.RelayConfig{})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "from-env", auth.Token)
}

func TestAuthorize(t *testing.T) {
	server := ResolvedAuth{Mode: "token", Token: "secret"}

	tests := []struct {
		name   string
		client *channel.ConnectAuth
		ok     bool
		reason string
	}{
		{"missing", nil, false, "token required"},
		{"empty", &channel.ConnectAuth{}, false, "token required"},
		{"wrong", &channel.ConnectAuth{Token: "nope"}, false, "token_mismatch"},
		{"prefix", &channel.ConnectAuth{Token: "secretX"}, false, "token_mismatch"},
		{"right", &channel.ConnectAuth{Token: "secret"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}

	assert.True(t, Authorize(ResolvedAuth{Mode: "none"}, nil).OK)
	assert.False(t, Authorize(ResolvedAuth{Mode: "password"}, nil).OK)
}

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("abc", "abc"))
	assert.False(t, safeEqual("abc", "abd"))
	assert.False(t, safeEqual("abc", "ab"))
	assert.True(t, safeEqual("", ""))
}

func TestAuthRateLimiter(t *testing.T) {
	l := newAuthRateLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		assert.True(t, l.allow("10.0.0.1:5000"))
		l.recordFailure("10.0.0.1:5001")
	}
	assert.False(t, l.allow("10.0.0.1:6000"), "port is ignored")
	assert.True(t, l.allow("10.0.0.2:5000"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, l.allow("10.0.0.1:5000"), "failures age out")
}

func TestAuthRateLimiterCleanup(t *testing.T) {
	l := newAuthRateLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.recordFailure("10.0.0.1:1")
	l.recordFailure("10.0.0.2:1")
	now = now.Add(authRateWindow + time.Second)
	l.recordFailure("10.0.0.3:1")
	l.cleanup()

	assert.Len(t, l.failures, 1)
	assert.Contains(t, l.failures, "10.0.0.3")
}

func TestAuthRateLimiterCap(t *testing.T) {
	l := newAuthRateLimiter()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Millisecond) }

	for i := 0; i < authRateMaxIPs; i++ {
		l.recordFailure(fmt.Sprintf("host-%d", i))
	}
	l.recordFailure("newcomer")
	assert.Len(t, l.failures, authRateMaxIPs)
	assert.NotContains(t, l.failures, "host-0", "oldest host is evicted")
	assert.Contains(t, l.failures, "newcomer")
}
