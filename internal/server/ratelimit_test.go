package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestIPLimiterPerClient(t *testing.T) {
	l := NewIPLimiter(rate.Every(time.Hour), 2)
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("1.1.1.1") || !l.Allow("1.1.1.1") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("1.1.1.1") {
		t.Fatal("third attempt should be refused")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("other clients have their own bucket")
	}
	now = now.Add(time.Hour)
	if !l.Allow("1.1.1.1") {
		t.Fatal("bucket should refill")
	}
}

func TestIPLimiterSweepsIdleClients(t *testing.T) {
	l := NewIPLimiter(rate.Every(time.Minute), 1)
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(time.Hour)
	l.Allow("b")
	if _, ok := l.clients["a"]; ok {
		t.Fatal("idle client should be dropped")
	}
}

func TestClientIPIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	l := NewIPLimiter(LoginRate, LoginBurst)
	r := httptest.NewRequest("POST", "/api/auth/login", nil)
	r.RemoteAddr = "198.51.100.4:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := l.clientIP(r); got != "198.51.100.4" {
		t.Fatalf("client ip = %q", got)
	}
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	l := NewIPLimiter(LoginRate, LoginBurst).TrustProxies([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
	cases := []struct {
		name, remote, xff, want string
	}{
		{"no header", "10.0.0.1:5555", "", "10.0.0.1"},
		{"single hop", "10.0.0.1:5555", "203.0.113.9", "203.0.113.9"},
		{"spoofed left entry", "10.0.0.1:5555", "1.2.3.4, 203.0.113.9", "203.0.113.9"},
		{"chained proxies", "10.0.0.1:5555", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"garbage hop", "10.0.0.1:5555", "bogus", "10.0.0.1"},
		{"untrusted peer", "198.51.100.4:5555", "203.0.113.9", "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := l.clientIP(r); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoginLimitNotResetByForwardedFor(t *testing.T) {
	l := NewIPLimiter(LoginRate, LoginBurst)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	allowed := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest("POST", "/api/auth/login", nil)
		r.RemoteAddr = "198.51.100.4:5555"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != LoginBurst {
		t.Fatalf("allowed %d attempts, want %d", allowed, LoginBurst)
	}
}
