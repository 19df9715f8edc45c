package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
)

func TestRateLimitIsPerOwner(t *testing.T) {
	limiter := NewOwnerLimiter(1, 2)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	handler := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(owner uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req.WithContext(WithOwner(req.Context(), owner, enums.RoleCustomer)))
		return resp
	}

	busy, quiet := uuid.New(), uuid.New()
	for i := 0; i < 2; i++ {
		if resp := send(busy); resp.Code != http.StatusOK {
			t.Fatalf("request %d within burst rejected: %d", i, resp.Code)
		}
	}
	limited := send(busy)
	if limited.Code != http.StatusTooManyRequests || limited.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", limited.Code, limited.Header().Get("Retry-After"))
	}
	if resp := send(quiet); resp.Code != http.StatusOK {
		t.Fatalf("another owner was throttled: %d", resp.Code)
	}

	now = now.Add(time.Second)
	if resp := send(busy); resp.Code != http.StatusOK {
		t.Fatalf("token not refilled: %d", resp.Code)
	}
}

func TestOwnerLimiterDropsIdleBuckets(t *testing.T) {
	limiter := NewOwnerLimiter(5, 5)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.Reserve("a")
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Reserve("b")
	if _, ok := limiter.buckets["a"]; ok {
		t.Fatal("idle bucket kept")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("unexpected buckets %d", len(limiter.buckets))
	}
}
