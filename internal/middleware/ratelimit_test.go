package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig(burst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0), // 補充をほぼ無効化
		GeneralBurst:    burst,
		CleanupInterval: time.Minute,
	}
}

// バースト内のリクエストが許可されることを検証
func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(3))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.RemoteAddr = "203.0.113.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

// バースト超過で429とRetry-Afterが返ることを検証
func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.RemoteAddr = "203.0.113.1:12345"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

// クライアントIPごとに独立したリミッターが使われることを検証
func TestRateLimiter_SeparatesClients(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req1.RemoteAddr = "203.0.113.1:11111"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req1)
	if rec.Code != http.StatusOK {
		t.Fatalf("client1: status = %d, want 200", rec.Code)
	}

	// 同一IPの別ポートは同一クライアント扱い
	req2 := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req2.RemoteAddr = "203.0.113.1:22222"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("client1 second port: status = %d, want 429", rec.Code)
	}

	// 別IPは独立したリミッター
	req3 := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req3.RemoteAddr = "203.0.113.2:11111"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req3)
	if rec.Code != http.StatusOK {
		t.Fatalf("client2: status = %d, want 200", rec.Code)
	}

	if count := rl.LimiterCount(); count != 2 {
		t.Errorf("LimiterCount() = %d, want 2", count)
	}
}

// 期限切れエントリがクリーンアップされることを検証
func TestRateLimiter_Cleanup(t *testing.T) {
	config := testRateLimiterConfig(1)
	config.CleanupInterval = time.Millisecond
	rl := NewRateLimiter(config)
	defer rl.Stop()

	rl.getOrCreateLimiter("203.0.113.1")

	rl.mu.Lock()
	rl.limiters["203.0.113.1"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	if count := rl.LimiterCount(); count != 0 {
		t.Errorf("LimiterCount() = %d, want 0 after cleanup", count)
	}
}
