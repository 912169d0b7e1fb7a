package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsTestHandler(origin string, called *bool) http.Handler {
	return NewCORSMiddleware(origin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddleware_MatchingOrigin_SetsHeaders(t *testing.T) {
	var called bool
	handler := corsTestHandler("http://localhost:3000", &called)

	req := httptest.NewRequest(http.MethodGet, "/api/trio/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !called {
		t.Error("next handler should be called")
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "http://localhost:3000"},
		{"Access-Control-Allow-Credentials", "true"},
		{"Access-Control-Expose-Headers", "Retry-After, X-Request-Id"},
		{"Vary", "Origin"},
		// プリフライト専用のヘッダーは通常のリクエストには付けない
		{"Access-Control-Allow-Methods", ""},
		{"Access-Control-Max-Age", ""},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	var called bool
	handler := corsTestHandler("https://app.example.com", &called)

	req := httptest.NewRequest(http.MethodOptions, "/api/trio/queue", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("next handler should not be called for preflight")
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "https://app.example.com"},
		{"Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type, X-Request-Id"},
		{"Access-Control-Max-Age", "86400"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_OtherOrigin_NoAllowHeaders(t *testing.T) {
	var called bool
	handler := corsTestHandler("http://localhost:3000", &called)

	req := httptest.NewRequest(http.MethodOptions, "/api/trio/queue", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if !called {
		t.Error("non-matching origin should fall through to the next handler")
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want %q", got, "Origin")
	}
}

func TestCORSMiddleware_EmptyOrigin_NoHeaders(t *testing.T) {
	var called bool
	handler := corsTestHandler("", &called)

	req := httptest.NewRequest(http.MethodOptions, "/api/trio/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if got := w.Header().Get("Vary"); got != "" {
		t.Errorf("Vary = %q, want empty", got)
	}
}
