package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetAccountIDFromContext(r.Context())
		if !ok {
			t.Fatalf("account id not in context")
		}
		if id != 42 {
			t.Fatalf("account id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
}

func TestAuthMiddleware_RejectsForgedCookie(t *testing.T) {
	signer := NewAuthMiddleware("other-secret")
	m := NewAuthMiddleware("test-secret")

	rec := httptest.NewRecorder()
	signer.SetAuthCookie(rec, 7)
	forged := rec.Result().Cookies()[0]

	tampered := *forged
	tampered.Value = "8" + forged.Value[strings.Index(forged.Value, "."):]

	for _, c := range []*http.Cookie{forged, &tampered, {Name: authCookieName, Value: "garbage"}} {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("next handler should not be called for %q", c.Value)
		})

		r := httptest.NewRequest(http.MethodGet, "/protected", nil)
		r.AddCookie(c)
		w := httptest.NewRecorder()

		m.Middleware(next).ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	}
}

func TestClearAuthCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	m.ClearAuthCookie(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].Name != authCookieName || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookie %+v does not expire the auth cookie", cookies[0])
	}
}
