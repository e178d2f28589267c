package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Field("accounts", []string{}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("Content-Type = %q", got)
	}
	if w.Header().Get("X-Custom") != "value" {
		t.Error("custom header not set")
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"accounts":[]}` {
		t.Errorf("Body = %q", got)
	}
}

func TestJSONResponseBuilder_DefaultBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Write(w)
	if got := strings.TrimSpace(w.Body.String()); got != `{}` {
		t.Errorf("Body = %q, want {}", got)
	}
}

func TestJSONResponseBuilder_Cookie(t *testing.T) {
	w := httptest.NewRecorder()
	OK().Cookie(&http.Cookie{Name: SessionCookie, Value: "tok", HttpOnly: true}).Write(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].Value != "tok" {
		t.Fatalf("cookies = %v", cookies)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"ok":true}` {
		t.Errorf("Body = %q", got)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		status  int
		body    string
	}{
		{"bad request", BadRequestError("account.add.error.name.required"), http.StatusBadRequest, `{"error":"account.add.error.name.required"}`},
		{"forbidden", ForbiddenError(), http.StatusForbidden, `{"error":"auth.login.error.password.invalid"}`},
		{"rate limited", TooManyRequestsError(), http.StatusTooManyRequests, `{"error":"auth.error.rateLimit.exceeded"}`},
		{"internal", InternalServerError(), http.StatusInternalServerError, `{"error":"internal.error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)
			if w.Code != tt.status {
				t.Errorf("Status code = %d, want %d", w.Code, tt.status)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.body {
				t.Errorf("Body = %q, want %q", got, tt.body)
			}
		})
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(map[string]any{"bad": make(chan int)}).Write(w)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}
