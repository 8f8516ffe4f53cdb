package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/identity"
	"github.com/gin-gonic/gin"
)

func TestCookieStorageRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Request = httptest.NewRequest(http.MethodGet, "/api/identity", http.NoBody)

	storage := cookieStorage{context: context, name: "board_id"}
	if value, err := storage.Load(identity.NeighborIDKey); err != nil || value != "" {
		t.Fatalf("expected empty value without cookie, got %q %v", value, err)
	}
	if err := storage.Store(identity.NeighborIDKey, "token-1"); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	header := recorder.Header().Get("Set-Cookie")
	if !strings.Contains(header, "board_id=token-1") || !strings.Contains(header, "HttpOnly") || !strings.Contains(header, "SameSite=Lax") {
		t.Fatalf("unexpected cookie header %q", header)
	}
	if err := storage.Store("nickname", "Priya"); err == nil {
		t.Fatalf("expected cookie storage to refuse keys other than the neighbor id")
	}
}

func TestCookieStorageReadsPresentedCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	context, _ := gin.CreateTestContext(httptest.NewRecorder())
	context.Request = httptest.NewRequest(http.MethodGet, "/api/identity", http.NoBody)
	context.Request.AddCookie(&http.Cookie{Name: "board_id", Value: "token-9"})

	provider := identity.NewProvider(identity.ProviderConfig{Storage: cookieStorage{context: context, name: "board_id"}})
	if got := provider.GetOrCreateNeighborID(); got != "token-9" {
		t.Fatalf("expected presented cookie to be reused, got %q", got)
	}
}
