package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func issueTestAccessToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateAccessToken(testAccessSecret, time.Minute, testUser())
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}
	return token
}

func expectUserLookup(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT id, username, email, full_name, avatar, cover_image, created_at, updated_at FROM users`).
		WithArgs(testUserID).
		WillReturnRows(sanitizedRow(mock))
}

func userCapture(captured **User) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthNoToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	var captured *User
	rec := httptest.NewRecorder()
	handler.RequireAuth(userCapture(&captured)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/current-user", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if captured != nil {
		t.Error("next handler must not run without a token")
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/users/current-user", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	var captured *User
	rec := httptest.NewRecorder()
	handler.RequireAuth(userCapture(&captured)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthDeletedUser(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, username, email, full_name, avatar, cover_image, created_at, updated_at FROM users`).
		WithArgs(testUserID).
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/api/users/current-user", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: issueTestAccessToken(t)})
	rec := httptest.NewRecorder()
	handler.RequireAuth(userCapture(new(*User))).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token whose user is gone, got %d", rec.Code)
	}
}

func TestRequireAuthCookieToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	expectUserLookup(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/users/current-user", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: issueTestAccessToken(t)})
	var captured *User
	rec := httptest.NewRecorder()
	handler.RequireAuth(userCapture(&captured)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured == nil || captured.ID != testUserID {
		t.Errorf("expected user %s in context, got %+v", testUserID, captured)
	}
}

func TestRequireAuthBearerToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	expectUserLookup(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/users/current-user", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestAccessToken(t))
	var captured *User
	rec := httptest.NewRecorder()
	handler.RequireAuth(userCapture(&captured)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured == nil || captured.Username != "alice" {
		t.Errorf("unexpected context user: %+v", captured)
	}
}

func TestOptionalAuthAnonymous(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	called := false
	var captured *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		captured = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.OptionalAuth(next).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/get-video/abc", nil))

	if !called {
		t.Fatal("anonymous request must reach the handler")
	}
	if captured != nil {
		t.Errorf("expected nil context user, got %+v", captured)
	}
}

func TestOptionalAuthInvalidTokenRejected(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/videos/get-video/abc", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "garbage"})
	var captured *User
	rec := httptest.NewRecorder()
	handler.OptionalAuth(userCapture(&captured)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("presented-but-invalid token should be rejected, got %d", rec.Code)
	}
	if captured != nil {
		t.Error("next handler must not run for an invalid token")
	}
}

func TestOptionalAuthValidToken(t *testing.T) {
	handler, mock, _ := newTestHandler(t)
	defer mock.Close()

	expectUserLookup(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/get-video/abc", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: issueTestAccessToken(t)})
	var captured *User
	rec := httptest.NewRecorder()
	handler.OptionalAuth(userCapture(&captured)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured == nil || captured.ID != testUserID {
		t.Errorf("expected authenticated context user, got %+v", captured)
	}
}
