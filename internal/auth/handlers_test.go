package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

func newAuthApp(svc *Service) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/auth"), svc, JWTMiddleware("test-secret"))
	return app
}

func TestAuthHandlersRegisterLoginVerify(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Now()
	updatedAt := time.Now()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "user@example.com", pgxmock.AnyArg(), "User", "", RolePCM, "", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(createdAt, updatedAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	app := newAuthApp(svc)

	registerBody, _ := json.Marshal(RegisterRequest{Email: "user@example.com", FullName: "User", Password: "password"})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(registerBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %v", err)
	}

	passwordBytes, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, email, password_hash`).
		WithArgs("user@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns).
			AddRow("user-1", "user@example.com", string(passwordBytes), "User", "", RolePCM, "", "", createdAt, updatedAt))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	loginBody, _ := json.Marshal(LoginRequest{Email: "user@example.com", Password: "password"})
	req = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %v", err)
	}

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	tokens, _ := svc.GenerateTokens(context.Background(), "user-1", RolePCM)

	req = httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status: %v", err)
	}

	mock.ExpectQuery(`SELECT id, email, full_name`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows(profileCols).
			AddRow("user-1", "user@example.com", "User", "", RolePCM, "", "", createdAt, updatedAt, ""))

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %v", err)
	}
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "eve@example.com", pgxmock.AnyArg(), "Eve", "", RolePCM, "", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	app := newAuthApp(svc)

	body := []byte(`{"email":"eve@example.com","full_name":"Eve","password":"password","role":"admin"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %v", err)
	}

	var out struct {
		User   User          `json:"user"`
		Tokens TokenResponse `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User.Role != RolePCM {
		t.Fatalf("expected pcm user, got %q", out.User.Role)
	}
	claims, err := svc.ValidateAccessToken(out.Tokens.AccessToken)
	if err != nil || claims.Role != RolePCM {
		t.Fatalf("expected pcm token, got %+v %v", claims, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateProfileHandler(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`UPDATE users\s+SET full_name = \$2, phone = \$3, next_of_kin = \$4, next_of_kin_email = \$5`).
		WithArgs("user-1", "Ada Obi", "+2348000000000", "+2348011111111", "kin@example.com").
		WillReturnRows(pgxmock.NewRows(profileCols).
			AddRow("user-1", "ada@example.com", "Ada Obi", "+2348000000000", RolePCM, "+2348011111111", "kin@example.com", time.Now(), time.Now(), ""))

	svc := NewService("test-secret", mock)
	app := newAuthApp(svc)
	token, _ := svc.signToken("user-1", RolePCM, accessTokenTTL)

	body, _ := json.Marshal(ProfileUpdate{FullName: "Ada Obi", Phone: "+2348000000000", NextOfKin: "+2348011111111", NextOfKinEmail: "kin@example.com"})
	req := httptest.NewRequest(http.MethodPut, "/auth/me", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("update status: %v %d", err, resp.StatusCode)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil || user.NextOfKinEmail != "kin@example.com" {
		t.Fatalf("unexpected user: %+v %v", user, err)
	}

	body, _ = json.Marshal(ProfileUpdate{FullName: "Ada Obi", NextOfKinEmail: "not-an-email"})
	req = httptest.NewRequest(http.MethodPut, "/auth/me", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", resp.StatusCode)
	}
}

func TestAuthRefreshInvalidToken(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	body := []byte(`{"refresh_token":"bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestAuthRefreshSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService("test-secret", mock)

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	refresh, err := svc.GenerateTokens(context.Background(), "user-1", RolePCM)
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}

	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(refresh.RefreshToken).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow("user-1", time.Now().Add(5*time.Minute)))

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	app := newAuthApp(svc)

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %v", err)
	}
}

func TestAuthRegisterBadPayload(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{bad")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request")
	}
}

func TestAuthLoginBadRequest(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{"email":""}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request")
	}
}

func TestAuthRefreshBadRequest(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request")
	}
}

func TestAuthVerifyMissingBearer(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	req := httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestAuthVerifyInvalidToken(t *testing.T) {
	app := newAuthApp(NewService("test-secret", nil))

	req := httptest.NewRequest(http.MethodGet, "/auth/jwt/verify", nil)
	req.Header.Set("Authorization", "Bearer bad")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestBearerFromHeader(t *testing.T) {
	if bearerFromHeader("bad") != "" {
		t.Fatalf("expected empty token")
	}
	if bearerFromHeader("Bearer token") != "token" {
		t.Fatalf("expected token")
	}
}
