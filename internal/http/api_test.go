package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"otp-auth/internal/otp"
	"otp-auth/internal/repository/sqlite"
	"otp-auth/internal/service"
	"otp-auth/internal/token"
)

const (
	adminKey = "admin-secret"
	password = "Abcd123!"
)

type stubNotifier struct {
	mu   sync.Mutex
	err  error
	last int
}

func (n *stubNotifier) SendOTP(_ context.Context, _, _ string, code int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.last = code
	return nil
}

type testServer struct {
	router *gin.Engine
	mail   *stubNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	users := sqlite.NewUserRepository(db)
	require.NoError(t, users.Init(context.Background()))

	tokens, err := token.NewService(token.Config{AccessSecret: "access", RefreshSecret: "refresh"})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mail := &stubNotifier{}
	engine := otp.NewEngine(10*time.Minute, otp.WithCodeSource(func() (int, error) { return 482913, nil }))
	auth := service.NewAuthService(users, tokens, engine, mail,
		service.AuthConfig{AdminKey: adminKey, BcryptCost: bcrypt.MinCost}, logger)

	router := gin.New()
	NewHandler(auth, service.NewAccessGuard(tokens, users), "", logger).RegisterRoutes(router)
	return &testServer{router: router, mail: mail}
}

type response struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Errors  []string       `json:"errors"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func (s *testServer) login(t *testing.T, email string) (string, string) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	return resp.Data["accessToken"].(string), resp.Data["refreshToken"].(string)
}

func (s *testServer) register(t *testing.T, body gin.H) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/auth/signup", body, "")
	require.Equal(t, http.StatusCreated, code, resp.Message)
	code, resp = s.do(t, http.MethodPost, "/api/auth/verify-otp", gin.H{"email": body["email"], "otp": "482913"}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
}

func TestHealthAndNotFound(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, resp = s.do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestFullFlow(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/auth/signup",
		gin.H{"name": "Ada", "email": "A@B.com", "password": password}, "")
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "a@b.com", resp.Data["email"])
	assert.Equal(t, "user", resp.Data["role"])
	assert.Equal(t, 482913, s.mail.last)

	code, _ = s.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "a@b.com", "password": password}, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(t, http.MethodPost, "/api/auth/verify-otp", gin.H{"email": "a@b.com", "otp": "482913"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data["isVerified"])

	access, refresh := s.login(t, "a@b.com")

	code, resp = s.do(t, http.MethodGet, "/api/auth/profile", nil, access)
	require.Equal(t, http.StatusOK, code)
	user := resp.Data["user"].(map[string]any)
	assert.Equal(t, "Ada", user["name"])
	assert.Equal(t, true, user["isVerified"])
	assert.NotContains(t, user, "passwordHash")

	code, _ = s.do(t, http.MethodGet, "/api/auth/admin-only", nil, access)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(t, http.MethodPost, "/api/auth/refresh-token", gin.H{"refreshToken": refresh}, "")
	require.Equal(t, http.StatusOK, code)
	rotated := resp.Data["refreshToken"].(string)
	assert.NotEqual(t, refresh, rotated)

	code, _ = s.do(t, http.MethodPost, "/api/auth/refresh-token", gin.H{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/auth/logout", nil, access)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/auth/refresh-token", gin.H{"refreshToken": rotated}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminOnly(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/auth/signup",
		gin.H{"name": "Root", "email": "root@b.com", "password": password, "role": "admin", "adminKey": "wrong"}, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Invalid admin secret key", resp.Message)

	s.register(t, gin.H{"name": "Root", "email": "root@b.com", "password": password, "role": "admin", "adminKey": adminKey})
	access, _ := s.login(t, "root@b.com")

	code, resp = s.do(t, http.MethodGet, "/api/auth/admin-only", nil, access)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "admin", resp.Data["role"])
}

func TestSignupValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body gin.H
		want string
	}{
		{"weak password", gin.H{"name": "Ada", "email": "a@b.com", "password": "abcdefgh"}, "Password must contain at least one uppercase letter"},
		{"short password", gin.H{"name": "Ada", "email": "a@b.com", "password": "Ab1!"}, "Password must be at least 8 characters long"},
		{"bad email", gin.H{"name": "Ada", "email": "not-an-email", "password": password}, "Please provide a valid email address"},
		{"short name", gin.H{"name": "A", "email": "a@b.com", "password": password}, "Name must be at least 2 characters long"},
		{"missing name", gin.H{"email": "a@b.com", "password": password}, "Name is required"},
		{"unknown role", gin.H{"name": "Ada", "email": "a@b.com", "password": password, "role": "root"}, "Role must be one of: user admin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/auth/signup", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "Validation failed", resp.Message)
			assert.Contains(t, resp.Errors, tc.want)
		})
	}
}

func TestSignupConflict(t *testing.T) {
	s := newTestServer(t)
	s.register(t, gin.H{"name": "Ada", "email": "a@b.com", "password": password})

	code, _ := s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"name": "Ada", "email": "A@b.com", "password": password}, "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestVerifyOTPValidation(t *testing.T) {
	s := newTestServer(t)

	for _, otpCode := range []string{"12345", "12345a", "-12345"} {
		code, _ := s.do(t, http.MethodPost, "/api/auth/verify-otp", gin.H{"email": "a@b.com", "otp": otpCode}, "")
		assert.Equal(t, http.StatusBadRequest, code, otpCode)
	}

	code, _ := s.do(t, http.MethodPost, "/api/auth/verify-otp", gin.H{"email": "ghost@b.com", "otp": "482913"}, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeliveryFailures(t *testing.T) {
	s := newTestServer(t)
	s.mail.err = errors.New("ses down")

	code, _ := s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"name": "Ada", "email": "a@b.com", "password": password}, "")
	assert.Equal(t, http.StatusInternalServerError, code)

	s.mail.err = nil
	code, _ = s.do(t, http.MethodPost, "/api/auth/signup", gin.H{"name": "Ada", "email": "a@b.com", "password": password}, "")
	require.Equal(t, http.StatusCreated, code, "rolled back signup can be retried")

	s.mail.err = errors.New("ses down")
	code, _ = s.do(t, http.MethodPost, "/api/auth/resend-otp", gin.H{"email": "a@b.com"}, "")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestRefreshRequiresToken(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/auth/refresh-token", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Refresh token is required", resp.Message)
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	s.register(t, gin.H{"name": "Ada", "email": "a@b.com", "password": password})
	access, _ := s.login(t, "a@b.com")

	code, _ := s.do(t, http.MethodGet, "/api/auth/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/auth/profile", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.Header.Set("Authorization", "bearer "+access)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_CORSAndRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestAuthorizeWithoutPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", Authorize(service.NewAccessGuard(nil, nil)), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClassify(t *testing.T) {
	cases := map[error]int{
		service.ErrUserAlreadyExists:  http.StatusConflict,
		service.ErrInvalidAdminKey:    http.StatusForbidden,
		service.ErrUserNotFound:       http.StatusNotFound,
		service.ErrInvalidCredentials: http.StatusUnauthorized,
		service.ErrNotVerified:        http.StatusForbidden,
		service.ErrAlreadyVerified:    http.StatusBadRequest,
		service.ErrInvalidOTP:         http.StatusBadRequest,
		service.ErrInvalidToken:       http.StatusUnauthorized,
		service.ErrUnauthorized:       http.StatusUnauthorized,
		service.ErrForbidden:          http.StatusForbidden,
		service.ErrDeliveryFailed:     http.StatusInternalServerError,
		errors.New("boom"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, msg := classify(err)
		assert.Equal(t, want, got, err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := classify(errors.New("db password leaked"))
	assert.Equal(t, "Internal server error", msg)
}
