package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/push"
	"sudooom.im.relay/internal/repository"
	"sudooom.im.relay/internal/web/handler"
	"sudooom.im.relay/internal/web/service"
	"sudooom.im.relay/pkg/response"
)

// APIResponse 用于解析响应体
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type evictRecorder struct {
	mu    sync.Mutex
	rooms []string
}

func (e *evictRecorder) Evict(room, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms = append(e.rooms, room)
	return nil
}

type testApp struct {
	engine  *gin.Engine
	online  *presence.Memory
	subs    *push.MemorySubscriptions
	evicted *evictRecorder
}

func newTestApp(t *testing.T, mutate func(*config.WebConfig)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.WebConfig{}
	cfg.CORS.AllowedOrigins = []string{"https://chat.example"}
	cfg.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := &testApp{
		online:  presence.NewMemory("node-1"),
		subs:    push.NewMemorySubscriptions(),
		evicted: &evictRecorder{},
	}
	users := repository.NewMemoryUsers()
	authService := service.NewAuthService(users, repository.NewMemoryTokens(), app.subs, app.evicted, jwt.NewService("secret", time.Hour), logger)
	userService := service.NewUserService(users, app.online, app.subs, logger)

	app.engine = SetupRouter(cfg, logger, authService, handler.NewAuthHandler(authService), handler.NewUserHandler(userService))
	return app
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp APIResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func (a *testApp) signupAndLogin(t *testing.T, userID, name string) service.LoginResponse {
	t.Helper()
	w, resp := a.do(t, http.MethodPost, "/api/signup", "", gin.H{
		"name": name, "userId": userID, "email": userID + "@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, response.CodeSuccess, resp.Code)

	w, resp = a.do(t, http.MethodPost, "/api/login", "", gin.H{"name": name, "userId": userID, "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login service.LoginResponse
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	require.NotEmpty(t, login.AccessToken)
	return login
}

func TestSignup_InvalidAndDuplicate(t *testing.T) {
	app := newTestApp(t, nil)

	w, resp := app.do(t, http.MethodPost, "/api/signup", "", gin.H{"userId": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeInvalidParams, resp.Code)

	app.signupAndLogin(t, "alice", "Alice")
	w, resp = app.do(t, http.MethodPost, "/api/signup", "", gin.H{
		"name": "Alice", "userId": "alice", "email": "new@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeUserExists, resp.Code)
}

func TestLogin_WrongName(t *testing.T) {
	app := newTestApp(t, nil)
	app.signupAndLogin(t, "alice", "Alice")

	w, resp := app.do(t, http.MethodPost, "/api/login", "", gin.H{"name": "Bob", "userId": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeInvalidCredentials, resp.Code)
}

func TestOnlineUsers_FromPresence(t *testing.T) {
	app := newTestApp(t, nil)
	app.signupAndLogin(t, "alice", "Alice")
	app.signupAndLogin(t, "bob", "Bob")
	require.NoError(t, app.online.Join(context.Background(), "alice"))

	w, resp := app.do(t, http.MethodGet, "/api/online-users", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data service.OnlineUsersResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data.Users, 2)
	assert.Equal(t, []string{"alice"}, data.Online)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	app := newTestApp(t, nil)
	for _, path := range []string{"/api/logout", "/api/delete-account", "/api/save-sub"} {
		w, resp := app.do(t, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, response.CodeTokenInvalid, resp.Code, path)

		w, _ = app.do(t, http.MethodPost, path, "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	app := newTestApp(t, nil)
	login := app.signupAndLogin(t, "alice", "Alice")

	w, _ := app.do(t, http.MethodPost, "/api/logout", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, app.evicted.rooms)

	w, resp := app.do(t, http.MethodPost, "/api/logout", login.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeTokenInvalid, resp.Code)
}

func TestSaveSubAndDeleteAccount(t *testing.T) {
	app := newTestApp(t, nil)
	login := app.signupAndLogin(t, "alice", "Alice")

	w, resp := app.do(t, http.MethodPost, "/api/save-sub", login.AccessToken, gin.H{
		"sub": gin.H{"endpoint": "https://push.example/1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeInvalidParams, resp.Code)

	w, _ = app.do(t, http.MethodPost, "/api/save-sub", login.AccessToken, gin.H{
		"sub": gin.H{"endpoint": "https://push.example/1", "keys": gin.H{"p256dh": "p", "auth": "a"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sub, err := app.subs.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, sub)

	w, _ = app.do(t, http.MethodPost, "/api/delete-account", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sub, err = app.subs.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, sub)

	// 注销后 Token 已吊销
	w, _ = app.do(t, http.MethodPost, "/api/delete-account", login.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	app := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://chat.example")
	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://chat.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	app := newTestApp(t, func(cfg *config.WebConfig) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		w, _ := app.do(t, http.MethodGet, "/api/online-users", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := app.do(t, http.MethodGet, "/api/online-users", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.CodeTooManyRequests, resp.Code)
}
