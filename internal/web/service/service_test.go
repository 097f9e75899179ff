package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.im.relay/internal/errors"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/push"
	"sudooom.im.relay/internal/repository"
)

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []string
	err     error
}

func (e *recordingEvictor) Evict(room, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = append(e.evicted, room+":"+reason)
	return e.err
}

type fixture struct {
	auth    *AuthService
	users   *UserService
	tokens  *repository.MemoryTokens
	subs    *push.MemorySubscriptions
	evictor *recordingEvictor
	online  *presence.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := repository.NewMemoryUsers()
	f := &fixture{
		tokens:  repository.NewMemoryTokens(),
		subs:    push.NewMemorySubscriptions(),
		evictor: &recordingEvictor{},
		online:  presence.NewMemory("node-1"),
	}
	f.auth = NewAuthService(users, f.tokens, f.subs, f.evictor, jwt.NewService("secret", time.Hour), logger)
	f.users = NewUserService(users, f.online, f.subs, logger)
	return f
}

func (f *fixture) signupAndLogin(t *testing.T, userID, name string) *LoginResponse {
	t.Helper()
	ctx := context.Background()
	_, err := f.auth.Signup(ctx, &SignupRequest{Name: name, UserID: userID, Email: userID + "@example.com", Password: "secret1"})
	require.NoError(t, err)
	resp, err := f.auth.Login(ctx, &LoginRequest{Name: name, UserID: userID, Password: "secret1"})
	require.NoError(t, err)
	return resp
}

func TestSignup_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.auth.Signup(ctx, &SignupRequest{Name: "Alice", UserID: "alice", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.UserID)

	_, err = f.auth.Signup(ctx, &SignupRequest{Name: "Alice", UserID: "alice", Email: "b@example.com", Password: "secret1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrUserExists))

	_, err = f.auth.Signup(ctx, &SignupRequest{Name: "Alice", UserID: "alice2", Email: "a@example.com", Password: "secret1"})
	assert.Equal(t, ErrEmailExists, err)
}

func TestLogin_AllFieldsMustMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.signupAndLogin(t, "alice", "Alice")
	assert.Equal(t, "alice", resp.UserID)
	assert.NotEmpty(t, resp.AccessToken)

	cases := []LoginRequest{
		{Name: "Alice", UserID: "alice", Password: "wrong"},
		{Name: "Alicia", UserID: "alice", Password: "secret1"},
		{Name: "Alice", UserID: "nobody", Password: "secret1"},
	}
	for _, req := range cases {
		_, err := f.auth.Login(ctx, &req)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials), "%+v", req)
	}
}

func TestLogout_RevokesAndEvicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.signupAndLogin(t, "alice", "Alice")

	userID, err := f.auth.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	require.NoError(t, f.auth.Logout(ctx, "alice", resp.AccessToken))
	_, err = f.auth.ValidateToken(ctx, resp.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenInvalid))
	assert.Equal(t, []string{"alice:" + EvictLogout}, f.evictor.evicted)
}

func TestLogout_EvictFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.evictor.err = errors.New("nats down")
	resp := f.signupAndLogin(t, "alice", "Alice")
	assert.NoError(t, f.auth.Logout(context.Background(), "alice", resp.AccessToken))
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.signupAndLogin(t, "alice", "Alice")
	require.NoError(t, f.subs.Save(ctx, "alice", &webpush.Subscription{Endpoint: "https://push.example/1"}))

	require.NoError(t, f.auth.DeleteAccount(ctx, "alice"))

	active, err := f.tokens.IsActive(ctx, "alice", resp.AccessToken)
	require.NoError(t, err)
	assert.False(t, active)
	sub, err := f.subs.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, []string{"alice:" + EvictAccountDeleted}, f.evictor.evicted)

	err = f.auth.DeleteAccount(ctx, "alice")
	assert.True(t, appErrors.Is(err, appErrors.ErrUserNotFound))
}

func TestOnlineUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupAndLogin(t, "alice", "Alice")
	f.signupAndLogin(t, "bob", "Bob")

	resp, err := f.users.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, resp.Users, 2)
	assert.Empty(t, resp.Online, "登录不代表在线")

	require.NoError(t, f.online.Join(ctx, "bob"))
	resp, err = f.users.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, resp.Online)
}

func TestSaveSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.users.SaveSubscription(ctx, "alice", &webpush.Subscription{Endpoint: "https://push.example/1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidParams))

	sub := &webpush.Subscription{Endpoint: "https://push.example/2"}
	sub.Keys.P256dh = "p256"
	sub.Keys.Auth = "auth"
	require.NoError(t, f.users.SaveSubscription(ctx, "alice", sub))

	got, err := f.subs.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/2", got.Endpoint)
}
