package handler

import (
	"context"
	"errors"
	"fmt"

	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/jwt"
)

// join 拒绝原因，会原样回给客户端
var (
	ErrTokenRequired = errors.New("token required")
	ErrTokenMismatch = errors.New("token does not belong to user")
	ErrTokenRevoked  = errors.New("token revoked")
	ErrUnknownUser   = errors.New("unknown user")
)

// Authenticator join 时的信任决策
type Authenticator interface {
	Authenticate(ctx context.Context, req *event.JoinRequest) error
}

// AllowAll 身份自报，不做校验
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, *event.JoinRequest) error { return nil }

// TokenStore 已签发 token 的存储（登出后失效）
type TokenStore interface {
	IsActive(ctx context.Context, userID, token string) (bool, error)
}

// TokenAuthenticator 校验 /api/login 签发的 JWT，subject 必须等于 userId
type TokenAuthenticator struct {
	jwt    *jwt.Service
	tokens TokenStore
}

// NewTokenAuthenticator tokens 为 nil 时只校验签名和有效期
func NewTokenAuthenticator(svc *jwt.Service, tokens TokenStore) *TokenAuthenticator {
	return &TokenAuthenticator{jwt: svc, tokens: tokens}
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, req *event.JoinRequest) error {
	if req.Token == "" {
		return ErrTokenRequired
	}
	claims, err := a.jwt.Validate(req.Token)
	if err != nil {
		return err
	}
	if claims.UserID != req.UserID {
		return ErrTokenMismatch
	}
	if a.tokens == nil {
		return nil
	}

	active, err := a.tokens.IsActive(ctx, req.UserID, req.Token)
	if err != nil {
		return fmt.Errorf("check token: %w", err)
	}
	if !active {
		return ErrTokenRevoked
	}
	return nil
}

// UserDirectory 用户目录
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// DirectoryAuthenticator 只允许目录中存在的用户 join
type DirectoryAuthenticator struct {
	users UserDirectory
}

func NewDirectoryAuthenticator(users UserDirectory) *DirectoryAuthenticator {
	return &DirectoryAuthenticator{users: users}
}

func (a *DirectoryAuthenticator) Authenticate(ctx context.Context, req *event.JoinRequest) error {
	ok, err := a.users.Exists(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return ErrUnknownUser
	}
	return nil
}
