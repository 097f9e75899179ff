package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	appErrors "sudooom.im.relay/internal/errors"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/model"
	"sudooom.im.relay/internal/repository"
)

var ErrEmailExists = appErrors.NewError(appErrors.CodeUserExists, "Email already exists")

// 踢出原因，随广播发往中继节点
const (
	EvictLogout         = "logout"
	EvictAccountDeleted = "account deleted"
)

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByUserID(ctx context.Context, userID string) (*model.User, error)
	Exists(ctx context.Context, userID string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*model.User, error)
}

// TokenStore 已签发 Token 存储
type TokenStore interface {
	SaveToken(ctx context.Context, info *repository.TokenInfo, accessToken string, expiration time.Duration) error
	IsActive(ctx context.Context, userID, accessToken string) (bool, error)
	DeleteToken(ctx context.Context, userID, accessToken string) error
	DeleteUserTokens(ctx context.Context, userID string) error
}

// Evictor 关闭某个房间在集群内的全部连接
type Evictor interface {
	Evict(room, reason string) error
}

// SubscriptionRemover 注销时清理推送订阅
type SubscriptionRemover interface {
	Delete(ctx context.Context, userID string) error
}

// SignupRequest 注册请求
type SignupRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=50"`
	UserID   string `json:"userId" binding:"required,min=1,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// SignupResponse 注册响应
type SignupResponse struct {
	UserID string `json:"userId"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"deviceId"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// AuthService 认证服务
type AuthService struct {
	users      UserStore
	tokens     TokenStore
	subs       SubscriptionRemover
	evictor    Evictor
	jwtService *jwt.Service
	logger     *slog.Logger
}

// NewAuthService 创建认证服务，evictor 与 subs 可以为 nil
func NewAuthService(users UserStore, tokens TokenStore, subs SubscriptionRemover, evictor Evictor, jwtService *jwt.Service, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		subs:       subs,
		evictor:    evictor,
		jwtService: jwtService,
		logger:     logger,
	}
}

// Signup 用户注册
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*SignupResponse, error) {
	exists, err := s.users.Exists(ctx, req.UserID)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if exists {
		return nil, appErrors.ErrUserExists
	}

	exists, err = s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	// 密码加密
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}

	user := &model.User{
		UserID:       req.UserID,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 并发注册时由唯一约束兜底
		switch {
		case errors.Is(err, repository.ErrUserExists):
			return nil, appErrors.ErrUserExists
		case errors.Is(err, repository.ErrEmailExists):
			return nil, ErrEmailExists
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	s.logger.Info("User signed up", "user_id", user.UserID)
	return &SignupResponse{UserID: user.UserID}, nil
}

// Login 用户登录；userId、name、password 必须全部匹配
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.users.GetByUserID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	if user.Name != req.Name {
		return nil, appErrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	token, err := s.jwtService.Generate(user.UserID, req.DeviceID)
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}

	info := &repository.TokenInfo{UserID: user.UserID, Name: user.Name, DeviceID: req.DeviceID}
	if err := s.tokens.SaveToken(ctx, info, token.AccessToken, s.jwtService.Expire()); err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}

	s.logger.Info("User logged in", "user_id", user.UserID)
	return &LoginResponse{
		UserID:      user.UserID,
		AccessToken: token.AccessToken,
		ExpiresAt:   token.ExpiresAt,
	}, nil
}

// ValidateToken 校验签名并确认 Token 未被吊销，返回 userId
func (s *AuthService) ValidateToken(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.jwtService.Validate(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", appErrors.ErrTokenExpired
		}
		return "", appErrors.ErrTokenInvalid
	}

	active, err := s.tokens.IsActive(ctx, claims.UserID, accessToken)
	if err != nil {
		return "", appErrors.ErrServerError.Wrap(err)
	}
	if !active {
		return "", appErrors.ErrTokenInvalid
	}
	return claims.UserID, nil
}

// Logout 吊销当前 Token，并关闭该用户的实时连接
func (s *AuthService) Logout(ctx context.Context, userID, accessToken string) error {
	if err := s.tokens.DeleteToken(ctx, userID, accessToken); err != nil {
		return appErrors.ErrServerError.Wrap(err)
	}
	s.evict(userID, EvictLogout)
	s.logger.Info("User logged out", "user_id", userID)
	return nil
}

// DeleteAccount 删除用户及其 Token、推送订阅，并关闭实时连接
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return appErrors.ErrUserNotFound
		}
		return appErrors.ErrDBError.Wrap(err)
	}

	if err := s.tokens.DeleteUserTokens(ctx, userID); err != nil {
		s.logger.Error("Failed to revoke tokens", "user_id", userID, "error", err)
	}
	if s.subs != nil {
		if err := s.subs.Delete(ctx, userID); err != nil {
			s.logger.Error("Failed to delete push subscription", "user_id", userID, "error", err)
		}
	}
	s.evict(userID, EvictAccountDeleted)
	s.logger.Info("Account deleted", "user_id", userID)
	return nil
}

func (s *AuthService) evict(userID, reason string) {
	if s.evictor == nil {
		return
	}
	if err := s.evictor.Evict(userID, reason); err != nil {
		s.logger.Warn("Failed to broadcast eviction", "user_id", userID, "reason", reason, "error", err)
	}
}
