package service

import (
	"context"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	appErrors "sudooom.im.relay/internal/errors"
	"sudooom.im.relay/internal/model"
	"sudooom.im.relay/internal/push"
)

// OnlineLister 集群在线房间
type OnlineLister interface {
	Online(ctx context.Context) ([]string, error)
}

// OnlineUsersResponse 用户列表与在线房间
type OnlineUsersResponse struct {
	Users  []model.UserSummary `json:"users"`
	Online []string            `json:"online"`
}

// UserService 用户查询与推送订阅
type UserService struct {
	users    UserStore
	presence OnlineLister
	subs     push.Subscriptions
	logger   *slog.Logger
}

// NewUserService 创建用户服务
func NewUserService(users UserStore, presence OnlineLister, subs push.Subscriptions, logger *slog.Logger) *UserService {
	return &UserService{
		users:    users,
		presence: presence,
		subs:     subs,
		logger:   logger,
	}
}

// OnlineUsers 全部注册用户，以及当前至少有一个连接的房间
func (s *UserService) OnlineUsers(ctx context.Context) (*OnlineUsersResponse, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, appErrors.ErrDBError.Wrap(err)
	}

	online, err := s.presence.Online(ctx)
	if err != nil {
		return nil, appErrors.ErrServerError.Wrap(err)
	}

	resp := &OnlineUsersResponse{
		Users:  make([]model.UserSummary, 0, len(users)),
		Online: online,
	}
	if resp.Online == nil {
		resp.Online = []string{}
	}
	for _, u := range users {
		resp.Users = append(resp.Users, model.UserSummary{UserID: u.UserID, Name: u.Name})
	}
	return resp, nil
}

// SaveSubscription 保存推送订阅，覆盖该用户之前的订阅
func (s *UserService) SaveSubscription(ctx context.Context, userID string, sub *webpush.Subscription) error {
	if err := push.ValidateSubscription(sub); err != nil {
		return appErrors.ErrInvalidParams.Wrap(err)
	}
	if err := s.subs.Save(ctx, userID, sub); err != nil {
		return appErrors.ErrServerError.Wrap(err)
	}
	s.logger.Debug("Push subscription saved", "user_id", userID)
	return nil
}
