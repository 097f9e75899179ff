package redis

import (
	"fmt"
)

const (
	// PresenceOnlineKey 全局在线房间集合
	PresenceOnlineKey = "im:presence:online"

	// PresenceRoomKeyPrefix 房间所在节点集合前缀
	// 完整格式: im:presence:room:{userId}
	PresenceRoomKeyPrefix = "im:presence:room:"

	// PresenceNodeKeyPrefix 节点持有房间集合前缀
	// 完整格式: im:presence:node:{nodeId}
	PresenceNodeKeyPrefix = "im:presence:node:"

	// CallSessionKeyPrefix 通话会话前缀
	// 完整格式: im:call:session:{pairKey}:{modality}
	CallSessionKeyPrefix = "im:call:session:"

	// CallUserKeyPrefix 用户参与的通话会话索引
	// 完整格式: im:call:user:{userId}
	CallUserKeyPrefix = "im:call:user:"

	// PushSubKeyPrefix Web Push 订阅前缀
	// 完整格式: im:push:sub:{userId}
	PushSubKeyPrefix = "im:push:sub:"

	// UserTokenKeyPrefix 用户 Token 集合前缀: user:token:{userId} -> set(accessToken)
	UserTokenKeyPrefix = "user:token:"

	// TokenInfoKeyPrefix Token 信息前缀: token:info:{accessToken} -> JSON
	TokenInfoKeyPrefix = "token:info:"
)

// BuildPresenceRoomKey 构建房间节点集合 Key
func BuildPresenceRoomKey(userID string) string {
	return PresenceRoomKeyPrefix + userID
}

// BuildPresenceNodeKey 构建节点房间集合 Key
func BuildPresenceNodeKey(nodeID string) string {
	return PresenceNodeKeyPrefix + nodeID
}

// BuildCallSessionKey 构建通话会话 Key
func BuildCallSessionKey(pairKey, modality string) string {
	return fmt.Sprintf("%s%s:%s", CallSessionKeyPrefix, pairKey, modality)
}

// BuildCallUserKey 构建用户通话索引 Key
func BuildCallUserKey(userID string) string {
	return CallUserKeyPrefix + userID
}

// BuildPushSubKey 构建推送订阅 Key
func BuildPushSubKey(userID string) string {
	return PushSubKeyPrefix + userID
}

// BuildUserTokenKey 构建用户 Token Key
func BuildUserTokenKey(userID string) string {
	return UserTokenKeyPrefix + userID
}

// BuildTokenInfoKey 构建 Token 信息 Key
func BuildTokenInfoKey(accessToken string) string {
	return TokenInfoKeyPrefix + accessToken
}
