package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	relayRedis "sudooom.im.relay/internal/redis"
)

// leaveScript 原子地移除节点，并在房间无节点时将其标记离线
// KEYS[1]=room key, KEYS[2]=node key, KEYS[3]=online key
// ARGV[1]=nodeID, ARGV[2]=room
var leaveScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[2])
if removed == 1 and redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// Redis 基于 Redis 集合的集群在线状态
type Redis struct {
	client *redis.Client
	nodeID string
}

func NewRedis(client *redis.Client, nodeID string) *Redis {
	return &Redis{client: client, nodeID: nodeID}
}

func (r *Redis) Join(ctx context.Context, room string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, relayRedis.BuildPresenceRoomKey(room), r.nodeID)
		pipe.SAdd(ctx, relayRedis.BuildPresenceNodeKey(r.nodeID), room)
		pipe.SAdd(ctx, relayRedis.PresenceOnlineKey, room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join %s: %w", room, err)
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, room string) (bool, error) {
	offline, err := leaveScript.Run(ctx, r.client,
		[]string{
			relayRedis.BuildPresenceRoomKey(room),
			relayRedis.BuildPresenceNodeKey(r.nodeID),
			relayRedis.PresenceOnlineKey,
		},
		r.nodeID, room,
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence leave %s: %w", room, err)
	}
	return offline == 1, nil
}

func (r *Redis) Online(ctx context.Context) ([]string, error) {
	rooms, err := r.client.SMembers(ctx, relayRedis.PresenceOnlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (r *Redis) Nodes(ctx context.Context, room string) ([]string, error) {
	nodes, err := r.client.SMembers(ctx, relayRedis.BuildPresenceRoomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence nodes %s: %w", room, err)
	}
	sort.Strings(nodes)
	return nodes, nil
}

func (r *Redis) IsOnline(ctx context.Context, room string) (bool, error) {
	online, err := r.client.SIsMember(ctx, relayRedis.PresenceOnlineKey, room).Result()
	if err != nil {
		return false, fmt.Errorf("presence is online %s: %w", room, err)
	}
	return online, nil
}

func (r *Redis) Reset(ctx context.Context) ([]string, error) {
	nodeKey := relayRedis.BuildPresenceNodeKey(r.nodeID)
	rooms, err := r.client.SMembers(ctx, nodeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence reset: %w", err)
	}

	var offline []string
	for _, room := range rooms {
		gone, err := r.Leave(ctx, room)
		if err != nil {
			return offline, err
		}
		if gone {
			offline = append(offline, room)
		}
	}
	if err := r.client.Del(ctx, nodeKey).Err(); err != nil {
		return offline, fmt.Errorf("presence reset: %w", err)
	}
	sort.Strings(offline)
	return offline, nil
}
