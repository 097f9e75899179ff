// Package router 把帧投递到房间：本节点连接直接写入，其他节点经 NATS 转发。
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"sudooom.im.relay/internal/connection"
	"sudooom.im.relay/internal/nats"
	"sudooom.im.relay/internal/presence"
)

// Publisher 跨节点发布（nil 表示单节点部署）
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber 订阅下行消息
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) error
}

// Delivery 一次房间投递的结果
type Delivery struct {
	Local  int // 本节点写入的连接数
	Remote int // 转发到的其他节点数
}

// Dropped 房间当前没有任何连接
func (d Delivery) Dropped() bool {
	return d.Local == 0 && d.Remote == 0
}

// Router 房间投递
type Router struct {
	nodeID    string
	manager   *connection.Manager
	presence  presence.Store
	publisher Publisher
	logger    *slog.Logger
}

func New(nodeID string, manager *connection.Manager, store presence.Store, publisher Publisher, logger *slog.Logger) *Router {
	return &Router{
		nodeID:    nodeID,
		manager:   manager,
		presence:  store,
		publisher: publisher,
		logger:    logger,
	}
}

// EmitToRoom 向房间的所有连接投递帧
func (r *Router) EmitToRoom(ctx context.Context, room string, frame []byte) Delivery {
	d := Delivery{Local: r.manager.EmitLocal(room, frame)}
	if r.publisher == nil {
		return d
	}

	nodes, err := r.presence.Nodes(ctx, room)
	if err != nil {
		r.logger.Error("Failed to look up room nodes", "room", room, "error", err)
		return d
	}

	var payload []byte
	for _, node := range nodes {
		if node == r.nodeID {
			continue
		}
		if payload == nil {
			payload, err = json.Marshal(nats.Envelope{
				Type:   nats.EnvelopeEmit,
				Room:   room,
				Frame:  frame,
				Origin: r.nodeID,
			})
			if err != nil {
				r.logger.Error("Failed to encode envelope", "room", room, "error", err)
				return d
			}
		}
		if err := r.publisher.Publish(nats.BuildRelayDownstreamSubject(node), payload); err != nil {
			r.logger.Error("Failed to publish downstream", "room", room, "node", node, "error", err)
			continue
		}
		d.Remote++
	}
	return d
}

// Evict 关闭房间在整个集群内的所有连接
func (r *Router) Evict(room, reason string) {
	if r.publisher == nil {
		r.evictLocal(room, reason)
		return
	}
	data, err := nats.EncodeEvict(room, reason)
	if err != nil {
		r.logger.Error("Failed to encode evict", "room", room, "error", err)
		return
	}
	// 广播也会回到本节点
	if err := r.publisher.Publish(nats.SubjectRelayBroadcast, data); err != nil {
		r.logger.Error("Failed to publish evict", "room", room, "error", err)
		r.evictLocal(room, reason)
	}
}

func (r *Router) evictLocal(room, reason string) int {
	members := r.manager.Members(room)
	for _, conn := range members {
		conn.CloseWithReason(reason)
	}
	if len(members) > 0 {
		r.logger.Info("Evicted room", "room", room, "connections", len(members), "reason", reason)
	}
	return len(members)
}

// Subscribe 订阅本节点下行与广播 Subject
func (r *Router) Subscribe(sub Subscriber) error {
	if err := sub.Subscribe(nats.BuildRelayDownstreamSubject(r.nodeID), r.HandleDownstream); err != nil {
		return err
	}
	return sub.Subscribe(nats.SubjectRelayBroadcast, r.HandleDownstream)
}

// HandleDownstream 处理其他节点发来的下行消息
func (r *Router) HandleDownstream(data []byte) {
	var env nats.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("Malformed downstream envelope", "error", err)
		return
	}

	switch env.Type {
	case nats.EnvelopeEmit:
		r.manager.EmitLocal(env.Room, env.Frame)
	case nats.EnvelopeEvict:
		r.evictLocal(env.Room, env.Reason)
	default:
		r.logger.Warn("Unknown downstream envelope", "type", env.Type)
	}
}
