// Package presence 维护集群视角的在线状态：房间（userId）在哪些节点上有连接。
//
// 节点本地的连接与房间由 connection.Manager 管理；只有当某个房间在本节点
// 由空变为非空（或反之）时才需要调用 Store.Join / Store.Leave。
package presence

import (
	"context"
	"sort"
	"sync"
)

// Store 集群在线状态
type Store interface {
	// Join 记录本节点持有该房间
	Join(ctx context.Context, room string) error
	// Leave 本节点不再持有该房间；offline 表示整个集群已无该房间的连接
	Leave(ctx context.Context, room string) (offline bool, err error)
	// Online 当前在线的房间快照
	Online(ctx context.Context) ([]string, error)
	// Nodes 持有该房间连接的节点
	Nodes(ctx context.Context, room string) ([]string, error)
	IsOnline(ctx context.Context, room string) (bool, error)
	// Reset 清理本节点残留的记录（节点崩溃重启后调用），返回因此离线的房间
	Reset(ctx context.Context) ([]string, error)
}

type memoryState struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> nodeID set
}

// Memory 进程内实现；多个节点视图可以共享同一份状态（测试多节点路由时使用）
type Memory struct {
	nodeID string
	state  *memoryState
}

func NewMemory(nodeID string) *Memory {
	return &Memory{
		nodeID: nodeID,
		state:  &memoryState{rooms: make(map[string]map[string]struct{})},
	}
}

// ForNode 返回共享同一份状态的另一个节点视图
func (m *Memory) ForNode(nodeID string) *Memory {
	return &Memory{nodeID: nodeID, state: m.state}
}

func (m *Memory) Join(_ context.Context, room string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	nodes, ok := m.state.rooms[room]
	if !ok {
		nodes = make(map[string]struct{})
		m.state.rooms[room] = nodes
	}
	nodes[m.nodeID] = struct{}{}
	return nil
}

func (m *Memory) Leave(_ context.Context, room string) (bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return m.leaveLocked(room), nil
}

func (m *Memory) leaveLocked(room string) bool {
	nodes, ok := m.state.rooms[room]
	if !ok {
		return false
	}
	if _, held := nodes[m.nodeID]; !held {
		return false
	}
	delete(nodes, m.nodeID)
	if len(nodes) == 0 {
		delete(m.state.rooms, room)
		return true
	}
	return false
}

func (m *Memory) Online(_ context.Context) ([]string, error) {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()

	rooms := make([]string, 0, len(m.state.rooms))
	for room := range m.state.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (m *Memory) Nodes(_ context.Context, room string) ([]string, error) {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()

	nodes := make([]string, 0, len(m.state.rooms[room]))
	for node := range m.state.rooms[room] {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes, nil
}

func (m *Memory) IsOnline(_ context.Context, room string) (bool, error) {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return len(m.state.rooms[room]) > 0, nil
}

func (m *Memory) Reset(_ context.Context) ([]string, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	var offline []string
	for room, nodes := range m.state.rooms {
		if _, held := nodes[m.nodeID]; held && m.leaveLocked(room) {
			offline = append(offline, room)
		}
	}
	sort.Strings(offline)
	return offline, nil
}
