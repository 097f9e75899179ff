package connection

import (
	"sync"
)

// JoinResult 加入房间的结果
type JoinResult struct {
	// Previous 之前所在的房间（重复 join 其他身份时）
	Previous string
	// PreviousEmptied 之前的房间因本次迁移变为空
	PreviousEmptied bool
	// First 本连接是该房间的第一个成员
	First bool
	// Unchanged 已在该房间内，无任何变化
	Unchanged bool
}

// Manager 管理所有连接以及房间（房间名即 userId）
type Manager struct {
	connections map[int64]*Connection
	rooms       map[string]map[int64]*Connection // room -> connID -> Connection
	mu          sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		connections: make(map[int64]*Connection),
		rooms:       make(map[string]map[int64]*Connection),
	}
}

func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID()] = conn
}

// Remove 移除连接，返回其所在房间以及房间是否因此变空
func (m *Manager) Remove(connID int64) (room string, emptied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return "", false
	}
	delete(m.connections, connID)

	room = conn.UserID()
	if room == "" {
		return "", false
	}
	return room, m.leaveLocked(room, connID)
}

func (m *Manager) leaveLocked(room string, connID int64) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[connID]; !in {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, room)
		return true
	}
	return false
}

// Join 把连接放入房间；已在其他房间时先迁出
func (m *Manager) Join(connID int64, room string) (JoinResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return JoinResult{}, false
	}

	var res JoinResult
	if prev := conn.UserID(); prev != "" {
		if prev == room {
			if _, in := m.rooms[room][connID]; in {
				return JoinResult{Unchanged: true}, true
			}
		} else {
			res.Previous = prev
			res.PreviousEmptied = m.leaveLocked(prev, connID)
		}
	}

	members, ok := m.rooms[room]
	if !ok {
		members = make(map[int64]*Connection)
		m.rooms[room] = members
	}
	res.First = len(members) == 0
	members[connID] = conn
	conn.BindUser(room)
	return res, true
}

func (m *Manager) Get(connID int64) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connections[connID]
}

// Members 返回房间内所有连接
func (m *Manager) Members(room string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.rooms[room]
	if !ok {
		return nil
	}

	conns := make([]*Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	return conns
}

// HasRoom 房间在本节点是否非空
func (m *Manager) HasRoom(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room]) > 0
}

// EmitLocal 向本节点房间内所有连接发送，返回成功入队的连接数
func (m *Manager) EmitLocal(room string, data []byte) int {
	delivered := 0
	for _, conn := range m.Members(room) {
		if err := conn.Send(data); err != nil {
			conn.Logger().Warn("Dropped frame", "room", room, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Rooms 本节点所有非空房间
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// GetAllConnections 返回所有连接（用于心跳检测）
func (m *Manager) GetAllConnections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	return conns
}
