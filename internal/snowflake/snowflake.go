// Package snowflake 生成集群内唯一、按时间递增的消息 id
//
// 布局：41 位毫秒时间戳（自 2024-01-01 UTC）| 10 位节点 | 12 位序号。
package snowflake

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

const (
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	timestampShift = nodeBits + sequenceBits
)

type ID int64

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Base36 消息 id 的线上形式，只含 [0-9a-z]
func (id ID) Base36() string { return strconv.FormatInt(int64(id), 36) }

func (id ID) Int64() int64 { return int64(id) }

// Time id 内嵌的生成时间
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id)>>timestampShift + epoch).UTC()
}

// Node 单个中继节点上的 id 生成器
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
	now      func() int64
}

// NewNode 超出 [0, 1023] 的 nodeID 回退为 1
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		nodeID = 1
	}
	return &Node{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NodeIDFromString 节点名哈希到节点号
func NodeIDFromString(name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum32() & maxNodeID)
}

// Generate 同一毫秒内序号递增；序号用尽时等到下一毫秒，时钟回拨时沿用上次的毫秒
func (n *Node) Generate() ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := max(n.now(), n.lastTime)
	if ms == n.lastTime {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			ms = n.waitAfter(n.lastTime)
		}
	} else {
		n.sequence = 0
	}
	n.lastTime = ms

	return ID((ms-epoch)<<timestampShift | n.nodeID<<sequenceBits | n.sequence)
}

func (n *Node) waitAfter(ms int64) int64 {
	now := n.now()
	for now <= ms {
		now = n.now()
	}
	return now
}

// NextString 生成一个 base36 id
func (n *Node) NextString() string {
	return n.Generate().Base36()
}
