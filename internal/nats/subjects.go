package nats

// NATS Subject 常量定义
const (
	// SubjectRelayDownstreamPrefix 跨节点房间投递前缀
	// 完整格式: im.relay.{node_id}.downstream
	SubjectRelayDownstreamPrefix = "im.relay."
	SubjectRelayDownstreamSuffix = ".downstream"

	// SubjectRelayBroadcast 所有中继节点广播（踢出房间等）
	SubjectRelayBroadcast = "im.relay.broadcast"
)

// BuildRelayDownstreamSubject 构建中继节点下行 Subject
func BuildRelayDownstreamSubject(nodeID string) string {
	return SubjectRelayDownstreamPrefix + nodeID + SubjectRelayDownstreamSuffix
}
