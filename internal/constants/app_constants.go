package constants

const (
	// 消息队列拓扑常量 (可被配置覆盖，这里是默认值)
	MatchEventsExchange = "match.events.exchange"
	MatchRequestedKey   = "match.requested"
	MatchRequestedQueue = "q.match_requested"

	// 消费者并发范围
	// 每条消息由一个worker独占处理，worker数量固定在该区间内
	MinConsumerWorkers = 3
	MaxConsumerWorkers = 10

	// DefaultTopMatches 单次匹配返回的候选人数上限
	DefaultTopMatches = 20
)
