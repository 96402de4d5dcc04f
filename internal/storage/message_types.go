package storage

import "time"

// MatchRequestedMessage 匹配请求事件消息
// 由编排器发布，消费者按matching_request_id回查数据库获取权威状态
type MatchRequestedMessage struct {
	MatchingRequestID uint64    `json:"matching_request_id"` // 匹配请求的内部ID
	UserID            uint64    `json:"user_id"`             // 发起请求的用户ID
	RequestID         string    `json:"request_id"`          // 对外可见的关联令牌(UUID)
	Timestamp         time.Time `json:"timestamp"`           // 事件产生时间
}
