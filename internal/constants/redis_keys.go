package constants

import "time"

// Redis Key 格式常量
// 匹配结果的键格式由客户端协议固定为 "matching:{userId}"，不加应用前缀
const (
	// KeyMatchingResult 匹配结果缓存 (STRING, JSON值)
	// 格式: matching:{userID}
	KeyMatchingResult = "matching:%d"

	// MatchingResultTTL 匹配结果的默认过期时间
	// 结果只在短时间内有意义，过期后视为不存在，由客户端重新发起匹配
	MatchingResultTTL = 10 * time.Minute
)
