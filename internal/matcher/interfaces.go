package matcher

import (
	"context"
	"time"

	"dating-match-go/internal/storage/models"
	"dating-match-go/internal/types"
)

// Algorithm 匹配算法的统一入口
// 消费者只依赖这个接口，不关心内部是启发式评分还是LLM复评
type Algorithm interface {
	// CalculateMatches 对指定用户执行一次完整的匹配计算
	// 可能耗时数秒，调用方通过ctx控制取消和超时
	CalculateMatches(ctx context.Context, user *models.User) (*types.MatchingResult, error)
}

// CandidateSource 候选人来源
// 由MySQL存储层实现，负责排除自身、停用用户、已点赞和有举报关系的用户
type CandidateSource interface {
	ListCandidates(ctx context.Context, userID uint64) ([]models.User, error)
}

// AvatarPresigner 头像预签名URL生成器
// 对象存储未配置时允许为nil，此时结果中不带头像链接
type AvatarPresigner interface {
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// AffinityJudge 基于LLM的契合度复评器
// 评估失败时调用方降级使用启发式分数，不中断整个匹配流程
type AffinityJudge interface {
	EvaluateAffinity(ctx context.Context, subject *models.User, candidate *models.User) (*AffinityEvaluation, error)
}

// AffinityEvaluation LLM复评结果
type AffinityEvaluation struct {
	AffinityScore int      `json:"affinity_score"` // 0-100
	Highlights    []string `json:"highlights"`
}
