package types

import "time"

// MatchingStatus 表示匹配请求的处理状态
type MatchingStatus string

const (
	// MatchingPending 请求已落库，等待worker拾取
	MatchingPending MatchingStatus = "PENDING"
	// MatchingProcessing worker已接手，算法计算中
	MatchingProcessing MatchingStatus = "PROCESSING"
	// MatchingCompleted 计算完成，结果已写入缓存
	MatchingCompleted MatchingStatus = "COMPLETED"
	// MatchingFailed 处理过程中出现异常，结果不可用
	MatchingFailed MatchingStatus = "FAILED"
)

// IsTerminal 判断状态是否为终态
// 终态不会再被状态机改写，重复投递按幂等重算处理
func (s MatchingStatus) IsTerminal() bool {
	return s == MatchingCompleted || s == MatchingFailed
}

// statusDescriptions 状态的展示文案，与状态标签本身分离维护
var statusDescriptions = map[MatchingStatus]string{
	MatchingPending:    "매칭 요청이 접수되었습니다",
	MatchingProcessing: "매칭 계산이 진행 중입니다",
	MatchingCompleted:  "매칭이 완료되었습니다",
	MatchingFailed:     "매칭 처리에 실패했습니다",
}

// StatusDescription 返回状态对应的用户可见描述
// 未知状态返回空字符串，由调用方决定兜底文案
func StatusDescription(s MatchingStatus) string {
	return statusDescriptions[s]
}

// UserMatchScore 单个候选人的匹配评分条目
type UserMatchScore struct {
	CandidateID     uint64   `json:"candidate_id"`
	Nickname        string   `json:"nickname"`
	Age             int      `json:"age"`
	MBTI            string   `json:"mbti"`
	Interests       []string `json:"interests"`
	ProfileImageURL string   `json:"profile_image_url,omitempty"`
	MatchScore      float64  `json:"match_score"` // 归一化到 [0.0, 1.0]

	// AI评估补充的亮点说明，启用LLM评估器时才有值
	Highlights []string `json:"highlights,omitempty"`
}

// MatchingResult 一次匹配计算的完整结果，只存在于缓存中
type MatchingResult struct {
	UserID          uint64           `json:"user_id"`
	GeneratedAt     time.Time        `json:"generated_at"`
	TotalCandidates int              `json:"total_candidates"` // 参与评分的候选人总数，可能大于返回条数
	Matches         []UserMatchScore `json:"matches"`          // 按分数降序
}
