package matcher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"dating-match-go/internal/constants"
	"dating-match-go/internal/logger"
	"dating-match-go/internal/storage/models"
	"dating-match-go/internal/types"
)

// 启发式评分的维度权重，三项之和为1
const (
	weightInterests = 0.5
	weightMBTI      = 0.3
	weightAge       = 0.2
)

// LLM复评启用时，启发式分数与LLM分数的混合比例
const llmBlendRatio = 0.6

// ProfileScorer 基于资料的匹配评分器
// 先对全部候选人做启发式打分，再视配置对头部候选人做LLM复评
type ProfileScorer struct {
	candidates CandidateSource
	presigner  AvatarPresigner
	judge      AffinityJudge

	topMatches    int
	maxEvaluated  int           // 参与LLM复评的候选人数上限
	presignExpiry time.Duration // 头像链接有效期
	evalTimeout   time.Duration // 单个候选人的LLM复评超时

	now func() time.Time
}

// ScorerOption 评分器配置选项
type ScorerOption func(*ProfileScorer)

// WithTopMatches 设置单次返回的候选人数上限
func WithTopMatches(n int) ScorerOption {
	return func(s *ProfileScorer) {
		if n > 0 {
			s.topMatches = n
		}
	}
}

// WithAvatarPresigner 设置头像预签名生成器
func WithAvatarPresigner(p AvatarPresigner, expiry time.Duration) ScorerOption {
	return func(s *ProfileScorer) {
		s.presigner = p
		if expiry > 0 {
			s.presignExpiry = expiry
		}
	}
}

// WithAffinityJudge 启用LLM复评
func WithAffinityJudge(j AffinityJudge, maxEvaluated int, evalTimeout time.Duration) ScorerOption {
	return func(s *ProfileScorer) {
		s.judge = j
		if maxEvaluated > 0 {
			s.maxEvaluated = maxEvaluated
		}
		if evalTimeout > 0 {
			s.evalTimeout = evalTimeout
		}
	}
}

// withClock 测试用，固定时间来源
func withClock(now func() time.Time) ScorerOption {
	return func(s *ProfileScorer) {
		s.now = now
	}
}

// NewProfileScorer 创建评分器
func NewProfileScorer(candidates CandidateSource, options ...ScorerOption) *ProfileScorer {
	s := &ProfileScorer{
		candidates:    candidates,
		topMatches:    constants.DefaultTopMatches,
		maxEvaluated:  5,
		presignExpiry: 60 * time.Minute,
		evalTimeout:   30 * time.Second,
		now:           time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// CalculateMatches 实现Algorithm接口
func (s *ProfileScorer) CalculateMatches(ctx context.Context, user *models.User) (*types.MatchingResult, error) {
	candidates, err := s.candidates.ListCandidates(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	userInterests := parseInterests(user.InterestsJSON)
	userAge := user.Age(now)

	scored := make([]types.UserMatchScore, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		interests := parseInterests(c.InterestsJSON)
		score := weightInterests*interestScore(userInterests, interests) +
			weightMBTI*mbtiScore(user.MBTI, c.MBTI) +
			weightAge*ageScore(userAge, c.Age(now))

		scored = append(scored, types.UserMatchScore{
			CandidateID: c.ID,
			Nickname:    c.Nickname,
			Age:         c.Age(now),
			MBTI:        c.MBTI,
			Interests:   interests,
			MatchScore:  clampScore(score),
		})
	}

	// 按分数降序，同分按候选人ID升序保证结果稳定
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].MatchScore != scored[j].MatchScore {
			return scored[i].MatchScore > scored[j].MatchScore
		}
		return scored[i].CandidateID < scored[j].CandidateID
	})

	total := len(scored)
	if len(scored) > s.topMatches {
		scored = scored[:s.topMatches]
	}

	if s.judge != nil {
		s.refineWithLLM(ctx, user, candidates, scored)
		// 复评可能改变头部顺序，重新排序
		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].MatchScore != scored[j].MatchScore {
				return scored[i].MatchScore > scored[j].MatchScore
			}
			return scored[i].CandidateID < scored[j].CandidateID
		})
	}

	s.attachAvatarURLs(ctx, candidates, scored)

	return &types.MatchingResult{
		UserID:          user.ID,
		GeneratedAt:     now,
		TotalCandidates: total,
		Matches:         scored,
	}, nil
}

// refineWithLLM 对头部候选人做LLM复评，失败的条目保留启发式分数
func (s *ProfileScorer) refineWithLLM(ctx context.Context, user *models.User, candidates []models.User, scored []types.UserMatchScore) {
	byID := make(map[uint64]*models.User, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	limit := s.maxEvaluated
	if limit > len(scored) {
		limit = len(scored)
	}

	for i := 0; i < limit; i++ {
		candidate := byID[scored[i].CandidateID]
		if candidate == nil {
			continue
		}

		evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
		eval, err := s.judge.EvaluateAffinity(evalCtx, user, candidate)
		cancel()
		if err != nil {
			logger.Warn().Err(err).
				Uint64("user_id", user.ID).
				Uint64("candidate_id", scored[i].CandidateID).
				Msg("LLM复评失败，保留启发式分数")
			continue
		}

		llmScore := float64(eval.AffinityScore) / 100.0
		scored[i].MatchScore = clampScore(llmBlendRatio*llmScore + (1-llmBlendRatio)*scored[i].MatchScore)
		scored[i].Highlights = eval.Highlights
	}
}

// attachAvatarURLs 为有头像的候选人生成预签名链接
// 生成失败只记录日志，不影响匹配结果本身
func (s *ProfileScorer) attachAvatarURLs(ctx context.Context, candidates []models.User, scored []types.UserMatchScore) {
	if s.presigner == nil {
		return
	}

	keyByID := make(map[uint64]string, len(candidates))
	for i := range candidates {
		if candidates[i].AvatarObjectKey != "" {
			keyByID[candidates[i].ID] = candidates[i].AvatarObjectKey
		}
	}

	for i := range scored {
		key, ok := keyByID[scored[i].CandidateID]
		if !ok {
			continue
		}
		url, err := s.presigner.GetPresignedURL(ctx, key, s.presignExpiry)
		if err != nil {
			logger.Warn().Err(err).
				Uint64("candidate_id", scored[i].CandidateID).
				Str("object_key", key).
				Msg("生成头像预签名URL失败")
			continue
		}
		scored[i].ProfileImageURL = url
	}
}

// parseInterests 解析兴趣标签JSON，解析失败按空列表处理
func parseInterests(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var interests []string
	if err := json.Unmarshal(raw, &interests); err != nil {
		return nil
	}
	return interests
}

// interestScore 兴趣重合度，Jaccard系数
// 双方都没有填写兴趣时给中性分
func interestScore(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	}

	union := len(set)
	common := 0
	for _, tag := range b {
		key := strings.ToLower(strings.TrimSpace(tag))
		if _, ok := set[key]; ok {
			common++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0.5
	}
	return float64(common) / float64(union)
}

// mbtiScore 按四个维度逐一比较的粗粒度契合度
// 直觉/实感和思考/情感相同加分，内外向和判断/感知互补加分
func mbtiScore(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if len(a) != 4 || len(b) != 4 {
		return 0.5
	}

	score := 0.0
	if a[1] == b[1] { // N/S
		score += 0.4
	}
	if a[2] == b[2] { // T/F
		score += 0.2
	}
	if a[0] != b[0] { // E/I 互补
		score += 0.2
	}
	if a[3] != b[3] { // J/P 互补
		score += 0.2
	}
	return score
}

// ageScore 年龄接近度，相差10岁及以上为0
// 任一方未填写出生日期时给中性分
func ageScore(a, b int) float64 {
	if a == 0 || b == 0 {
		return 0.5
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff >= 10 {
		return 0.0
	}
	return 1.0 - float64(diff)/10.0
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
