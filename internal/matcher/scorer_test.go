package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"dating-match-go/internal/storage/models"
)

// fakeCandidateSource 返回固定候选人列表的测试实现
type fakeCandidateSource struct {
	candidates []models.User
	err        error
}

func (f *fakeCandidateSource) ListCandidates(ctx context.Context, userID uint64) ([]models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

// fakeAffinityJudge 按候选人ID返回预设复评结果
type fakeAffinityJudge struct {
	evals map[uint64]*AffinityEvaluation
	errs  map[uint64]error
}

func (f *fakeAffinityJudge) EvaluateAffinity(ctx context.Context, subject *models.User, candidate *models.User) (*AffinityEvaluation, error) {
	if err, ok := f.errs[candidate.ID]; ok {
		return nil, err
	}
	if eval, ok := f.evals[candidate.ID]; ok {
		return eval, nil
	}
	return nil, fmt.Errorf("候选人 %d 没有预设评估结果", candidate.ID)
}

// fakePresigner 生成可预测的测试URL
type fakePresigner struct {
	failKeys map[string]bool
}

func (f *fakePresigner) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if f.failKeys[objectKey] {
		return "", fmt.Errorf("对象 %s 预签名失败", objectKey)
	}
	return "https://cdn.test/" + objectKey, nil
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func birthDate(year int) *datatypes.Date {
	d := datatypes.Date(time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC))
	return &d
}

func testUser(id uint64, nickname, mbti string, birthYear int, interests string) models.User {
	u := models.User{
		ID:       id,
		Nickname: nickname,
		MBTI:     mbti,
		IsActive: true,
	}
	if birthYear > 0 {
		u.BirthDate = birthDate(birthYear)
	}
	if interests != "" {
		u.InterestsJSON = datatypes.JSON([]byte(interests))
	}
	return u
}

// TestCalculateMatchesOrdering 验证结果按分数降序且兴趣重合度高的排前面
func TestCalculateMatchesOrdering(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking","jazz","cooking"]`)

	source := &fakeCandidateSource{candidates: []models.User{
		testUser(2, "수아", "ENFJ", 1999, `["hiking","jazz","cooking"]`), // 兴趣完全重合
		testUser(3, "하늘", "ENFJ", 1999, `["gaming"]`),                  // 兴趣完全不重合
		testUser(4, "서준", "ENFJ", 1999, `["hiking","movies"]`),         // 兴趣部分重合
	}}

	scorer := NewProfileScorer(source, withClock(func() time.Time { return testNow }))
	result, err := scorer.CalculateMatches(context.Background(), &subject)
	require.NoError(t, err)

	require.Len(t, result.Matches, 3)
	assert.Equal(t, 3, result.TotalCandidates)
	assert.Equal(t, uint64(1), result.UserID)
	assert.Equal(t, testNow, result.GeneratedAt)

	// 降序
	for i := 1; i < len(result.Matches); i++ {
		assert.GreaterOrEqual(t, result.Matches[i-1].MatchScore, result.Matches[i].MatchScore,
			"匹配结果必须按分数降序排列")
	}

	assert.Equal(t, uint64(2), result.Matches[0].CandidateID, "兴趣完全重合的候选人应排第一")
	assert.Equal(t, uint64(3), result.Matches[2].CandidateID, "兴趣完全不重合的候选人应排最后")

	// 所有分数都在[0,1]区间
	for _, m := range result.Matches {
		assert.GreaterOrEqual(t, m.MatchScore, 0.0)
		assert.LessOrEqual(t, m.MatchScore, 1.0)
	}
}

// TestCalculateMatchesTopCap 验证返回条数上限不影响totalCandidates
func TestCalculateMatchesTopCap(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking"]`)

	candidates := make([]models.User, 0, 5)
	for i := uint64(2); i <= 6; i++ {
		candidates = append(candidates, testUser(i, fmt.Sprintf("user%d", i), "ENFJ", 1999, `["hiking"]`))
	}
	source := &fakeCandidateSource{candidates: candidates}

	scorer := NewProfileScorer(source,
		WithTopMatches(2),
		withClock(func() time.Time { return testNow }))

	result, err := scorer.CalculateMatches(context.Background(), &subject)
	require.NoError(t, err)

	assert.Len(t, result.Matches, 2, "返回条数受top_matches限制")
	assert.Equal(t, 5, result.TotalCandidates, "totalCandidates统计的是参与评分的全部候选人")
}

// TestCalculateMatchesEmptyPool 候选池为空时返回空结果而不是错误
func TestCalculateMatchesEmptyPool(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking"]`)
	source := &fakeCandidateSource{}

	scorer := NewProfileScorer(source, withClock(func() time.Time { return testNow }))
	result, err := scorer.CalculateMatches(context.Background(), &subject)
	require.NoError(t, err)

	assert.Empty(t, result.Matches)
	assert.Equal(t, 0, result.TotalCandidates)
}

// TestCalculateMatchesSourceError 候选源出错时直接透传错误
func TestCalculateMatchesSourceError(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, "")
	source := &fakeCandidateSource{err: fmt.Errorf("数据库连接失败")}

	scorer := NewProfileScorer(source)
	result, err := scorer.CalculateMatches(context.Background(), &subject)
	assert.Error(t, err)
	assert.Nil(t, result)
}

// TestCalculateMatchesLLMRefinement 验证LLM复评改写分数并附加亮点
func TestCalculateMatchesLLMRefinement(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking","jazz"]`)

	source := &fakeCandidateSource{candidates: []models.User{
		testUser(2, "수아", "ENFJ", 1999, `["hiking","jazz"]`),
		testUser(3, "하늘", "ENFJ", 1999, `["hiking"]`),
	}}

	judge := &fakeAffinityJudge{
		evals: map[uint64]*AffinityEvaluation{
			2: {AffinityScore: 90, Highlights: []string{"共同喜欢登山和爵士乐"}},
		},
		errs: map[uint64]error{
			3: fmt.Errorf("LLM超时"),
		},
	}

	scorer := NewProfileScorer(source,
		WithAffinityJudge(judge, 5, time.Second),
		withClock(func() time.Time { return testNow }))

	result, err := scorer.CalculateMatches(context.Background(), &subject)
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)

	for _, m := range result.Matches {
		switch m.CandidateID {
		case 2:
			assert.Equal(t, []string{"共同喜欢登山和爵士乐"}, m.Highlights, "复评成功的候选人带有亮点说明")
		case 3:
			assert.Empty(t, m.Highlights, "复评失败的候选人降级为启发式分数，无亮点")
			assert.GreaterOrEqual(t, m.MatchScore, 0.0)
		}
	}
}

// TestCalculateMatchesAvatarURLs 验证头像链接生成与失败降级
func TestCalculateMatchesAvatarURLs(t *testing.T) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking"]`)

	withAvatar := testUser(2, "수아", "ENFJ", 1999, `["hiking"]`)
	withAvatar.AvatarObjectKey = "avatars/2/abc.jpg"
	broken := testUser(3, "하늘", "ENFJ", 1999, `["hiking"]`)
	broken.AvatarObjectKey = "avatars/3/broken.jpg"
	noAvatar := testUser(4, "서준", "ENFJ", 1999, `["hiking"]`)

	source := &fakeCandidateSource{candidates: []models.User{withAvatar, broken, noAvatar}}
	presigner := &fakePresigner{failKeys: map[string]bool{"avatars/3/broken.jpg": true}}

	scorer := NewProfileScorer(source,
		WithAvatarPresigner(presigner, time.Hour),
		withClock(func() time.Time { return testNow }))

	result, err := scorer.CalculateMatches(context.Background(), &subject)
	require.NoError(t, err)
	require.Len(t, result.Matches, 3)

	urls := make(map[uint64]string)
	for _, m := range result.Matches {
		urls[m.CandidateID] = m.ProfileImageURL
	}
	assert.Equal(t, "https://cdn.test/avatars/2/abc.jpg", urls[2])
	assert.Empty(t, urls[3], "预签名失败不影响结果，头像链接留空")
	assert.Empty(t, urls[4])
}

// TestInterestScore 兴趣重合度的边界情况
func TestInterestScore(t *testing.T) {
	assert.Equal(t, 0.5, interestScore(nil, nil), "双方都没填兴趣给中性分")
	assert.Equal(t, 0.0, interestScore([]string{"hiking"}, nil), "单方没填兴趣为0")
	assert.Equal(t, 1.0, interestScore([]string{"hiking"}, []string{"Hiking"}), "比较忽略大小写")
	assert.InDelta(t, 1.0/3.0, interestScore([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

// TestMBTIScore MBTI契合度的边界情况
func TestMBTIScore(t *testing.T) {
	assert.Equal(t, 0.5, mbtiScore("", "ENFJ"), "缺失MBTI给中性分")
	assert.Equal(t, 0.5, mbtiScore("XYZ", "ENFJ"), "非法MBTI给中性分")
	assert.Equal(t, 1.0, mbtiScore("INFP", "ENFJ"), "直觉情感相同且内外向判断感知互补为满分")
	assert.Equal(t, 0.0, mbtiScore("INFP", "ISTP"), "四个维度全不契合为0")
}

// TestAgeScore 年龄接近度的边界情况
func TestAgeScore(t *testing.T) {
	assert.Equal(t, 0.5, ageScore(0, 25), "缺失年龄给中性分")
	assert.Equal(t, 1.0, ageScore(25, 25))
	assert.Equal(t, 0.0, ageScore(25, 40), "相差10岁及以上为0")
	assert.InDelta(t, 0.7, ageScore(25, 28), 1e-9)
}
