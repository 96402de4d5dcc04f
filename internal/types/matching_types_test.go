package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsTerminal 终态判定
func TestIsTerminal(t *testing.T) {
	assert.False(t, MatchingPending.IsTerminal())
	assert.False(t, MatchingProcessing.IsTerminal())
	assert.True(t, MatchingCompleted.IsTerminal())
	assert.True(t, MatchingFailed.IsTerminal())
}

// TestStatusDescription 状态文案与状态标签分离维护
func TestStatusDescription(t *testing.T) {
	for _, status := range []MatchingStatus{MatchingPending, MatchingProcessing, MatchingCompleted, MatchingFailed} {
		assert.NotEmpty(t, StatusDescription(status), "状态%s必须有展示文案", status)
	}

	assert.Empty(t, StatusDescription(MatchingStatus("UNKNOWN")), "未知状态返回空字符串由调用方兜底")
}

// TestMatchingResultJSONShape 缓存值的JSON字段名固定，不能随重构漂移
func TestMatchingResultJSONShape(t *testing.T) {
	result := MatchingResult{
		UserID:          1,
		TotalCandidates: 3,
		Matches: []UserMatchScore{
			{CandidateID: 2, Nickname: "수아", Age: 26, MBTI: "ENFJ", MatchScore: 0.85},
		},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "user_id")
	assert.Contains(t, raw, "generated_at")
	assert.Contains(t, raw, "total_candidates")
	assert.Contains(t, raw, "matches")

	matches := raw["matches"].([]interface{})
	entry := matches[0].(map[string]interface{})
	assert.Contains(t, entry, "candidate_id")
	assert.Contains(t, entry, "match_score")
	assert.NotContains(t, entry, "highlights", "空的亮点列表不应出现在JSON中")
	assert.NotContains(t, entry, "profile_image_url", "空的头像链接不应出现在JSON中")
}
