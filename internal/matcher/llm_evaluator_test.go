package matcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dating-match-go/internal/storage/models"
)

// mockChatModel 返回预设内容的测试模型
type mockChatModel struct {
	response string
	err      error
	calls    int
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: m.response,
	}, nil
}

func (m *mockChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("mock 不支持 Stream")
}

func evalUsers() (*models.User, *models.User) {
	subject := testUser(1, "지민", "INFP", 1998, `["hiking","jazz"]`)
	candidate := testUser(2, "수아", "ENFJ", 1999, `["hiking","cooking"]`)
	return &subject, &candidate
}

// TestEvaluateAffinityParsesJSON 正常JSON响应被正确解析
func TestEvaluateAffinityParsesJSON(t *testing.T) {
	mock := &mockChatModel{response: `{"affinity_score": 82, "highlights": ["共同喜欢登山", "内外向性格互补"]}`}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	eval, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	require.NoError(t, err)

	assert.Equal(t, 82, eval.AffinityScore)
	assert.Equal(t, []string{"共同喜欢登山", "内外向性格互补"}, eval.Highlights)
	assert.Equal(t, 1, mock.calls)
}

// TestEvaluateAffinityStripsMarkdown 响应带Markdown围栏时仍能提取JSON
func TestEvaluateAffinityStripsMarkdown(t *testing.T) {
	mock := &mockChatModel{response: "好的，评估结果如下：\n```json\n{\"affinity_score\": 67, \"highlights\": [\"年龄接近\"]}\n```"}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	eval, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	require.NoError(t, err)

	assert.Equal(t, 67, eval.AffinityScore)
}

// TestEvaluateAffinitySanitizesQuotes 字符串内部未转义的引号会被自动修复
func TestEvaluateAffinitySanitizesQuotes(t *testing.T) {
	mock := &mockChatModel{response: `{"affinity_score": 75, "highlights": ["都喜欢"爵士乐"现场演出"]}`}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	eval, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	require.NoError(t, err)

	assert.Equal(t, 75, eval.AffinityScore)
	require.Len(t, eval.Highlights, 1)
	assert.Contains(t, eval.Highlights[0], "爵士乐")
}

// TestEvaluateAffinityRejectsOutOfRangeScore 越界分数被拒绝
func TestEvaluateAffinityRejectsOutOfRangeScore(t *testing.T) {
	mock := &mockChatModel{response: `{"affinity_score": 150, "highlights": []}`}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	_, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	assert.Error(t, err)
}

// TestEvaluateAffinityModelError LLM调用失败时返回错误
func TestEvaluateAffinityModelError(t *testing.T) {
	mock := &mockChatModel{err: fmt.Errorf("网络超时")}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	_, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	assert.Error(t, err)
}

// TestEvaluateAffinityNoJSONInResponse 响应中没有JSON对象时报错
func TestEvaluateAffinityNoJSONInResponse(t *testing.T) {
	mock := &mockChatModel{response: "抱歉，我无法评估这两份资料。"}
	evaluator := NewLLMAffinityEvaluator(mock)

	subject, candidate := evalUsers()
	_, err := evaluator.EvaluateAffinity(context.Background(), subject, candidate)
	assert.Error(t, err)
}

// TestRenderProfile 资料渲染包含全部已填写字段
func TestRenderProfile(t *testing.T) {
	subject, _ := evalUsers()
	text := renderProfile(subject, testNow)

	assert.Contains(t, text, "지민")
	assert.Contains(t, text, "INFP")
	assert.Contains(t, text, "hiking")
	assert.Contains(t, text, "27", "年龄按出生日期推算")
}
