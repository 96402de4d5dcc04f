package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"dating-match-go/internal/logger"
	"dating-match-go/internal/storage/models"
)

// LLMAffinityEvaluator 基于LLM的两人契合度评估器
type LLMAffinityEvaluator struct {
	llmModel       model.BaseChatModel
	promptTemplate string
	now            func() time.Time
}

// EvaluatorOption 评估器配置选项
type EvaluatorOption func(*LLMAffinityEvaluator)

// WithPromptTemplate 设置自定义提示词模板
// 模板需要包含两个%s占位符，依次填入请求方和候选人的资料
func WithPromptTemplate(template string) EvaluatorOption {
	return func(e *LLMAffinityEvaluator) {
		e.promptTemplate = template
	}
}

// NewLLMAffinityEvaluator 创建契合度评估器
func NewLLMAffinityEvaluator(llmModel model.BaseChatModel, options ...EvaluatorOption) *LLMAffinityEvaluator {
	e := &LLMAffinityEvaluator{
		llmModel: llmModel,
		now:      time.Now,
	}
	e.generatePromptTemplate()
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *LLMAffinityEvaluator) generatePromptTemplate() {
	e.promptTemplate = `你是一位资深的情感匹配顾问。你的任务是基于下面提供的【请求方资料】和【候选人资料】，评估两人作为约会对象的契合程度，并严格按照指定的JSON格式输出结果。

**请严格遵循以下JSON输出格式规范：**
1.  **"affinity_score"**: 整数 (0-100)，反映两人的整体契合程度。
2.  **"highlights"**: 字符串数组 (建议2-4项)，必须是两人契合的**具体关键点**，例如共同兴趣、性格互补之处。避免空泛描述。

**JSON格式细节要求：**
- 完整输出必须是一个合法的JSON对象。
- 所有字段名和字符串值都必须使用双引号。
- 字符串值内部如果包含双引号(")，必须使用反斜杠进行转义。
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

**评估原则：**
*   **共同兴趣**是最重要的契合信号，重合的兴趣越具体、越多，分数越高。
*   **性格互补**：内向与外向、计划型与随性型的组合通常更稳定，同为直觉型或同为实感型更容易相互理解。
*   **年龄接近**是加分项，相差超过10岁需要显著的其他契合点才能给出高分。
*   资料信息不足时给出保守的中间分数(40-60)，不要凭空编造亮点。

**评分参考区间：**
- 85-100分: 高度契合，兴趣和性格都非常匹配。
- 65-84分: 契合度良好，有明确的共同点。
- 40-64分: 一般，共同点有限或信息不足。
- 0-39分: 契合度低，兴趣和性格差异明显。

【请求方资料】:
"""
%s
"""

【候选人资料】:
"""
%s
"""

请基于以上所有指令，仔细评估并输出JSON结果。`
}

// EvaluateAffinity 实现AffinityJudge接口
func (e *LLMAffinityEvaluator) EvaluateAffinity(ctx context.Context, subject *models.User, candidate *models.User) (*AffinityEvaluation, error) {
	if e.llmModel == nil {
		return nil, fmt.Errorf("LLMAffinityEvaluator: llmModel 未初始化")
	}

	now := e.now()
	userMsgContent := fmt.Sprintf(e.promptTemplate, renderProfile(subject, now), renderProfile(candidate, now))

	systemMsg := einoschema.SystemMessage("你是一位专注于分析两份个人资料契合度的情感匹配助手。")
	userMsg := einoschema.UserMessage(userMsgContent)

	response, err := e.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		return nil, fmt.Errorf("LLMAffinityEvaluator: LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("LLMAffinityEvaluator: LLM返回空响应")
	}

	logger.Debug().
		Uint64("subject_id", subject.ID).
		Uint64("candidate_id", candidate.ID).
		Str("response", response.Content).
		Msg("LLM契合度评估响应")

	processedContent := strings.TrimPrefix(response.Content, "\uFEFF")

	jsonStr := extractJSONObject(processedContent)
	if jsonStr == "" {
		return nil, fmt.Errorf("LLMAffinityEvaluator: 无法从LLM响应中提取JSON。原始内容: %s", processedContent)
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var eval AffinityEvaluation
	if err := json.Unmarshal([]byte(jsonStr), &eval); err != nil {
		// 解析失败先尝试自动修复字符串内部未转义的引号
		fixedJsonStr := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixedJsonStr), &eval); jsonErr != nil {
			return nil, fmt.Errorf("LLMAffinityEvaluator: 修复后仍无法反序列化JSON响应。原始错误: %w。修复后错误: %v。JSON字符串: %s", err, jsonErr, jsonStr)
		}
	}

	if err := validateAffinityEvaluation(&eval); err != nil {
		return nil, fmt.Errorf("LLMAffinityEvaluator: 评估结果不合法: %w", err)
	}

	return &eval, nil
}

// renderProfile 把用户资料渲染成提示词中的文本块
func renderProfile(u *models.User, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("昵称: " + u.Nickname + "\n")
	if u.Gender != "" {
		sb.WriteString("性别: " + u.Gender + "\n")
	}
	if age := u.Age(now); age > 0 {
		sb.WriteString(fmt.Sprintf("年龄: %d\n", age))
	}
	if u.MBTI != "" {
		sb.WriteString("MBTI: " + u.MBTI + "\n")
	}
	if interests := parseInterests(u.InterestsJSON); len(interests) > 0 {
		sb.WriteString("兴趣: " + strings.Join(interests, ", ") + "\n")
	}
	return sb.String()
}

// validateAffinityEvaluation 验证评估结果是否符合要求
func validateAffinityEvaluation(eval *AffinityEvaluation) error {
	if eval.AffinityScore < 0 || eval.AffinityScore > 100 {
		return fmt.Errorf("affinity_score 必须在0到100之间，实际为 %d", eval.AffinityScore)
	}
	if len(eval.Highlights) > 8 {
		return fmt.Errorf("highlights 条目过多，实际为 %d 项", len(eval.Highlights))
	}
	return nil
}

// extractJSONObject 从文本中提取第一个括号配平的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 遍历src，把位于字符串字面量内部但并非真正结束的双引号改写为转义形式，
// 保证整个JSON能够正常反序列化。
// 通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该引号是否为字符串的结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false

		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)

		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}

var _ AffinityJudge = (*LLMAffinityEvaluator)(nil)
