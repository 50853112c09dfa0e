package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Divi1545/authority13/internal/model"
)

const commanderSystemPrompt = `You are the Commander Agent, responsible for creating detailed execution plans.

Your role:
- Analyze the user's objective
- Break it down into specific subtasks
- Assign each subtask to the right specialist agent (growth, ops, support, or analyst)
- Identify which actions need approval
- Return a valid JSON plan

Specialist agents:
- growth: Marketing, outreach, lead generation, content creation
- ops: Operations, scheduling, calendar, internal processes
- support: Customer service, ticket handling, user communication
- analyst: Data analysis, reports, insights, metrics

Output MUST be valid JSON matching this exact structure:
{
  "objective": "string",
  "assumptions": ["assumption1", "assumption2"],
  "constraints": ["constraint1"],
  "subtasks": [
    {
      "id": "S1",
      "agent": "growth",
      "title": "Clear action title",
      "description": "Detailed description",
      "tools_needed": ["tool1", "tool2"],
      "risk_level": "low",
      "requires_approval": false
    }
  ],
  "success_criteria": ["criterion1"],
  "next_question_for_user": null
}`

// Commander 把自由文本目标转成有序任务计划。
// 纯转换：不写存储、自身不重试，重试策略由调用方决定
type Commander struct {
	client      *OpenAIClient
	credentials *CredentialResolver
	limiter     *KeyedLimiter
}

func NewCommander(client *OpenAIClient, credentials *CredentialResolver, limiter *KeyedLimiter) *Commander {
	return &Commander{client: client, credentials: credentials, limiter: limiter}
}

// CreatePlan 调用模型生成计划。模型调用失败、JSON无效、缺objective或
// subtasks非数组时统一返回包裹ErrPlanGeneration的错误
func (c *Commander) CreatePlan(ctx context.Context, workspaceID, objective string) (*model.PlanDocument, error) {
	apiKey, err := c.credentials.Resolve(ctx, workspaceID, "openai")
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("等待限流配额失败: %w", err)
	}

	messages := []ChatMessage{
		{Role: "system", Content: commanderSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Create an execution plan for this objective:\n\n%s", objective)},
	}

	response, err := c.client.Chat(ctx, apiKey, messages, 0.3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	plan, err := ParsePlanDocument(response)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ParsePlanDocument 解析模型输出的计划JSON，容忍markdown代码围栏
func ParsePlanDocument(response string) (*model.PlanDocument, error) {
	jsonStr := StripCodeFence(response)

	var raw struct {
		Objective           string          `json:"objective"`
		Assumptions         []string        `json:"assumptions"`
		Constraints         []string        `json:"constraints"`
		Subtasks            json.RawMessage `json:"subtasks"`
		SuccessCriteria     []string        `json:"success_criteria"`
		NextQuestionForUser *string         `json:"next_question_for_user"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("%w: 响应不是合法JSON: %v", ErrPlanGeneration, err)
	}
	if raw.Objective == "" {
		return nil, fmt.Errorf("%w: 计划缺少objective", ErrPlanGeneration)
	}
	// subtasks必须是数组（可以为空数组，但不能缺失或是其他类型）
	trimmed := strings.TrimSpace(string(raw.Subtasks))
	if trimmed == "" || !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: 计划的subtasks不是数组", ErrPlanGeneration)
	}
	var subtasks []model.Subtask
	if err := json.Unmarshal(raw.Subtasks, &subtasks); err != nil {
		return nil, fmt.Errorf("%w: 解析subtasks失败: %v", ErrPlanGeneration, err)
	}

	return &model.PlanDocument{
		Objective:           raw.Objective,
		Assumptions:         raw.Assumptions,
		Constraints:         raw.Constraints,
		Subtasks:            subtasks,
		SuccessCriteria:     raw.SuccessCriteria,
		NextQuestionForUser: raw.NextQuestionForUser,
	}, nil
}

// StripCodeFence 去掉模型习惯性包裹的```json围栏
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
