package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RoleCapability 角色能力记录：同一套执行语义，角色只换提示词前缀
// 和可用工具清单。新增角色加一条记录即可，不做类型层级
type RoleCapability struct {
	Role         string
	PromptPrefix string
	AllowedTools []string
}

// DefaultRoleCapabilities 四个内置专家角色
func DefaultRoleCapabilities() map[string]RoleCapability {
	return map[string]RoleCapability{
		model.AgentRoleGrowth: {
			Role:         model.AgentRoleGrowth,
			PromptPrefix: "You are a Growth Agent specializing in marketing, outreach, lead generation, and content creation.",
			AllowedTools: []string{"search_db", "send_email", "webhook_post", "generate_payment_link"},
		},
		model.AgentRoleOps: {
			Role:         model.AgentRoleOps,
			PromptPrefix: "You are an Ops Agent specializing in operations, scheduling, calendar management, and internal processes.",
			AllowedTools: []string{"search_db", "upsert_db", "create_calendar_event"},
		},
		model.AgentRoleSupport: {
			Role:         model.AgentRoleSupport,
			PromptPrefix: "You are a Support Agent specializing in customer service, ticket handling, and user communication.",
			AllowedTools: []string{"search_db", "send_email"},
		},
		model.AgentRoleAnalyst: {
			Role:         model.AgentRoleAnalyst,
			PromptPrefix: "You are an Analyst Agent specializing in data analysis, reports, insights, and metrics.",
			AllowedTools: []string{"search_db", "export_csv"},
		},
	}
}

// AgentExecutor 专家执行单元。只有被policy判为safe的子任务会到这里，
// 审批判定在上游Orchestrator完成
type AgentExecutor struct {
	capability  RoleCapability
	client      *OpenAIClient
	credentials *CredentialResolver
	limiter     *KeyedLimiter
	bus         bus.Bus
}

func NewAgentExecutor(capability RoleCapability, client *OpenAIClient, credentials *CredentialResolver, limiter *KeyedLimiter, eventBus bus.Bus) *AgentExecutor {
	return &AgentExecutor{
		capability:  capability,
		client:      client,
		credentials: credentials,
		limiter:     limiter,
		bus:         eventBus,
	}
}

// Execute 执行一个子任务：解析凭证、限流、单次chat completion，
// 追加一条tool_result步骤并发布进度事件。返回结果摘要
func (a *AgentExecutor) Execute(ctx context.Context, workspaceID, runID string, subtask model.Subtask, steps *StepLog) (string, error) {
	tracer := otel.Tracer("authority13/agent")
	ctx, span := tracer.Start(ctx, "subtask."+a.capability.Role)
	span.SetAttributes(
		attribute.String("subtask.id", subtask.ID),
		attribute.String("subtask.agent", subtask.Agent),
	)
	defer span.End()

	apiKey, err := a.credentials.Resolve(ctx, workspaceID, "openai")
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := a.limiter.Wait(ctx, workspaceID); err != nil {
		return "", fmt.Errorf("等待限流配额失败: %w", err)
	}

	systemPrompt := fmt.Sprintf(`%s

Execute the given subtask and provide a summary of your actions and results.

Available tools: %s

Be specific and actionable in your response.`,
		a.capability.PromptPrefix, strings.Join(a.capability.AllowedTools, ", "))

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Execute this subtask:\n\nTitle: %s\nDescription: %s", subtask.Title, subtask.Description)},
	}

	response, err := a.client.Chat(ctx, apiKey, messages, 0.7)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("执行子任务 %s 失败: %w", subtask.ID, err)
	}

	content, _ := json.Marshal(map[string]any{
		"agent":      a.capability.Role,
		"subtask_id": subtask.ID,
		"subtask":    subtask.Title,
		"result":     response,
	})
	if err := steps.Append(ctx, model.StepTypeToolResult, string(content)); err != nil {
		return "", err
	}

	_ = a.bus.Publish(bus.RunChannel(runID), bus.NewEvent(bus.EventLog, map[string]any{
		"message": fmt.Sprintf("%s Agent: %s", a.capability.Role, truncate(response, 200)),
	}))

	return response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
