package service

import (
	"fmt"
	"strings"

	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/model"
)

const (
	DecisionSafe          = "safe"
	DecisionNeedsApproval = "needs_approval"
	DecisionBlocked       = "blocked"
)

// PolicyResult Reason只用于诊断展示，语义以Decision为准
type PolicyResult struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// PolicyEngine 纯函数规则评估器：无I/O、无共享可变状态，可被多个
// Orchestrator并发调用。规则顺序固定：
// blocked（短路）→ 需审批工具 → 批量阈值 → 关键表写入 → safe。
// blocked必须最先判，否则被禁工具可能经后续规则漏成safe
type PolicyEngine struct {
	blockedTools   map[string]bool
	approvalTools  map[string]bool
	criticalTables map[string]bool
	bulkThreshold  int
}

func NewPolicyEngine(cfg config.PolicyConfig) *PolicyEngine {
	if cfg.BulkActionThreshold <= 0 {
		cfg.BulkActionThreshold = 10
	}
	if len(cfg.ApprovalRequiredTools) == 0 {
		cfg.ApprovalRequiredTools = []string{
			"send_email", "webhook_post", "generate_payment_link", "create_calendar_event",
		}
	}
	if len(cfg.CriticalTables) == 0 {
		cfg.CriticalTables = []string{"users", "payments", "api_keys", "workspaces"}
	}
	return &PolicyEngine{
		blockedTools:   toSet(cfg.BlockedTools),
		approvalTools:  toSet(cfg.ApprovalRequiredTools),
		criticalTables: toSet(cfg.CriticalTables),
		bulkThreshold:  cfg.BulkActionThreshold,
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(strings.TrimSpace(it))] = true
	}
	return set
}

// Evaluate 判定一次工具调用：safe/needs_approval/blocked
func (p *PolicyEngine) Evaluate(call model.ToolCall) PolicyResult {
	tool := strings.ToLower(strings.TrimSpace(call.Tool))

	if p.blockedTools[tool] {
		return PolicyResult{
			Decision: DecisionBlocked,
			Reason:   fmt.Sprintf("工具 %q 已被禁用", call.Tool),
		}
	}

	if p.approvalTools[tool] {
		return PolicyResult{
			Decision: DecisionNeedsApproval,
			Reason:   fmt.Sprintf("工具 %q 需要人工审批", call.Tool),
		}
	}

	if bulk, count, ok := bulkSize(call.Input); ok && (bulk || count > p.bulkThreshold) {
		return PolicyResult{
			Decision: DecisionNeedsApproval,
			Reason:   fmt.Sprintf("批量操作（%d项）超过阈值", count),
		}
	}

	if tool == "upsert_db" {
		if table, ok := call.Input["table"].(string); ok && p.criticalTables[strings.ToLower(table)] {
			return PolicyResult{
				Decision: DecisionNeedsApproval,
				Reason:   fmt.Sprintf("写入关键表: %s", table),
			}
		}
	}

	return PolicyResult{Decision: DecisionSafe}
}

// bulkSize 从input提取bulk标记和count；count兼容JSON数字的float64形态
func bulkSize(input map[string]any) (bulk bool, count int, ok bool) {
	if input == nil {
		return false, 0, false
	}
	if b, has := input["bulk"].(bool); has {
		bulk = b
		ok = true
	}
	switch v := input["count"].(type) {
	case float64:
		count = int(v)
		ok = true
	case int:
		count = v
		ok = true
	}
	return bulk, count, ok
}
