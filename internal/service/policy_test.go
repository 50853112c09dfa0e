package service

import (
	"testing"

	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/model"
)

func defaultPolicy() *PolicyEngine {
	return NewPolicyEngine(config.PolicyConfig{})
}

func TestPolicyDefaultApprovalTools(t *testing.T) {
	p := defaultPolicy()

	for _, tool := range []string{"send_email", "webhook_post", "generate_payment_link", "create_calendar_event"} {
		res := p.Evaluate(model.ToolCall{Tool: tool})
		if res.Decision != DecisionNeedsApproval {
			t.Errorf("工具 %s: 期望needs_approval，实际%s", tool, res.Decision)
		}
	}

	res := p.Evaluate(model.ToolCall{Tool: "search_db"})
	if res.Decision != DecisionSafe {
		t.Errorf("search_db: 期望safe，实际%s", res.Decision)
	}
}

func TestPolicyBlockedShortCircuits(t *testing.T) {
	// 同一工具既在黑名单又在审批名单：blocked优先
	p := NewPolicyEngine(config.PolicyConfig{
		BlockedTools:          []string{"send_email"},
		ApprovalRequiredTools: []string{"send_email"},
	})

	res := p.Evaluate(model.ToolCall{Tool: "send_email"})
	if res.Decision != DecisionBlocked {
		t.Fatalf("期望blocked，实际%s", res.Decision)
	}
}

func TestPolicyBulkThreshold(t *testing.T) {
	p := defaultPolicy()

	cases := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"count等于阈值", map[string]any{"count": 10}, DecisionSafe},
		{"count超过阈值", map[string]any{"count": 11}, DecisionNeedsApproval},
		{"count为JSON数字形态", map[string]any{"count": float64(25)}, DecisionNeedsApproval},
		{"bulk显式标记", map[string]any{"bulk": true, "count": 2}, DecisionNeedsApproval},
		{"bulk为false且count小", map[string]any{"bulk": false, "count": 3}, DecisionSafe},
		{"无input", nil, DecisionSafe},
	}
	for _, c := range cases {
		res := p.Evaluate(model.ToolCall{Tool: "search_db", Input: c.input})
		if res.Decision != c.want {
			t.Errorf("%s: 期望%s，实际%s", c.name, c.want, res.Decision)
		}
	}
}

func TestPolicyCriticalTable(t *testing.T) {
	p := defaultPolicy()

	for _, table := range []string{"users", "payments", "api_keys", "workspaces"} {
		res := p.Evaluate(model.ToolCall{Tool: "upsert_db", Input: map[string]any{"table": table}})
		if res.Decision != DecisionNeedsApproval {
			t.Errorf("upsert_db表%s: 期望needs_approval，实际%s", table, res.Decision)
		}
	}

	// 非关键表的写入是safe
	res := p.Evaluate(model.ToolCall{Tool: "upsert_db", Input: map[string]any{"table": "leads"}})
	if res.Decision != DecisionSafe {
		t.Errorf("upsert_db表leads: 期望safe，实际%s", res.Decision)
	}

	// 关键表规则只看upsert_db；读关键表不触发
	res = p.Evaluate(model.ToolCall{Tool: "search_db", Input: map[string]any{"table": "users"}})
	if res.Decision != DecisionSafe {
		t.Errorf("search_db表users: 期望safe，实际%s", res.Decision)
	}
}

func TestPolicyCaseAndWhitespaceInsensitive(t *testing.T) {
	p := NewPolicyEngine(config.PolicyConfig{
		BlockedTools: []string{"  Drop_Table  "},
	})

	res := p.Evaluate(model.ToolCall{Tool: "drop_table"})
	if res.Decision != DecisionBlocked {
		t.Fatalf("期望blocked，实际%s", res.Decision)
	}
}

func TestPolicyDeterministic(t *testing.T) {
	p := defaultPolicy()
	call := model.ToolCall{Tool: "upsert_db", Input: map[string]any{"table": "payments", "count": 3}}

	first := p.Evaluate(call)
	for i := 0; i < 100; i++ {
		if got := p.Evaluate(call); got.Decision != first.Decision {
			t.Fatalf("第%d次评估结果漂移: %s != %s", i, got.Decision, first.Decision)
		}
	}
}
