package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskPlan 一次规划的不可变记录；历史计划保留，最新一条为活跃计划
type TaskPlan struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TaskID   string `gorm:"type:varchar(36);not null;index" json:"task_id"`
	PlanJSON string `gorm:"type:longtext;not null" json:"plan_json"`
}

func (p *TaskPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// 专家角色
const (
	AgentRoleGrowth  = "growth"
	AgentRoleOps     = "ops"
	AgentRoleSupport = "support"
	AgentRoleAnalyst = "analyst"
)

// PlanDocument Commander输出的计划JSON；字段名即模型输出的schema
type PlanDocument struct {
	Objective           string    `json:"objective"`
	Assumptions         []string  `json:"assumptions"`
	Constraints         []string  `json:"constraints"`
	Subtasks            []Subtask `json:"subtasks"`
	SuccessCriteria     []string  `json:"success_criteria"`
	NextQuestionForUser *string   `json:"next_question_for_user"`
}

// Subtask 计划中的一个工作单元；RequiresApproval只是规划器的提示，
// 实际门禁在执行时由Policy Engine重新判定。
// ToolInput是规划器给出的工具入参提示（table/count/bulk等），
// 会并入推导出的工具调用供policy评估
type Subtask struct {
	ID               string         `json:"id"`
	Agent            string         `json:"agent"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ToolsNeeded      []string       `json:"tools_needed"`
	ToolInput        map[string]any `json:"tool_input,omitempty"`
	RiskLevel        string         `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
}

// ToolCall 子任务隐含的工具调用，供Policy Engine评估
type ToolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}
