package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// RuntimeConfig 一次Run的身份信息
type RuntimeConfig struct {
	WorkspaceID string
	TaskID      string
	RunID       string
	UserID      string
}

// Runtime 驱动单个Run的状态机：
// Planning -> Executing -> {挂起等审批 <-> Executing} -> {Completed | Failed}。
// Run内子任务严格顺序执行；进度全部落盘（RunStep/Run/ApprovalRequest），
// 挂起时不占用worker，恢复可以发生在另一个worker进程
type Runtime struct {
	cfg       RuntimeConfig
	commander *Commander
	policy    *PolicyEngine
	agents    map[string]*AgentExecutor
	bus       bus.Bus
	steps     *StepLog
}

func NewRuntime(cfg RuntimeConfig, commander *Commander, policy *PolicyEngine, agents map[string]*AgentExecutor, eventBus bus.Bus) *Runtime {
	return &Runtime{
		cfg:       cfg,
		commander: commander,
		policy:    policy,
		agents:    agents,
		bus:       eventBus,
		steps:     NewStepLog(cfg.RunID),
	}
}

// Execute 从规划开始跑一个新Run。
// 返回error表示Run已失败且值得队列重试（重投递会换新Run）；
// 挂起等审批和policy blocked都返回nil——前者等人工决议，后者重试无意义
func (r *Runtime) Execute(ctx context.Context, objective string) error {
	tracer := otel.Tracer("authority13/runtime")
	ctx, span := tracer.Start(ctx, "run.execute")
	span.SetAttributes(
		attribute.String("run.id", r.cfg.RunID),
		attribute.String("task.id", r.cfg.TaskID),
	)
	defer span.End()

	r.emit(bus.EventLog, map[string]any{"message": "Commander: Analyzing objective and creating plan..."})

	plan, err := r.commander.CreatePlan(ctx, r.cfg.WorkspaceID, objective)
	if err != nil {
		span.RecordError(err)
		// 规划失败对本Run致命；是否换新Run重试由队列层决定
		r.failRun(ctx, fmt.Sprintf("规划失败: %v", err))
		return err
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		r.failRun(ctx, fmt.Sprintf("序列化计划失败: %v", err))
		return err
	}
	taskPlan := &model.TaskPlan{TaskID: r.cfg.TaskID, PlanJSON: string(planJSON)}
	if err := db.DB.WithContext(ctx).Create(taskPlan).Error; err != nil {
		r.failRun(ctx, fmt.Sprintf("持久化计划失败: %v", err))
		return err
	}

	if err := r.steps.AppendJSON(ctx, model.StepTypePlan, map[string]any{"plan": plan}); err != nil {
		r.failRun(ctx, err.Error())
		return err
	}
	r.emit(bus.EventPlanCreated, map[string]any{"plan": plan})

	r.setRunStatus(ctx, model.RunStatusExecuting)
	r.setTaskStatus(ctx, model.TaskStatusExecuting)

	return r.runFrom(ctx, plan, 0)
}

// ResumeAfterApproval 审批通过后从挂起点的下一个子任务继续。
// 被批准的子任务不会自动重执行——审批只解除阻塞，被批准动作的
// 实际副作用由工具/connector层另行负责。
// 审批job是at-least-once投递：恢复前先对齐已落盘的tool_result，
// 重复投递（或恢复中途崩溃后的重投递）不会重跑已完成的子任务
func (r *Runtime) ResumeAfterApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	plan, err := r.loadPlan(ctx)
	if err != nil {
		r.failRun(ctx, err.Error())
		return err
	}

	start := len(plan.Subtasks)
	for i, st := range plan.Subtasks {
		if st.ID == approval.SubtaskID {
			start = i + 1
			break
		}
	}

	done, err := r.steps.CompletedSubtaskIDs(ctx)
	if err != nil {
		r.failRun(ctx, err.Error())
		return err
	}
	for start < len(plan.Subtasks) && done[plan.Subtasks[start].ID] {
		start++
	}

	r.setTaskStatus(ctx, model.TaskStatusExecuting)
	return r.runFrom(ctx, plan, start)
}

// FailAfterRejection 审批被拒：Run失败，不再处理后续子任务
func (r *Runtime) FailAfterRejection(ctx context.Context, approval *model.ApprovalRequest) {
	r.failRun(ctx, fmt.Sprintf("审批被拒绝: %s", approval.Summary))
}

// ResumeFromPersistedState 崩溃恢复：根据已落盘的tool_result步骤
// 跳过完成的子任务，从第一个未处理的子任务继续
func (r *Runtime) ResumeFromPersistedState(ctx context.Context) error {
	plan, err := r.loadPlan(ctx)
	if err != nil {
		r.failRun(ctx, err.Error())
		return err
	}

	done, err := r.steps.CompletedSubtaskIDs(ctx)
	if err != nil {
		r.failRun(ctx, err.Error())
		return err
	}

	start := len(plan.Subtasks)
	for i, st := range plan.Subtasks {
		if !done[st.ID] {
			start = i
			break
		}
	}

	log.Printf("run %s 从持久化状态恢复，继续第%d个子任务", r.cfg.RunID, start)
	r.setTaskStatus(ctx, model.TaskStatusExecuting)
	return r.runFrom(ctx, plan, start)
}

// runFrom 按计划顺序处理子任务；顺序有意义，后面的子任务隐含依赖前面的完成
func (r *Runtime) runFrom(ctx context.Context, plan *model.PlanDocument, start int) error {
	for i := start; i < len(plan.Subtasks); i++ {
		subtask := plan.Subtasks[i]
		r.emit(bus.EventSubtaskStarted, map[string]any{"subtask": subtask})

		call := DeriveToolCall(subtask)
		result := r.policy.Evaluate(call)

		switch result.Decision {
		case DecisionBlocked:
			// "系统拒绝"不是"系统故障"：按设计终止Run，不值得队列重试
			_ = r.steps.AppendJSON(ctx, model.StepTypeError, map[string]any{
				"error":      fmt.Sprintf("工具调用被policy禁止: %s", result.Reason),
				"subtask_id": subtask.ID,
				"tool":       call.Tool,
			})
			r.failRunKeepSteps(ctx, fmt.Sprintf("policy禁止: %s", result.Reason))
			return nil

		case DecisionNeedsApproval:
			if err := r.suspendForApproval(ctx, subtask, call, result); err != nil {
				r.failRun(ctx, err.Error())
				return err
			}
			// 挂起：释放worker，等人工决议经审批队列恢复
			return nil

		case DecisionSafe:
			executor, ok := r.agents[subtask.Agent]
			if !ok {
				err := fmt.Errorf("未知agent角色: %s", subtask.Agent)
				r.failRun(ctx, err.Error())
				return err
			}
			r.emit(bus.EventLog, map[string]any{
				"message": fmt.Sprintf("%s Agent: Starting %q", subtask.Agent, subtask.Title),
			})
			if _, err := executor.Execute(ctx, r.cfg.WorkspaceID, r.cfg.RunID, subtask, r.steps); err != nil {
				r.failRun(ctx, err.Error())
				return err
			}
			r.emit(bus.EventSubtaskCompleted, map[string]any{"subtask": subtask})
		}
	}

	return r.complete(ctx)
}

// suspendForApproval 创建审批请求并挂起；同一Run最多一条pending记录
func (r *Runtime) suspendForApproval(ctx context.Context, subtask model.Subtask, call model.ToolCall, result PolicyResult) error {
	// 重复投递时已有pending审批，直接保持挂起
	var existing int64
	if err := db.DB.WithContext(ctx).Model(&model.ApprovalRequest{}).
		Where("run_id = ? AND status = ?", r.cfg.RunID, model.ApprovalStatusPending).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("查询审批请求失败: %w", err)
	}
	if existing > 0 {
		return nil
	}

	detailsJSON, _ := json.Marshal(subtask)
	payloadJSON, _ := json.Marshal(call.Input)
	approval := &model.ApprovalRequest{
		RunID:               r.cfg.RunID,
		TaskID:              r.cfg.TaskID,
		WorkspaceID:         r.cfg.WorkspaceID,
		SubtaskID:           subtask.ID,
		Summary:             subtask.Title,
		DetailsJSON:         string(detailsJSON),
		EditablePayloadJSON: string(payloadJSON),
	}
	if err := db.DB.WithContext(ctx).Create(approval).Error; err != nil {
		return fmt.Errorf("创建审批请求失败: %w", err)
	}

	if err := r.steps.AppendJSON(ctx, model.StepTypeApproval, map[string]any{
		"approval_id": approval.ID,
		"subtask_id":  subtask.ID,
		"summary":     approval.Summary,
		"reason":      result.Reason,
	}); err != nil {
		return err
	}

	r.setTaskStatus(ctx, model.TaskStatusNeedsApproval)
	r.emit(bus.EventApprovalRequested, map[string]any{
		"approval_id": approval.ID,
		"subtask_id":  subtask.ID,
		"summary":     approval.Summary,
		"reason":      result.Reason,
	})
	_ = RecordAudit(ctx, r.cfg.WorkspaceID, model.AuditApprovalRequested, map[string]any{
		"approval_id": approval.ID,
		"run_id":      r.cfg.RunID,
		"task_id":     r.cfg.TaskID,
	}, "", subtask.Agent)

	log.Printf("run %s 挂起等待审批 approval=%s subtask=%s", r.cfg.RunID, approval.ID, subtask.ID)
	return nil
}

func (r *Runtime) complete(ctx context.Context) error {
	r.emit(bus.EventLog, map[string]any{"message": "All subtasks completed successfully!"})

	now := time.Now()
	db.DB.WithContext(ctx).Model(&model.Run{}).Where("id = ?", r.cfg.RunID).
		Updates(map[string]any{"status": model.RunStatusCompleted, "ended_at": &now})
	r.setTaskStatus(ctx, model.TaskStatusCompleted)

	r.emit(bus.EventRunCompleted, map[string]any{"run_id": r.cfg.RunID, "task_id": r.cfg.TaskID})
	_ = RecordAudit(ctx, r.cfg.WorkspaceID, model.AuditRunCompleted, map[string]any{
		"run_id":  r.cfg.RunID,
		"task_id": r.cfg.TaskID,
	}, "", "")
	return nil
}

// failRun 记录error步骤并把Run/Task置为failed
func (r *Runtime) failRun(ctx context.Context, reason string) {
	_ = r.steps.AppendJSON(ctx, model.StepTypeError, map[string]any{"error": reason})
	r.failRunKeepSteps(ctx, reason)
}

// failRunKeepSteps 只做状态与事件，不再追加步骤（调用方已记录）
func (r *Runtime) failRunKeepSteps(ctx context.Context, reason string) {
	now := time.Now()
	db.DB.WithContext(ctx).Model(&model.Run{}).Where("id = ?", r.cfg.RunID).
		Updates(map[string]any{"status": model.RunStatusFailed, "ended_at": &now, "error": reason})
	r.setTaskStatus(ctx, model.TaskStatusFailed)

	r.emit(bus.EventError, map[string]any{"error": reason})
	_ = RecordAudit(ctx, r.cfg.WorkspaceID, model.AuditRunFailed, map[string]any{
		"run_id":  r.cfg.RunID,
		"task_id": r.cfg.TaskID,
		"error":   reason,
	}, "", "")
	log.Printf("run %s 失败: %s", r.cfg.RunID, reason)
}

func (r *Runtime) setRunStatus(ctx context.Context, status string) {
	db.DB.WithContext(ctx).Model(&model.Run{}).Where("id = ?", r.cfg.RunID).
		Update("status", status)
}

func (r *Runtime) setTaskStatus(ctx context.Context, status string) {
	db.DB.WithContext(ctx).Model(&model.Task{}).Where("id = ?", r.cfg.TaskID).
		Update("status", status)
}

func (r *Runtime) emit(eventType string, data map[string]any) {
	if err := r.bus.Publish(bus.RunChannel(r.cfg.RunID), bus.NewEvent(eventType, data)); err != nil {
		log.Printf("发布事件失败 run=%s type=%s: %v", r.cfg.RunID, eventType, err)
	}
}

// loadPlan 取最新一次规划（历史计划保留，最新为活跃计划）
func (r *Runtime) loadPlan(ctx context.Context) (*model.PlanDocument, error) {
	var taskPlan model.TaskPlan
	err := db.DB.WithContext(ctx).
		Where("task_id = ?", r.cfg.TaskID).
		Order("created_at DESC").
		First(&taskPlan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s 没有计划", r.cfg.TaskID)
		}
		return nil, fmt.Errorf("读取计划失败: %w", err)
	}

	var plan model.PlanDocument
	if err := json.Unmarshal([]byte(taskPlan.PlanJSON), &plan); err != nil {
		return nil, fmt.Errorf("解析计划失败: %w", err)
	}
	return &plan, nil
}

// DeriveToolCall 从子任务推导隐含的工具调用：取tools_needed首个，
// 为空则用合成的no-op。规划器给的tool_input提示（table/count/bulk等）
// 一并带入，批量阈值和关键表规则靠它们生效
func DeriveToolCall(st model.Subtask) model.ToolCall {
	tool := "noop"
	if len(st.ToolsNeeded) > 0 {
		tool = st.ToolsNeeded[0]
	}
	input := map[string]any{
		"subtask_id": st.ID,
		"risk_level": st.RiskLevel,
	}
	for k, v := range st.ToolInput {
		input[k] = v
	}
	return model.ToolCall{Tool: tool, Input: input}
}
