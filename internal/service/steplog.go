package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
)

// StepLog 单个Run的追加式步骤日志。index每次按已有行数计算，
// 配合(run_id, step_index)唯一索引保证从0起连续、不重号——
// 进程崩溃后换一个worker恢复也不破坏序列
type StepLog struct {
	runID string
}

func NewStepLog(runID string) *StepLog {
	return &StepLog{runID: runID}
}

// Append 追加一条步骤；每条写入落盘后Orchestrator才推进下一步
func (l *StepLog) Append(ctx context.Context, stepType, contentJSON string) error {
	var count int64
	if err := db.DB.WithContext(ctx).
		Model(&model.RunStep{}).
		Where("run_id = ?", l.runID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("统计步骤数失败: %w", err)
	}

	step := &model.RunStep{
		RunID:       l.runID,
		Index:       int(count),
		Type:        stepType,
		ContentJSON: contentJSON,
	}
	if err := db.DB.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("写入步骤失败: %w", err)
	}
	return nil
}

// AppendJSON Append的便捷形式
func (l *StepLog) AppendJSON(ctx context.Context, stepType string, content map[string]any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("序列化步骤内容失败: %w", err)
	}
	return l.Append(ctx, stepType, string(data))
}

// CompletedSubtaskIDs 返回已留下tool_result步骤的子任务id集合，
// 崩溃恢复时据此跳过已完成的子任务
func (l *StepLog) CompletedSubtaskIDs(ctx context.Context) (map[string]bool, error) {
	var steps []model.RunStep
	if err := db.DB.WithContext(ctx).
		Where("run_id = ? AND type = ?", l.runID, model.StepTypeToolResult).
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("查询步骤失败: %w", err)
	}

	done := make(map[string]bool, len(steps))
	for _, s := range steps {
		var content struct {
			SubtaskID string `json:"subtask_id"`
		}
		if err := json.Unmarshal([]byte(s.ContentJSON), &content); err == nil && content.SubtaskID != "" {
			done[content.SubtaskID] = true
		}
	}
	return done, nil
}
