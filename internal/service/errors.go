package service

import "errors"

// 业务错误分级：ErrPlanGeneration / ErrCredentialMissing 对当前Run致命，
// 由队列决定是否新起Run重试。重复的审批决议不是error（幂等no-op），
// policy的blocked也不是error，是一等决策值——"系统拒绝"不同于"系统故障"
var (
	ErrPlanGeneration    = errors.New("生成任务计划失败")
	ErrCredentialMissing = errors.New("workspace未配置模型供应商凭证")
)
