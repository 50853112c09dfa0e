package service

import (
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/queue"
)

// ServiceContext 服务装配；server与worker共用
type ServiceContext struct {
	Config *config.Config
	Bus    bus.Bus
	Queue  queue.Queue

	Client      *OpenAIClient
	Credentials *CredentialResolver
	Limiter     *KeyedLimiter
	Policy      *PolicyEngine
	Commander   *Commander
	Agents      map[string]*AgentExecutor

	TaskService     *TaskService
	ApprovalService *ApprovalService
}

// NewServiceContext 装配全部服务；dec为nil时凭证按明文处理
func NewServiceContext(cfg *config.Config, eventBus bus.Bus, q queue.Queue, dec Decrypter) *ServiceContext {
	client := NewOpenAIClient(
		cfg.Provider.BaseURL,
		cfg.Provider.Model,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
		cfg.Provider.MaxTokens,
	)
	credentials := NewCredentialResolver(dec)
	limiter := NewKeyedLimiter(cfg.Limiter.RatePerSecond, cfg.Limiter.Burst)
	policy := NewPolicyEngine(cfg.Policy)
	commander := NewCommander(client, credentials, limiter)

	agents := make(map[string]*AgentExecutor)
	for role, capability := range DefaultRoleCapabilities() {
		agents[role] = NewAgentExecutor(capability, client, credentials, limiter, eventBus)
	}

	return &ServiceContext{
		Config:          cfg,
		Bus:             eventBus,
		Queue:           q,
		Client:          client,
		Credentials:     credentials,
		Limiter:         limiter,
		Policy:          policy,
		Commander:       commander,
		Agents:          agents,
		TaskService:     NewTaskService(q),
		ApprovalService: NewApprovalService(q, eventBus),
	}
}

// NewRuntime 给一次Run构造Orchestrator
func (s *ServiceContext) NewRuntime(cfg RuntimeConfig) *Runtime {
	return NewRuntime(cfg, s.Commander, s.Policy, s.Agents, s.Bus)
}
