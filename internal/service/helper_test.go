package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Divi1545/authority13/internal/bus"
	"github.com/Divi1545/authority13/internal/config"
	"github.com/Divi1545/authority13/internal/db"
	"github.com/Divi1545/authority13/internal/model"
	"github.com/Divi1545/authority13/internal/queue"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB 每个测试一个独立的sqlite内存库（shared cache保证
// 连接池里的连接看到同一个库）
func setupTestDB(t *testing.T) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	g, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.Migrate(g); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}

	prev := db.DB
	db.DB = g
	t.Cleanup(func() { db.DB = prev })
}

// fakeProvider 按脚本顺序应答的chat completions端点；
// 脚本耗尽后重复最后一条。统计调用次数供断言
type fakeProvider struct {
	server *httptest.Server

	mu       sync.Mutex
	script   []string
	calls    int
	statuses []int
}

// newFakeProvider script里的每个元素是模型的一条回复文本
func newFakeProvider(t *testing.T, script ...string) *fakeProvider {
	t.Helper()

	p := &fakeProvider{script: script}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		idx := p.calls
		p.calls++
		status := http.StatusOK
		if idx < len(p.statuses) && p.statuses[idx] != 0 {
			status = p.statuses[idx]
		}
		content := ""
		if len(p.script) > 0 {
			if idx >= len(p.script) {
				idx = len(p.script) - 1
			}
			content = p.script[idx]
		}
		p.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"provider unavailable"}}`)
			return
		}
		resp := map[string]any{
			"id": "chatcmpl-test",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// newTestContext 装配测试用ServiceContext：sqlite + 进程内bus/queue +
// 假供应商。队列不启动消费者，投递由测试显式驱动
func newTestContext(t *testing.T, providerURL string, policy config.PolicyConfig) *ServiceContext {
	t.Helper()

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			BaseURL:        providerURL,
			Model:          "gpt-4-turbo-preview",
			TimeoutSeconds: 5,
			MaxTokens:      2000,
		},
		Policy: policy,
		Limiter: config.LimiterConfig{
			RatePerSecond: 1000,
			Burst:         100,
		},
	}
	cfg.ApplyDefaults()

	eventBus := bus.NewMemoryBus()
	jobQueue := queue.NewMemoryQueue(3, 2, time.Millisecond, 1)
	t.Cleanup(func() {
		jobQueue.Close()
		eventBus.Close()
	})
	return NewServiceContext(cfg, eventBus, jobQueue, nil)
}

// seedCredential 给workspace配一条openai凭证
func seedCredential(t *testing.T, workspaceID string) {
	t.Helper()
	secret := &model.APIKeySecret{
		WorkspaceID:  workspaceID,
		Provider:     "openai",
		EncryptedKey: "sk-test",
	}
	if err := db.DB.Create(secret).Error; err != nil {
		t.Fatalf("写入凭证失败: %v", err)
	}
}

// planJSON 构造一份模型输出形态的计划文档
func planJSON(t *testing.T, subtasks ...model.Subtask) string {
	t.Helper()
	doc := map[string]any{
		"objective":              "test objective",
		"assumptions":            []string{},
		"constraints":            []string{},
		"subtasks":               subtasks,
		"success_criteria":       []string{"done"},
		"next_question_for_user": nil,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("序列化计划失败: %v", err)
	}
	return string(data)
}

func mustGetTask(t *testing.T, id string) *model.Task {
	t.Helper()
	var task model.Task
	if err := db.DB.First(&task, "id = ?", id).Error; err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	return &task
}

func mustGetRun(t *testing.T, taskID string) *model.Run {
	t.Helper()
	var run model.Run
	if err := db.DB.Where("task_id = ?", taskID).Order("created_at DESC").First(&run).Error; err != nil {
		t.Fatalf("查询Run失败: %v", err)
	}
	return &run
}

func mustGetSteps(t *testing.T, runID string) []model.RunStep {
	t.Helper()
	var steps []model.RunStep
	if err := db.DB.Where("run_id = ?", runID).Order("step_index ASC").Find(&steps).Error; err != nil {
		t.Fatalf("查询步骤失败: %v", err)
	}
	return steps
}

// assertGaplessSteps 步骤index必须从0起连续递增
func assertGaplessSteps(t *testing.T, steps []model.RunStep) {
	t.Helper()
	for i, s := range steps {
		if s.Index != i {
			t.Fatalf("步骤index不连续: 第%d条的index=%d", i, s.Index)
		}
	}
}
