// Package bus 提供按Run分channel的实时事件fan-out。
// 总线本身不落盘、不回放——持久记录在RunStep/ApprovalRequest/Task行里，
// 晚接入的客户端需要另行查询当前状态。
package bus

import (
	"fmt"
	"time"
)

// 运行期事件类型
const (
	EventConnected         = "connected"
	EventLog               = "log"
	EventRunStarted        = "run.started"
	EventPlanCreated       = "plan.created"
	EventSubtaskStarted    = "subtask.started"
	EventSubtaskCompleted  = "subtask.completed"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventRunCompleted      = "run.completed"
	EventError             = "error"
)

// Event 一帧事件：type + JSON payload + 毫秒时间戳
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

func NewEvent(typ string, data map[string]any) Event {
	return Event{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

// RunChannel Run对应的channel名
func RunChannel(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

// Bus 发布/订阅契约。Publish尽力投递，不保证已有订阅者；
// Subscribe返回的cancel必须调用，否则泄漏
type Bus interface {
	Publish(channel string, event Event) error
	Subscribe(channel string) (<-chan Event, func(), error)
	Close()
}
