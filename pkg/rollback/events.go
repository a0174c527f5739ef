package rollback

import (
	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/types"
)

func rolledBackEvent(task *types.Task, from types.TaskStatus) *events.Event {
	return &events.Event{
		Type:     events.EventTaskRolledBack,
		TaskID:   task.ID,
		Message:  string(task.Status),
		Metadata: map[string]string{"from": string(from), "to": string(task.Status)},
	}
}
