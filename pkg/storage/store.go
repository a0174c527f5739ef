package storage

import (
	"errors"
	"sort"

	"github.com/cuemby/trainyard/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Tx is the view of the store inside one read-write transaction. All reads
// observe the transaction's snapshot and all writes commit together.
type Tx interface {
	GetTask(id int64) (*types.Task, error)
	PutTask(task *types.Task) error
	ListTasks() ([]*types.Task, error)
	DeleteTask(id int64) error

	GetAsset(id int64) (*types.Asset, error)
	PutAsset(asset *types.Asset) error
	ListAssets() ([]*types.Asset, error)

	GetExecution(id int64) (*types.ExecutionHistory, error)
	// PutExecution assigns an ID when e.ID is zero
	PutExecution(e *types.ExecutionHistory) error
	// ListExecutionsByTask returns the task's attempts in attempt order
	ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error)
}

// Store defines the interface for task and asset persistence
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id int64) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	// ListTasksByStatus returns tasks in any of the statuses, oldest first
	ListTasksByStatus(statuses ...types.TaskStatus) ([]*types.Task, error)
	DeleteTask(id int64) error

	// Assets
	CreateAsset(asset *types.Asset) error
	GetAsset(id int64) (*types.Asset, error)
	ListAssets() ([]*types.Asset, error)
	DeleteAsset(id int64) error

	// Execution history
	GetExecution(id int64) (*types.ExecutionHistory, error)
	ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error)

	// Update runs fn in a single read-write transaction. If fn returns an
	// error nothing is written.
	Update(fn func(tx Tx) error) error

	// Utility
	Close() error
}

// SortTasks orders tasks oldest first, breaking ties by ID
func SortTasks(tasks []*types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func statusSet(statuses []types.TaskStatus) map[types.TaskStatus]bool {
	set := make(map[types.TaskStatus]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
