package taskstore

import (
	"fmt"
	"time"

	"github.com/cuemby/trainyard/pkg/events"
	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

// Store provides task operations on top of a storage.Store
type Store struct {
	store  storage.Store
	events events.Publisher
	now    func() time.Time
}

// New creates a task store. pub may be nil.
func New(store storage.Store, pub events.Publisher) *Store {
	if pub == nil {
		pub = events.Discard
	}
	return &Store{store: store, events: pub, now: time.Now}
}

// Storage returns the underlying store
func (s *Store) Storage() storage.Store {
	return s.store
}

// Now returns the clock used for timestamps
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns the task with the given id
func (s *Store) Get(id int64) (*types.Task, error) {
	return s.store.GetTask(id)
}

// List returns all tasks
func (s *Store) List() ([]*types.Task, error) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		return nil, err
	}
	storage.SortTasks(tasks)
	return tasks, nil
}

// ListEligible returns the tasks waiting for capability c, oldest first.
// Labeling needs at least one input image; training needs a marked output.
func (s *Store) ListEligible(c types.Capability) ([]*types.Task, error) {
	tasks, err := s.store.ListTasksByStatus(c.PendingStatus())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tasks: %w", c.PendingStatus(), err)
	}

	eligible := tasks[:0]
	for _, t := range tasks {
		switch c {
		case types.CapabilityLabeling:
			if len(t.Images) == 0 {
				continue
			}
		case types.CapabilityTraining:
			if t.MarkedImagesPath == "" {
				continue
			}
		}
		eligible = append(eligible, t)
	}
	return eligible, nil
}

// WithLock loads the task inside a transaction, runs fn and saves the task if
// fn succeeds. fn may read and write other records through tx; everything
// commits together. A status change made by fn is published after commit.
func (s *Store) WithLock(id int64, fn func(tx storage.Tx, task *types.Task) error) error {
	var (
		before types.TaskStatus
		after  *types.Task
	)
	err := s.store.Update(func(tx storage.Tx) error {
		task, err := tx.GetTask(id)
		if err != nil {
			return err
		}
		before = task.Status
		if err := fn(tx, task); err != nil {
			return err
		}
		task.UpdatedAt = s.now()
		if err := tx.PutTask(task); err != nil {
			return err
		}
		after = task
		return nil
	})
	if err != nil {
		return err
	}

	if after.Status != before {
		s.PublishStatus(after, string(before))
	}
	return nil
}

// PublishStatus emits the event matching the task's current status
func (s *Store) PublishStatus(task *types.Task, from string) {
	typ := events.EventTaskStatus
	switch task.Status {
	case types.TaskStatusError:
		typ = events.EventTaskFailed
	case types.TaskStatusCompleted:
		typ = events.EventTaskCompleted
	}
	s.events.Publish(&events.Event{
		Type:     typ,
		TaskID:   task.ID,
		Message:  string(task.Status),
		Metadata: map[string]string{"from": from, "to": string(task.Status)},
	})
}

// Publish forwards an event to the broker
func (s *Store) Publish(ev *events.Event) {
	s.events.Publish(ev)
}

// UpdateStatus transitions the task and appends msg to the new stage's log
func (s *Store) UpdateStatus(id int64, status types.TaskStatus, level types.LogLevel, msg string) error {
	return s.WithLock(id, func(_ storage.Tx, task *types.Task) error {
		now := s.now()
		task.Transition(status, now)
		if msg != "" {
			task.History.Append(level, msg, now)
		}
		return nil
	})
}

// AppendLog adds an entry to the task's current stage
func (s *Store) AppendLog(id int64, level types.LogLevel, msg string) error {
	return s.WithLock(id, func(_ storage.Tx, task *types.Task) error {
		task.History.Append(level, msg, s.now())
		return nil
	})
}

// UpsertLog coalesces repeated log entries sharing key and returns the
// resulting repeat count
func (s *Store) UpsertLog(id int64, key string, level types.LogLevel, msg func(count int) string) (int, error) {
	var n int
	err := s.WithLock(id, func(_ storage.Tx, task *types.Task) error {
		n = task.History.Upsert(key, level, msg, s.now())
		return nil
	})
	return n, err
}
