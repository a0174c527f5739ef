package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks      = []byte("tasks")
	bucketAssets     = []byte("assets")
	bucketExecutions = []byte("executions")
)

// BoltStore implements Store using BoltDB. BoltDB allows a single writer at a
// time, so every Update is serialized against every other Update.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "trainyard.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketAssets, bucketExecutions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Update runs fn inside a BoltDB read-write transaction
func (s *BoltStore) Update(fn func(tx Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) view(fn func(tx *boltTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Task operations
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.Update(func(tx Tx) error {
		return tx.PutTask(task)
	})
}

func (s *BoltStore) GetTask(id int64) (*types.Task, error) {
	var task *types.Task
	err := s.view(func(tx *boltTx) error {
		var err error
		task, err = tx.GetTask(id)
		return err
	})
	return task, err
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.view(func(tx *boltTx) error {
		var err error
		tasks, err = tx.ListTasks()
		return err
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByStatus(statuses ...types.TaskStatus) ([]*types.Task, error) {
	all, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	want := statusSet(statuses)
	var tasks []*types.Task
	for _, task := range all {
		if want[task.Status] {
			tasks = append(tasks, task)
		}
	}
	SortTasks(tasks)
	return tasks, nil
}

func (s *BoltStore) DeleteTask(id int64) error {
	return s.Update(func(tx Tx) error {
		return tx.DeleteTask(id)
	})
}

// Asset operations
func (s *BoltStore) CreateAsset(asset *types.Asset) error {
	return s.Update(func(tx Tx) error {
		return tx.PutAsset(asset)
	})
}

func (s *BoltStore) GetAsset(id int64) (*types.Asset, error) {
	var asset *types.Asset
	err := s.view(func(tx *boltTx) error {
		var err error
		asset, err = tx.GetAsset(id)
		return err
	})
	return asset, err
}

func (s *BoltStore) ListAssets() ([]*types.Asset, error) {
	var assets []*types.Asset
	err := s.view(func(tx *boltTx) error {
		var err error
		assets, err = tx.ListAssets()
		return err
	})
	return assets, err
}

func (s *BoltStore) DeleteAsset(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).Delete(itob(id))
	})
}

// Execution history operations
func (s *BoltStore) GetExecution(id int64) (*types.ExecutionHistory, error) {
	var exec *types.ExecutionHistory
	err := s.view(func(tx *boltTx) error {
		var err error
		exec, err = tx.GetExecution(id)
		return err
	})
	return exec, err
}

func (s *BoltStore) ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error) {
	var execs []*types.ExecutionHistory
	err := s.view(func(tx *boltTx) error {
		var err error
		execs, err = tx.ListExecutionsByTask(taskID)
		return err
	})
	return execs, err
}

// boltTx adapts a bolt transaction to Tx
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) GetTask(id int64) (*types.Task, error) {
	var task types.Task
	if err := t.get(bucketTasks, id, &task); err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	return &task, nil
}

func (t *boltTx) PutTask(task *types.Task) error {
	return t.put(bucketTasks, &task.ID, task)
}

func (t *boltTx) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		tasks = append(tasks, &task)
		return nil
	})
	return tasks, err
}

func (t *boltTx) DeleteTask(id int64) error {
	return t.tx.Bucket(bucketTasks).Delete(itob(id))
}

func (t *boltTx) GetAsset(id int64) (*types.Asset, error) {
	var asset types.Asset
	if err := t.get(bucketAssets, id, &asset); err != nil {
		return nil, fmt.Errorf("asset %d: %w", id, err)
	}
	return &asset, nil
}

func (t *boltTx) PutAsset(asset *types.Asset) error {
	return t.put(bucketAssets, &asset.ID, asset)
}

func (t *boltTx) ListAssets() ([]*types.Asset, error) {
	var assets []*types.Asset
	err := t.tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
		var asset types.Asset
		if err := json.Unmarshal(v, &asset); err != nil {
			return err
		}
		assets = append(assets, &asset)
		return nil
	})
	return assets, err
}

func (t *boltTx) GetExecution(id int64) (*types.ExecutionHistory, error) {
	var exec types.ExecutionHistory
	if err := t.get(bucketExecutions, id, &exec); err != nil {
		return nil, fmt.Errorf("execution %d: %w", id, err)
	}
	return &exec, nil
}

func (t *boltTx) PutExecution(e *types.ExecutionHistory) error {
	return t.put(bucketExecutions, &e.ID, e)
}

func (t *boltTx) ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error) {
	var execs []*types.ExecutionHistory
	err := t.tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
		var exec types.ExecutionHistory
		if err := json.Unmarshal(v, &exec); err != nil {
			return err
		}
		if exec.TaskID == taskID {
			execs = append(execs, &exec)
		}
		return nil
	})
	sort.Slice(execs, func(i, j int) bool { return execs[i].Attempt < execs[j].Attempt })
	return execs, err
}

func (t *boltTx) get(bucket []byte, id int64, v any) error {
	data := t.tx.Bucket(bucket).Get(itob(id))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// put upserts v under *id, allocating the next sequence when *id is zero
func (t *boltTx) put(bucket []byte, id *int64, v any) error {
	b := t.tx.Bucket(bucket)
	if *id == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		*id = int64(seq)
	} else if uint64(*id) > b.Sequence() {
		if err := b.SetSequence(uint64(*id)); err != nil {
			return err
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(itob(*id), data)
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
