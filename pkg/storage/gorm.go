package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on a relational database through GORM.
// Rows read inside Update are locked with SELECT ... FOR UPDATE, so concurrent
// transactions touching the same task or asset serialize on the row lock.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a store backed by db
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&taskRow{}, &assetRow{}, &executionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Update runs fn inside a database transaction
func (s *GormStore) Update(fn func(tx Tx) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx, lock: true})
	})
}

func (s *GormStore) reader() *gormTx {
	return &gormTx{db: s.db}
}

func (s *GormStore) CreateTask(task *types.Task) error {
	return s.reader().PutTask(task)
}

func (s *GormStore) GetTask(id int64) (*types.Task, error) {
	return s.reader().GetTask(id)
}

func (s *GormStore) ListTasks() ([]*types.Task, error) {
	return s.reader().ListTasks()
}

func (s *GormStore) ListTasksByStatus(statuses ...types.TaskStatus) ([]*types.Task, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}

	var rows []taskRow
	result := s.db.Where("status IN ?", names).Order("created_at ASC, id ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	tasks := make([]*types.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, rows[i].toTask())
	}
	return tasks, nil
}

func (s *GormStore) DeleteTask(id int64) error {
	return s.reader().DeleteTask(id)
}

func (s *GormStore) CreateAsset(asset *types.Asset) error {
	return s.reader().PutAsset(asset)
}

func (s *GormStore) GetAsset(id int64) (*types.Asset, error) {
	return s.reader().GetAsset(id)
}

func (s *GormStore) ListAssets() ([]*types.Asset, error) {
	return s.reader().ListAssets()
}

func (s *GormStore) DeleteAsset(id int64) error {
	return s.db.Delete(&assetRow{}, id).Error
}

func (s *GormStore) GetExecution(id int64) (*types.ExecutionHistory, error) {
	return s.reader().GetExecution(id)
}

func (s *GormStore) ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error) {
	return s.reader().ListExecutionsByTask(taskID)
}

// gormTx adapts a *gorm.DB (inside or outside a transaction) to Tx
type gormTx struct {
	db   *gorm.DB
	lock bool
}

func (t *gormTx) query() *gorm.DB {
	if t.lock {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

func (t *gormTx) GetTask(id int64) (*types.Task, error) {
	var row taskRow
	if err := t.query().First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("task %d: %w", id, notFound(err))
	}
	return row.toTask(), nil
}

func (t *gormTx) PutTask(task *types.Task) error {
	row := newTaskRow(task)
	if err := t.db.Save(row).Error; err != nil {
		return err
	}
	task.ID = row.ID
	return nil
}

func (t *gormTx) ListTasks() ([]*types.Task, error) {
	var rows []taskRow
	if err := t.db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	tasks := make([]*types.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, rows[i].toTask())
	}
	return tasks, nil
}

func (t *gormTx) DeleteTask(id int64) error {
	return t.db.Delete(&taskRow{}, id).Error
}

func (t *gormTx) GetAsset(id int64) (*types.Asset, error) {
	var row assetRow
	if err := t.query().First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("asset %d: %w", id, notFound(err))
	}
	return row.toAsset(), nil
}

func (t *gormTx) PutAsset(asset *types.Asset) error {
	row := newAssetRow(asset)
	if err := t.db.Save(row).Error; err != nil {
		return err
	}
	asset.ID = row.ID
	return nil
}

func (t *gormTx) ListAssets() ([]*types.Asset, error) {
	var rows []assetRow
	if err := t.query().Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]*types.Asset, 0, len(rows))
	for i := range rows {
		assets = append(assets, rows[i].toAsset())
	}
	return assets, nil
}

func (t *gormTx) GetExecution(id int64) (*types.ExecutionHistory, error) {
	var row executionRow
	if err := t.query().First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("execution %d: %w", id, notFound(err))
	}
	return row.toExecution(), nil
}

func (t *gormTx) PutExecution(e *types.ExecutionHistory) error {
	row := newExecutionRow(e)
	if err := t.db.Save(row).Error; err != nil {
		return err
	}
	e.ID = row.ID
	return nil
}

func (t *gormTx) ListExecutionsByTask(taskID int64) ([]*types.ExecutionHistory, error) {
	var rows []executionRow
	if err := t.db.Where("task_id = ?", taskID).Order("attempt ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	execs := make([]*types.ExecutionHistory, 0, len(rows))
	for i := range rows {
		execs = append(execs, rows[i].toExecution())
	}
	return execs, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Row models

type taskRow struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement"`
	Name               string         `gorm:"type:varchar(255);not null"`
	Description        string         `gorm:"type:text"`
	Status             string         `gorm:"type:varchar(32);not null;index"`
	Progress           int            `gorm:"not null;default:0"`
	Images             pq.StringArray `gorm:"type:text[]"`
	MarkingAssetID     sql.NullInt64  `gorm:"index"`
	TrainingAssetID    sql.NullInt64  `gorm:"index"`
	ExternalJobID      string         `gorm:"type:varchar(255)"`
	JobCapability      string         `gorm:"type:varchar(32)"`
	MarkConfig         datatypes.JSONType[types.MarkConfig]
	TrainingConfig     datatypes.JSONType[types.TrainingConfig]
	History            datatypes.JSONType[types.StatusHistory]
	MarkedImagesPath   string `gorm:"type:text"`
	TrainingOutputPath string `gorm:"type:text"`
	ExecutionHistoryID sql.NullInt64
	ErrorMessage       string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time
}

func (taskRow) TableName() string {
	return "tasks"
}

func newTaskRow(t *types.Task) *taskRow {
	return &taskRow{
		ID:                 t.ID,
		Name:               t.Name,
		Description:        t.Description,
		Status:             string(t.Status),
		Progress:           t.Progress,
		Images:             pq.StringArray(t.Images),
		MarkingAssetID:     nullInt64(t.MarkingAssetID),
		TrainingAssetID:    nullInt64(t.TrainingAssetID),
		ExternalJobID:      t.ExternalJobID,
		JobCapability:      string(t.JobCapability),
		MarkConfig:         datatypes.NewJSONType(t.MarkConfig),
		TrainingConfig:     datatypes.NewJSONType(t.TrainingConfig),
		History:            datatypes.NewJSONType(t.History),
		MarkedImagesPath:   t.MarkedImagesPath,
		TrainingOutputPath: t.TrainingOutputPath,
		ExecutionHistoryID: nullInt64(t.ExecutionHistoryID),
		ErrorMessage:       t.ErrorMessage,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func (r *taskRow) toTask() *types.Task {
	return &types.Task{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		Status:             types.TaskStatus(r.Status),
		Progress:           r.Progress,
		Images:             []string(r.Images),
		MarkingAssetID:     int64Ptr(r.MarkingAssetID),
		TrainingAssetID:    int64Ptr(r.TrainingAssetID),
		ExternalJobID:      r.ExternalJobID,
		JobCapability:      types.Capability(r.JobCapability),
		MarkConfig:         r.MarkConfig.Data(),
		TrainingConfig:     r.TrainingConfig.Data(),
		History:            r.History.Data(),
		MarkedImagesPath:   r.MarkedImagesPath,
		TrainingOutputPath: r.TrainingOutputPath,
		ExecutionHistoryID: int64Ptr(r.ExecutionHistoryID),
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type capabilityColumns struct {
	Enabled    bool
	Port       int
	Scheme     string `gorm:"type:varchar(16)"`
	Verified   bool
	VerifiedAt sql.NullTime
	Message    string `gorm:"type:text"`
}

func newCapabilityColumns(b types.CapabilityBlock) capabilityColumns {
	c := capabilityColumns{
		Enabled:  b.Enabled,
		Port:     b.Port,
		Scheme:   b.Scheme,
		Verified: b.Verified,
		Message:  b.Message,
	}
	if b.VerifiedAt != nil {
		c.VerifiedAt = sql.NullTime{Time: *b.VerifiedAt, Valid: true}
	}
	return c
}

func (c capabilityColumns) toBlock() types.CapabilityBlock {
	b := types.CapabilityBlock{
		Enabled:  c.Enabled,
		Port:     c.Port,
		Scheme:   c.Scheme,
		Verified: c.Verified,
		Message:  c.Message,
	}
	if c.VerifiedAt.Valid {
		at := c.VerifiedAt.Time
		b.VerifiedAt = &at
	}
	return b
}

type assetRow struct {
	ID                 int64             `gorm:"primaryKey;autoIncrement"`
	Name               string            `gorm:"type:varchar(255);not null"`
	Address            string            `gorm:"type:varchar(255);not null"`
	SSHPort            int               `gorm:"column:ssh_port"`
	SSHUsername        string            `gorm:"column:ssh_username;type:varchar(255)"`
	SSHPassword        []byte            `gorm:"column:ssh_password"`
	Labeling           capabilityColumns `gorm:"embedded;embeddedPrefix:labeling_"`
	Training           capabilityColumns `gorm:"embedded;embeddedPrefix:training_"`
	MaxConcurrentTasks int               `gorm:"not null;default:1"`
	MarkingTasksCount  int               `gorm:"not null;default:0"`
	TrainingTasksCount int               `gorm:"not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (assetRow) TableName() string {
	return "assets"
}

func newAssetRow(a *types.Asset) *assetRow {
	return &assetRow{
		ID:                 a.ID,
		Name:               a.Name,
		Address:            a.Address,
		SSHPort:            a.SSH.Port,
		SSHUsername:        a.SSH.Username,
		SSHPassword:        a.SSH.Password,
		Labeling:           newCapabilityColumns(a.Labeling),
		Training:           newCapabilityColumns(a.Training),
		MaxConcurrentTasks: a.MaxConcurrentTasks,
		MarkingTasksCount:  a.MarkingTasksCount,
		TrainingTasksCount: a.TrainingTasksCount,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r *assetRow) toAsset() *types.Asset {
	return &types.Asset{
		ID:      r.ID,
		Name:    r.Name,
		Address: r.Address,
		SSH: types.SSHConfig{
			Port:     r.SSHPort,
			Username: r.SSHUsername,
			Password: r.SSHPassword,
		},
		Labeling:           r.Labeling.toBlock(),
		Training:           r.Training.toBlock(),
		MaxConcurrentTasks: r.MaxConcurrentTasks,
		MarkingTasksCount:  r.MarkingTasksCount,
		TrainingTasksCount: r.TrainingTasksCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type executionRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	TaskID         int64  `gorm:"not null;index"`
	Attempt        int    `gorm:"not null"`
	AssetID        int64  `gorm:"not null"`
	ExternalJobID  string `gorm:"type:varchar(255)"`
	ConfigSnapshot datatypes.JSONType[types.TrainingConfig]
	OutputPath     string    `gorm:"type:text"`
	Status         string    `gorm:"type:varchar(50);not null"`
	StartedAt      time.Time `gorm:"not null"`
	CompletedAt    sql.NullTime
	Loss           datatypes.JSONType[[]types.LossPoint]
	Results        datatypes.JSONMap
	ErrorMessage   sql.NullString `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
}

func (executionRow) TableName() string {
	return "task_execution_history"
}

func newExecutionRow(e *types.ExecutionHistory) *executionRow {
	row := &executionRow{
		ID:             e.ID,
		TaskID:         e.TaskID,
		Attempt:        e.Attempt,
		AssetID:        e.AssetID,
		ExternalJobID:  e.ExternalJobID,
		ConfigSnapshot: datatypes.NewJSONType(e.ConfigSnapshot),
		OutputPath:     e.OutputPath,
		Status:         string(e.Status),
		StartedAt:      e.StartedAt,
		Loss:           datatypes.NewJSONType(e.Loss),
		Results:        datatypes.JSONMap(e.Results),
	}
	if e.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *e.CompletedAt, Valid: true}
	}
	if e.ErrorMessage != "" {
		row.ErrorMessage = sql.NullString{String: e.ErrorMessage, Valid: true}
	}
	return row
}

func (r *executionRow) toExecution() *types.ExecutionHistory {
	e := &types.ExecutionHistory{
		ID:             r.ID,
		TaskID:         r.TaskID,
		Attempt:        r.Attempt,
		AssetID:        r.AssetID,
		ExternalJobID:  r.ExternalJobID,
		ConfigSnapshot: r.ConfigSnapshot.Data(),
		OutputPath:     r.OutputPath,
		Status:         types.ExecutionStatus(r.Status),
		StartedAt:      r.StartedAt,
		Loss:           r.Loss.Data(),
		Results:        map[string]any(r.Results),
		ErrorMessage:   r.ErrorMessage.String,
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Time
		e.CompletedAt = &at
	}
	return e
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
