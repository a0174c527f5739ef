package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/cuemby/trainyard/pkg/types"
)

func (p *Processor) prepareMarking(_ storage.Tx, task *types.Task, _ *types.Asset, outputDir string) (map[string]any, error) {
	if len(task.Images) == 0 {
		return nil, fmt.Errorf("task has no images")
	}
	inputDir, err := p.workspace.InputDir(task.ID)
	if err != nil {
		return nil, err
	}
	task.MarkedImagesPath = outputDir

	cfg := task.MarkConfig.WithDefaults()
	payload := map[string]any{
		"task_id":       task.ID,
		"input_dir":     inputDir,
		"images":        task.Images,
		"output_dir":    outputDir,
		"model":         cfg.Model,
		"prompt":        cfg.Prompt,
		"trigger_words": cfg.TriggerWords,
		"max_tokens":    cfg.MaxTokens,
		"temperature":   cfg.Temperature,
	}
	mergeExtra(payload, cfg.Extra)
	return payload, nil
}

func (p *Processor) prepareTraining(tx storage.Tx, task *types.Task, asset *types.Asset, outputDir string) (map[string]any, error) {
	if task.MarkedImagesPath == "" {
		return nil, fmt.Errorf("task has no marked images")
	}

	cfg := task.TrainingConfig.WithDefaults()
	if cfg.OutputName == "" {
		cfg.OutputName = fmt.Sprintf("task_%d", task.ID)
	}

	captions, err := p.workspace.ReadCaptions(task.MarkedImagesPath)
	if err != nil {
		return nil, err
	}
	prompts := SamplePrompts(captions, task.MarkConfig.TriggerWords, cfg.SamplePromptCount)

	attempt, err := nextAttempt(tx, task.ID)
	if err != nil {
		return nil, err
	}
	exec := &types.ExecutionHistory{
		TaskID:         task.ID,
		Attempt:        attempt,
		AssetID:        asset.ID,
		ConfigSnapshot: cfg,
		OutputPath:     outputDir,
		Status:         types.ExecutionRunning,
		StartedAt:      time.Now(),
	}
	if err := tx.PutExecution(exec); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}
	task.ExecutionHistoryID = &exec.ID
	task.TrainingOutputPath = outputDir

	payload := map[string]any{
		"task_id":               task.ID,
		"dataset_dir":           task.MarkedImagesPath,
		"output_dir":            outputDir,
		"output_name":           cfg.OutputName,
		"base_model":            cfg.BaseModel,
		"epochs":                cfg.Epochs,
		"learning_rate":         cfg.LearningRate,
		"batch_size":            cfg.BatchSize,
		"resolution":            cfg.Resolution,
		"network_dim":           cfg.NetworkDim,
		"network_alpha":         cfg.NetworkAlpha,
		"sample_every_n_epochs": cfg.SampleEveryEpochs,
		"sample_prompts":        prompts,
	}
	mergeExtra(payload, cfg.Extra)
	return payload, nil
}

// SamplePrompts picks up to n captions, prefixed with the trigger words
func SamplePrompts(captions []string, triggerWords string, n int) []string {
	if n <= 0 || len(captions) == 0 {
		return []string{}
	}
	if n > len(captions) {
		n = len(captions)
	}

	trigger := strings.TrimSpace(triggerWords)
	prompts := make([]string, 0, n)
	// Spread the picks across the caption set
	step := float64(len(captions)) / float64(n)
	for i := 0; i < n; i++ {
		caption := captions[int(float64(i)*step)]
		if trigger != "" && !strings.HasPrefix(caption, trigger) {
			caption = trigger + ", " + caption
		}
		prompts = append(prompts, caption)
	}
	return prompts
}

// nextAttempt returns 1 + the highest attempt number recorded for the task
func nextAttempt(tx storage.Tx, taskID int64) (int, error) {
	execs, err := tx.ListExecutionsByTask(taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}
	attempt := 1
	for _, e := range execs {
		if e.Attempt >= attempt {
			attempt = e.Attempt + 1
		}
	}
	return attempt, nil
}

// FailExecution marks an execution record failed
func FailExecution(tx storage.Tx, id int64, detail string, at time.Time) error {
	exec, err := tx.GetExecution(id)
	if err != nil {
		return err
	}
	if exec.Status != types.ExecutionRunning {
		return nil
	}
	exec.Status = types.ExecutionFailed
	exec.ErrorMessage = detail
	exec.CompletedAt = &at
	return tx.PutExecution(exec)
}

func mergeExtra(payload map[string]any, extra map[string]any) {
	for k, v := range extra {
		if _, exists := payload[k]; !exists {
			payload[k] = v
		}
	}
}
