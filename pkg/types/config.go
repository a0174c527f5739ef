package types

// MarkConfig configures the labeling stage of a task
type MarkConfig struct {
	Model        string  `json:"model" yaml:"model"`
	Prompt       string  `json:"prompt" yaml:"prompt"`
	TriggerWords string  `json:"trigger_words" yaml:"trigger_words"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	// Extra is forwarded verbatim to the labeling service
	Extra map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// DefaultMarkConfig returns the labeling defaults
func DefaultMarkConfig() MarkConfig {
	return MarkConfig{
		Model:       "joycaption",
		Prompt:      "Write a descriptive caption for this image.",
		MaxTokens:   300,
		Temperature: 0.6,
	}
}

// WithDefaults fills zero fields from DefaultMarkConfig
func (c MarkConfig) WithDefaults() MarkConfig {
	d := DefaultMarkConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Prompt == "" {
		c.Prompt = d.Prompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	return c
}

// TrainingConfig configures the training stage of a task
type TrainingConfig struct {
	BaseModel         string  `json:"base_model" yaml:"base_model"`
	OutputName        string  `json:"output_name" yaml:"output_name"`
	Epochs            int     `json:"epochs" yaml:"epochs"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate"`
	BatchSize         int     `json:"batch_size" yaml:"batch_size"`
	Resolution        int     `json:"resolution" yaml:"resolution"`
	NetworkDim        int     `json:"network_dim" yaml:"network_dim"`
	NetworkAlpha      int     `json:"network_alpha" yaml:"network_alpha"`
	SampleEveryEpochs int     `json:"sample_every_n_epochs" yaml:"sample_every_n_epochs"`
	SamplePromptCount int     `json:"sample_prompt_count" yaml:"sample_prompt_count"`
	// Extra is forwarded verbatim to the training service
	Extra map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// DefaultTrainingConfig returns the training defaults
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		BaseModel:         "flux1-dev",
		Epochs:            10,
		LearningRate:      1e-4,
		BatchSize:         1,
		Resolution:        1024,
		NetworkDim:        16,
		NetworkAlpha:      16,
		SampleEveryEpochs: 2,
		SamplePromptCount: 3,
	}
}

// WithDefaults fills zero fields from DefaultTrainingConfig
func (c TrainingConfig) WithDefaults() TrainingConfig {
	d := DefaultTrainingConfig()
	if c.BaseModel == "" {
		c.BaseModel = d.BaseModel
	}
	if c.Epochs <= 0 {
		c.Epochs = d.Epochs
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Resolution <= 0 {
		c.Resolution = d.Resolution
	}
	if c.NetworkDim <= 0 {
		c.NetworkDim = d.NetworkDim
	}
	if c.NetworkAlpha <= 0 {
		c.NetworkAlpha = d.NetworkAlpha
	}
	if c.SampleEveryEpochs <= 0 {
		c.SampleEveryEpochs = d.SampleEveryEpochs
	}
	if c.SamplePromptCount <= 0 {
		c.SamplePromptCount = d.SamplePromptCount
	}
	return c
}
