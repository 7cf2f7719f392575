package models

import (
	"encoding/json"
	"fmt"
)

// FinetuneConfigType names the argument group a config row carries
type FinetuneConfigType string

const (
	ConfigTypeModelArguments      FinetuneConfigType = "ModelArguments"
	ConfigTypeDataArguments       FinetuneConfigType = "DataArguments"
	ConfigTypeTrainingArguments   FinetuneConfigType = "TrainingArguments"
	ConfigTypeFinetuningArguments FinetuneConfigType = "FinetuningArguments"
	ConfigTypeGeneratingArguments FinetuneConfigType = "GeneratingArguments"
	ConfigTypeDeepspeedArguments  FinetuneConfigType = "DeepspeedArguments"
	ConfigTypeOutputArguments     FinetuneConfigType = "OutputArguments"
)

// FinetuneConfig is a named, typed bag of training hyperparameters.
// Args holds the group as a JSON object so new llamafactory flags do not
// require schema changes; the typed structs below validate the fields
// the orchestrator depends on.
type FinetuneConfig struct {
	BaseEntity
	Name string             `json:"name"`
	Type FinetuneConfigType `json:"config_type"`
	Args string             `json:"args"`
}

// ModelArguments selects the base model
type ModelArguments struct {
	ModelNameOrPath string `json:"model_name_or_path" validate:"required"`
	TrustRemoteCode bool   `json:"trust_remote_code"`
}

// DataArguments shapes the training data feed
type DataArguments struct {
	Template            string `json:"template"`
	CutoffLen           int    `json:"cutoff_len"`
	MaxSamples          int    `json:"max_samples"`
	OverwriteCache      bool   `json:"overwrite_cache"`
	PreprocessingWorker int    `json:"preprocessing_num_workers"`
}

// TrainingArguments drives the optimizer loop
type TrainingArguments struct {
	PerDeviceTrainBatchSize   int     `json:"per_device_train_batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	LearningRate              float64 `json:"learning_rate"`
	NumTrainEpochs            float64 `json:"num_train_epochs"`
	LrSchedulerType           string  `json:"lr_scheduler_type"`
	WarmupRatio               float64 `json:"warmup_ratio"`
	Bf16                      bool    `json:"bf16"`
	LoggingSteps              int     `json:"logging_steps"`
	SaveSteps                 int     `json:"save_steps"`
}

// FinetuningArguments selects the tuning method
type FinetuningArguments struct {
	Stage          string `json:"stage"`
	FinetuningType string `json:"finetuning_type" validate:"required"`
	LoraTarget     string `json:"lora_target"`
	LoraRank       int    `json:"lora_rank"`
}

// GeneratingArguments tunes eval-time generation
type GeneratingArguments struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

// OutputArguments controls checkpoint output
type OutputArguments struct {
	OverwriteOutputDir bool `json:"overwrite_output_dir"`
	PlotLoss           bool `json:"plot_loss"`
}

// DecodeArgs parses the argument blob into a generic map for merging
// into the train yaml.
func (c *FinetuneConfig) DecodeArgs() (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if c.Args == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Args), &args); err != nil {
		return nil, fmt.Errorf("failed to decode %s args: %w", c.Type, err)
	}
	return args, nil
}

// Validate checks the type is known, the blob parses, and the fields
// satisfy the matching argument schema. Deepspeed args are free-form
// JSON handed to deepspeed as-is.
func (c *FinetuneConfig) Validate() error {
	var schema interface{}
	switch c.Type {
	case ConfigTypeModelArguments:
		schema = &ModelArguments{}
	case ConfigTypeDataArguments:
		schema = &DataArguments{}
	case ConfigTypeTrainingArguments:
		schema = &TrainingArguments{}
	case ConfigTypeFinetuningArguments:
		schema = &FinetuningArguments{}
	case ConfigTypeGeneratingArguments:
		schema = &GeneratingArguments{}
	case ConfigTypeOutputArguments:
		schema = &OutputArguments{}
	case ConfigTypeDeepspeedArguments:
	default:
		return NewValidationError("unknown finetune config type: %s", c.Type)
	}

	if _, err := c.DecodeArgs(); err != nil {
		return NewValidationError("invalid args for %s: %v", c.Type, err)
	}
	if schema == nil {
		return nil
	}
	if c.Args != "" {
		if err := json.Unmarshal([]byte(c.Args), schema); err != nil {
			return NewValidationError("invalid args for %s: %v", c.Type, err)
		}
	}
	if err := validate.Struct(schema); err != nil {
		return NewValidationError("%s args: %v", c.Type, err)
	}
	return nil
}

// Clone returns a deep copy for embedding into jobs
func (c *FinetuneConfig) Clone() *FinetuneConfig {
	clone := *c
	return &clone
}
