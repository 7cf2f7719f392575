package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFinetuneConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  FinetuneConfig
		wantErr bool
	}{
		{
			name: "model arguments with base model",
			config: FinetuneConfig{
				Type: ConfigTypeModelArguments,
				Args: `{"model_name_or_path": "Qwen/Qwen2.5-7B-Instruct", "trust_remote_code": true}`,
			},
		},
		{
			name: "model arguments missing base model",
			config: FinetuneConfig{
				Type: ConfigTypeModelArguments,
				Args: `{"trust_remote_code": true}`,
			},
			wantErr: true,
		},
		{
			name: "finetuning arguments missing method",
			config: FinetuneConfig{
				Type: ConfigTypeFinetuningArguments,
				Args: `{"stage": "sft", "lora_rank": 8}`,
			},
			wantErr: true,
		},
		{
			name: "finetuning arguments with method",
			config: FinetuneConfig{
				Type: ConfigTypeFinetuningArguments,
				Args: `{"finetuning_type": "lora", "lora_rank": 8}`,
			},
		},
		{
			name: "training arguments with no required fields",
			config: FinetuneConfig{
				Type: ConfigTypeTrainingArguments,
				Args: `{"learning_rate": 0.0001}`,
			},
		},
		{
			name: "deepspeed args are free-form",
			config: FinetuneConfig{
				Type: ConfigTypeDeepspeedArguments,
				Args: `{"zero_optimization": {"stage": 2}}`,
			},
		},
		{
			name: "unknown keys are tolerated",
			config: FinetuneConfig{
				Type: ConfigTypeModelArguments,
				Args: `{"model_name_or_path": "Qwen/Qwen2.5-7B-Instruct", "flash_attn": "fa2"}`,
			},
		},
		{
			name:    "unknown config type",
			config:  FinetuneConfig{Type: "MysteryArguments", Args: `{}`},
			wantErr: true,
		},
		{
			name:    "malformed args blob",
			config:  FinetuneConfig{Type: ConfigTypeDataArguments, Args: `{not json`},
			wantErr: true,
		},
		{
			name:    "empty args fail required schema",
			config:  FinetuneConfig{Type: ConfigTypeModelArguments},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
