package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCoT(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantAnswer string
		wantCot    string
	}{
		{
			name:       "no tags",
			text:       "Paris is the capital of France.",
			wantAnswer: "Paris is the capital of France.",
			wantCot:    "",
		},
		{
			name:       "think tags before answer",
			text:       "<think>The question asks for the capital.</think>\nParis.",
			wantAnswer: "Paris.",
			wantCot:    "The question asks for the capital.",
		},
		{
			name:       "thinking tags",
			text:       "<thinking>reasoning here</thinking>answer here",
			wantAnswer: "answer here",
			wantCot:    "reasoning here",
		},
		{
			name:       "multiline chain of thought",
			text:       "<think>\nstep 1\nstep 2\n</think>\nfinal answer",
			wantAnswer: "final answer",
			wantCot:    "step 1\nstep 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, cot := SplitCoT(tt.text)
			assert.Equal(t, tt.wantAnswer, answer)
			assert.Equal(t, tt.wantCot, cot)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "direct json",
			text: `["q1","q2"]`,
			want: `["q1","q2"]`,
		},
		{
			name: "fenced json",
			text: "Here you go:\n```json\n{\"a\": 1}\n```\nanything else",
			want: `{"a": 1}`,
		},
		{
			name:    "no json at all",
			text:    "sorry, I cannot help with that",
			wantErr: true,
		},
		{
			name:    "fence with invalid contents",
			text:    "```json\nnot json\n```",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
