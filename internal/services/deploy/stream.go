package deploy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/forge/internal/models"
)

const doneFrame = "data: [DONE]\n\n"

// StreamInput is a streaming completion request. An empty LoraID
// addresses the base model.
type StreamInput struct {
	ClusterID   string
	LoraID      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// CompletionStream proxies a streaming completion from the cluster's
// master, re-emitting one SSE frame per generated token and closing
// with a [DONE] frame. Cancelling the context closes the upstream
// request.
func (s *Service) CompletionStream(ctx context.Context, w io.Writer, in StreamInput) error {
	cluster, nodes, err := s.resolveCluster(ctx, in.ClusterID)
	if err != nil {
		return err
	}
	model := "base_model"
	if in.LoraID != "" {
		if cluster.FindLora(in.LoraID) == nil {
			return models.ErrNotFound
		}
		model = in.LoraID
	}

	body, err := json.Marshal(completionRequest{
		Model:       model,
		Prompt:      in.Prompt,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(nodes[0].IP)+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// the stream outlives the adapter-call timeout, so use a bare client
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		writeErrorFrame(w, err.Error())
		return fmt.Errorf("completion call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("completion call returned %d", resp.StatusCode)
		writeErrorFrame(w, message)
		return fmt.Errorf("%s", message)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := writeFrame(w, chunk.Choices[0].Text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		writeErrorFrame(w, err.Error())
		return fmt.Errorf("completion stream interrupted: %w", err)
	}

	_, err = io.WriteString(w, doneFrame)
	flush(w)
	return err
}

func writeFrame(w io.Writer, token string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", token); err != nil {
		return err
	}
	flush(w)
	return nil
}

func writeErrorFrame(w io.Writer, message string) {
	frame := map[string]string{"error": message}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flush(w)
}

func flush(w io.Writer) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
