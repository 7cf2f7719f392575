package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/forge/internal/interfaces"
)

// Client calls an OpenAI-compatible chat endpoint. The target model is
// the default provider row, read from storage on every call so operator
// edits take effect without a restart.
type Client struct {
	providers  interfaces.ProviderModelStorage
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates the chat facade
func NewClient(providers interfaces.ProviderModelStorage, timeout time.Duration, logger arbor.ILogger) *Client {
	return &Client{
		providers:  providers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithPrefix("llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, prompt string) (content, reasoning string, err error) {
	provider, err := c.providers.GetDefaultProviderModel(ctx)
	if err != nil {
		return "", "", &UnexpectedError{Message: fmt.Sprintf("no default provider model: %v", err)}
	}

	body, err := json.Marshal(chatRequest{
		Model:    provider.ModelName,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", "", &UnexpectedError{Message: err.Error()}
	}

	url := strings.TrimRight(provider.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", &UnexpectedError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", "", fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", "", &UnexpectedError{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if parsed.Error != nil {
		return "", "", &APIError{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", "", &UnexpectedError{Message: "response carried no choices"}
	}

	msg := parsed.Choices[0].Message
	return msg.Content, msg.ReasoningContent, nil
}

// Chat sends one prompt and returns the model text
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	content, _, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	answer, _ := SplitCoT(content)
	return answer, nil
}

// ChatCoT sends one prompt and separates the chain of thought from the
// answer: a <think> block in the content wins, then an explicit
// reasoning_content field, otherwise the chain of thought is empty.
func (c *Client) ChatCoT(ctx context.Context, prompt string) (*interfaces.CoTResponse, error) {
	content, reasoning, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	answer, cot := SplitCoT(content)
	if cot == "" {
		cot = strings.TrimSpace(reasoning)
	}
	return &interfaces.CoTResponse{Answer: answer, Cot: cot}, nil
}
