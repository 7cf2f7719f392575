package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/forge/internal/common"
	"github.com/ternarybob/forge/internal/models"
)

type memProviders struct {
	model *models.ProviderModel
}

func (s *memProviders) SaveProviderModel(ctx context.Context, model *models.ProviderModel) error {
	s.model = model
	return nil
}

func (s *memProviders) GetDefaultProviderModel(ctx context.Context) (*models.ProviderModel, error) {
	if s.model == nil {
		return nil, models.ErrNotFound
	}
	return s.model, nil
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	providers := &memProviders{model: &models.ProviderModel{
		BaseEntity: models.NewBaseEntity("u1", "g1"),
		Provider:   "openai",
		ModelName:  "qwen-plus",
		APIBase:    server.URL + "/v1",
		APIKey:     "sk-test",
		IsDefault:  true,
	}}
	return NewClient(providers, 5*time.Second, common.GetLogger()), server
}

func chatBody(content, reasoning string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q,"reasoning_content":%q}}]}`, content, reasoning)
}

func TestChat_SendsModelAndAuth(t *testing.T) {
	var gotPath, gotAuth string
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, chatBody("hello", ""))
	})

	answer, err := client.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", answer)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestChat_RateLimited(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	})

	_, err := client.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestChat_ConnectionError(t *testing.T) {
	client, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestChat_APIErrorCarriesStatusAndMessage(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream exploded")
	})

	_, err := client.Chat(context.Background(), "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Message, "upstream exploded")
}

func TestChat_ErrorBodyOnSuccessStatus(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model not found"}}`)
	})

	_, err := client.Chat(context.Background(), "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "model not found", apiErr.Message)
}

func TestChat_MalformedBodyIsUnexpected(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json at all")
	})

	_, err := client.Chat(context.Background(), "hi")
	var unexpected *UnexpectedError
	assert.True(t, errors.As(err, &unexpected))
}

func TestChatCoT_ThinkTagsWinOverReasoningField(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatBody("<think>tagged reasoning</think>\nfinal answer", "field reasoning"))
	})

	resp, err := client.ChatCoT(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Answer)
	assert.Equal(t, "tagged reasoning", resp.Cot)
}

func TestChatCoT_ReasoningFieldWhenNoTags(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatBody("final answer", "field reasoning"))
	})

	resp, err := client.ChatCoT(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Answer)
	assert.Equal(t, "field reasoning", resp.Cot)
}

func TestChatCoT_NoReasoningAnywhere(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatBody("just the answer", ""))
	})

	resp, err := client.ChatCoT(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "just the answer", resp.Answer)
	assert.Empty(t, resp.Cot)
}
