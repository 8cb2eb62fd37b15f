package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat-go/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.OpenAIConfig{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/v1",
		AssistantID:    "asst_1",
		EmbeddingModel: "text-embedding-3-small",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestEmbed_KeepsInputOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestModerate_MapsCategories(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderations", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    "modr-1",
			"model": "text-moderation-latest",
			"results": []map[string]interface{}{{
				"flagged":         true,
				"categories":      map[string]bool{"violence": true},
				"category_scores": map[string]float64{"violence": 0.75, "hate": 0.01},
			}},
		})
	})

	res, err := c.Moderate(context.Background(), "text")
	require.NoError(t, err)
	assert.True(t, res.Flagged)
	assert.True(t, res.Categories["violence"])
	assert.False(t, res.Categories["hate"])
	assert.InDelta(t, 0.75, res.CategoryScores["violence"], 1e-6)
}

func TestCreateRun_ThreadNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]interface{}{
				"message": "No thread found with id 'thread_gone'.",
				"type":    "invalid_request_error",
			},
		})
	})

	_, err := c.CreateRun(context.Background(), "thread_gone", []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThreadNotFound))
}

func TestCreateRun_SendsMessagesWithRun(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path != "/v1/threads/thread_1/runs" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			AssistantID        string `json:"assistant_id"`
			AdditionalMessages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"additional_messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "asst_1", body.AssistantID)
		require.Len(t, body.AdditionalMessages, 2)
		assert.Equal(t, "user", body.AdditionalMessages[0].Role)
		assert.Equal(t, "START QUESTION: q :END QUESTION", body.AdditionalMessages[0].Content)
		assert.Equal(t, "START CONTEXT:  :END CONTEXT", body.AdditionalMessages[1].Content)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "run_1", "object": "thread.run", "status": "queued"})
	})

	run, err := c.CreateRun(context.Background(), "thread_1", []Message{
		{Role: "user", Content: "START QUESTION: q :END QUESTION"},
		{Role: "user", Content: "START CONTEXT:  :END CONTEXT"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, RunQueued, run.Status)
	assert.Equal(t, []string{"/v1/threads/thread_1/runs"}, paths)
}

func TestCreateRun_RejectedRunPostsNoMessages(t *testing.T) {
	var messagePosts int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/messages") {
			messagePosts++
			writeJSON(w, http.StatusOK, map[string]interface{}{"id": "msg_1", "object": "thread.message"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Thread thread_1 already has an active run run_0.",
				"type":    "invalid_request_error",
			},
		})
	})

	_, err := c.CreateRun(context.Background(), "thread_1", []Message{
		{Role: "user", Content: "START QUESTION: q :END QUESTION"},
		{Role: "user", Content: "START CONTEXT:  :END CONTEXT"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrThreadNotFound))
	assert.Zero(t, messagePosts)
}

func TestGetRunStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/threads/thread_1/runs/run_1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "run_1", "object": "thread.run", "status": "in_progress"})
	})

	status, err := c.GetRunStatus(context.Background(), "thread_1", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunInProgress, status)
}

func TestGetRunStatus_EmptyStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "run_1", "object": "thread.run"})
	})

	_, err := c.GetRunStatus(context.Background(), "thread_1", "run_1")
	assert.Equal(t, CodeEmptyResponse, Code(err))
}

func TestListMessages_CopiesRunIDAndText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/threads/thread_1/messages", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"id":     "msg_2",
					"object": "thread.message",
					"role":   "assistant",
					"run_id": "run_1",
					"content": []map[string]interface{}{
						{"type": "text", "text": map[string]interface{}{"value": "Yes, ", "annotations": []interface{}{}}},
						{"type": "text", "text": map[string]interface{}{"value": "we ship.", "annotations": []interface{}{}}},
					},
				},
				{
					"id":      "msg_1",
					"object":  "thread.message",
					"role":    "user",
					"content": []map[string]interface{}{{"type": "text", "text": map[string]interface{}{"value": "q"}}},
				},
			},
		})
	})

	msgs, err := c.ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ThreadMessage{ID: "msg_2", Role: "assistant", RunID: "run_1", Text: "Yes, we ship."}, msgs[0])
	assert.Equal(t, ThreadMessage{ID: "msg_1", Role: "user", Text: "q"}, msgs[1])
}

func TestWrapError_KeepsProviderCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Incorrect API key provided: sk-***.",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
	})

	_, err := c.CreateThread(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeInvalidAPIKey, Code(err))
	assert.Equal(t, "Incorrect API key provided.", UserMessage(err))
	assert.False(t, errors.Is(err, ErrThreadNotFound))
}

func TestSetupAssistant_MissingKey(t *testing.T) {
	c := NewClient(config.OpenAIConfig{})
	_, err := c.SetupAssistant(context.Background())
	assert.Equal(t, CodeMissingAPIKey, Code(err))
}
