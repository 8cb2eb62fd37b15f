package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"sitechat-go/internal/config"
	"sitechat-go/pkg/log"
)

// Client implements Provider on top of the OpenAI API.
type Client struct {
	cfg    config.OpenAIConfig
	client *openai.Client
}

var _ Provider = (*Client)(nil)

// NewClient creates a new OpenAI-backed provider client.
func NewClient(cfg config.OpenAIConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// AssistantID returns the assistant runs are created against.
func (c *Client) AssistantID() string {
	return c.cfg.AssistantID
}

// SetupAssistant makes sure the configured assistant exists, creating one
// when it is missing. It returns the assistant id in use.
func (c *Client) SetupAssistant(ctx context.Context) (string, error) {
	if c.cfg.APIKey == "" {
		return "", &Error{Code: CodeMissingAPIKey, Message: "API key is missing."}
	}
	if c.cfg.AssistantID != "" {
		assistant, err := c.client.RetrieveAssistant(ctx, c.cfg.AssistantID)
		if err == nil {
			return assistant.ID, nil
		}
		wrapped := wrapError(err)
		if wrapped.StatusCode != http.StatusNotFound {
			return "", wrapped
		}
		log.Warnf("[AIClient] 助手 %s 不存在，重新创建", c.cfg.AssistantID)
	}

	name := c.cfg.AssistantName
	instructions := c.cfg.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	assistant, err := c.client.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        c.cfg.AssistantModel,
		Name:         &name,
		Instructions: &instructions,
	})
	if err != nil {
		return "", wrapError(err)
	}
	if assistant.ID == "" {
		return "", &Error{Code: CodeEmptyResponse, Message: "An error occurred while creating the assistant."}
	}
	c.cfg.AssistantID = assistant.ID
	log.Infof("[AIClient] 已创建助手, id: %s", assistant.ID)
	return assistant.ID, nil
}

// Embed calls the embeddings endpoint once for the whole batch.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Debugf("[AIClient] 调用 Embedding API, model: %s, batch: %d", c.cfg.EmbeddingModel, len(texts))
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		log.Errorf("[AIClient] 调用 Embedding API 失败, error: %v", err)
		return nil, wrapError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{Code: CodeEmptyResponse, Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) || len(d.Embedding) == 0 {
			return nil, &Error{Code: CodeEmptyResponse, Message: "An error occurred while creating the embeddings."}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Moderate classifies a single text.
func (c *Client) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Results) == 0 {
		return &ModerationResult{}, nil
	}
	r := resp.Results[0]
	cats, scores := r.Categories, r.CategoryScores
	return &ModerationResult{
		Flagged: r.Flagged,
		Categories: map[string]bool{
			"hate":                   cats.Hate,
			"hate/threatening":       cats.HateThreatening,
			"harassment":             cats.Harassment,
			"harassment/threatening": cats.HarassmentThreatening,
			"self-harm":              cats.SelfHarm,
			"self-harm/intent":       cats.SelfHarmIntent,
			"self-harm/instructions": cats.SelfHarmInstructions,
			"sexual":                 cats.Sexual,
			"sexual/minors":          cats.SexualMinors,
			"violence":               cats.Violence,
			"violence/graphic":       cats.ViolenceGraphic,
		},
		CategoryScores: map[string]float64{
			"hate":                   float64(scores.Hate),
			"hate/threatening":       float64(scores.HateThreatening),
			"harassment":             float64(scores.Harassment),
			"harassment/threatening": float64(scores.HarassmentThreatening),
			"self-harm":              float64(scores.SelfHarm),
			"self-harm/intent":       float64(scores.SelfHarmIntent),
			"self-harm/instructions": float64(scores.SelfHarmInstructions),
			"sexual":                 float64(scores.Sexual),
			"sexual/minors":          float64(scores.SexualMinors),
			"violence":               float64(scores.Violence),
			"violence/graphic":       float64(scores.ViolenceGraphic),
		},
	}, nil
}

// CreateThread creates an empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", wrapError(err)
	}
	if thread.ID == "" {
		return "", &Error{Code: CodeEmptyResponse, Message: "An error occurred while creating the thread."}
	}
	return thread.ID, nil
}

// CreateRun starts a run of the configured assistant with the messages passed
// as additional messages, so they only land in the thread if the run is created.
func (c *Client) CreateRun(ctx context.Context, threadID string, messages []Message) (*Run, error) {
	additional := make([]openai.ThreadMessage, 0, len(messages))
	for _, m := range messages {
		additional = append(additional, openai.ThreadMessage{
			Role:    openai.ThreadMessageRole(m.Role),
			Content: m.Content,
		})
	}
	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:        c.cfg.AssistantID,
		AdditionalMessages: additional,
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &Run{ID: run.ID, Status: RunStatus(run.Status)}, nil
}

// GetRunStatus returns the current status of a run.
func (c *Client) GetRunStatus(ctx context.Context, threadID, runID string) (RunStatus, error) {
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", wrapError(err)
	}
	if run.Status == "" {
		return "", &Error{Code: CodeEmptyResponse, Message: "An error occurred while getting the run status."}
	}
	return RunStatus(run.Status), nil
}

// ListMessages lists the thread's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	list, err := c.client.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return nil, wrapError(err)
	}
	out := make([]ThreadMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		tm := ThreadMessage{ID: m.ID, Role: m.Role}
		if m.RunID != nil {
			tm.RunID = *m.RunID
		}
		var text strings.Builder
		for _, part := range m.Content {
			if part.Text != nil {
				text.WriteString(part.Text.Value)
			}
		}
		tm.Text = text.String()
		out = append(out, tm)
	}
	return out, nil
}

// wrapError converts go-openai errors into *Error.
func wrapError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := &Error{
			Code:       CodeUnknown,
			Message:    apiErr.Message,
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			e.Code = code
		}
		if apiErr.HTTPStatusCode == http.StatusNotFound && strings.Contains(apiErr.Message, "No thread found") {
			e.Code = CodeThreadNotFound
		}
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Code: CodeUnknown, Message: "request failed", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &Error{Code: CodeUnknown, Message: "request failed", Err: err}
}

const defaultInstructions = "Assistant Role & Concise Response Guidelines: As a Support Assistant, provide precise, " +
	"to-the-point answers based on the provided context. If the context directly addresses the user's question, " +
	"deliver a succinct response with essential details and necessary code snippets. For indirectly related " +
	"questions, synthesize context information to form a concise, relevant reply. If a question is outside the " +
	"context, simply state, \"This is beyond my current knowledge.\" Greetings may be answered with a greeting " +
	"and an offer to assist. Responses should be chat-friendly, relevant and straightforward."
