package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/neilberkman/casesim/internal/core/models"
)

// DefaultOpenAIBaseURL is the public OpenAI API root
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the assistants API client
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // defaults to DefaultOpenAIBaseURL
	Timeout time.Duration // per request, defaults to 30s
}

// OpenAIThreads implements ThreadService on the OpenAI Assistants v2 API
type OpenAIThreads struct {
	client *resty.Client
}

// NewOpenAIThreads creates a new assistants API client
func NewOpenAIThreads(cfg OpenAIConfig) (*OpenAIThreads, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetAuthToken(cfg.APIKey)
	client.SetHeader("OpenAI-Beta", "assistants=v2")
	client.SetHeader("Content-Type", "application/json")

	// Reads are idempotent, so rate limits and 5xx on GET get a couple of retries.
	// Creates are never repeated here; a duplicate run would double-answer a turn.
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(3 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	return &OpenAIThreads{client: client}, nil
}

type apiObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

type apiMessage struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	Role      string            `json:"role"`
	Content   []apiContent      `json:"content"`
	Metadata  map[string]string `json:"metadata"`
}

type apiMessageList struct {
	Data    []apiMessage `json:"data"`
	HasMore bool         `json:"has_more"`
	LastID  string       `json:"last_id"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateThread implements ThreadService
func (o *OpenAIThreads) CreateThread(ctx context.Context) (string, error) {
	var obj apiObject
	if err := o.do(ctx, http.MethodPost, "/threads", map[string]any{}, nil, &obj); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return obj.ID, nil
}

// PostMessage implements ThreadService
func (o *OpenAIThreads) PostMessage(ctx context.Context, threadID string, msg models.NewMessage) (models.Message, error) {
	kind := msg.Kind
	if kind == "" {
		kind = models.KindVisible
	}
	body := map[string]any{
		"role":     string(msg.Role),
		"content":  msg.Text,
		"metadata": map[string]string{models.MetadataKindKey: string(kind)},
	}

	var m apiMessage
	if err := o.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil, &m); err != nil {
		return models.Message{}, fmt.Errorf("post message: %w", err)
	}
	return m.toModel(), nil
}

// StartRun implements ThreadService
func (o *OpenAIThreads) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	var obj apiObject
	body := map[string]any{"assistant_id": assistantID}
	if err := o.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, nil, &obj); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return obj.ID, nil
}

// GetRunStatus implements ThreadService
func (o *OpenAIThreads) GetRunStatus(ctx context.Context, threadID, runID string) (models.RunStatus, error) {
	var obj apiObject
	if err := o.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, nil, &obj); err != nil {
		return "", fmt.Errorf("get run: %w", err)
	}
	return mapRunStatus(obj.Status), nil
}

// ListMessages implements ThreadService
func (o *OpenAIThreads) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	var out []models.Message
	after := ""
	for {
		params := map[string]string{"order": "asc", "limit": "100"}
		if after != "" {
			params["after"] = after
		}

		var page apiMessageList
		if err := o.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, params, &page); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Data {
			out = append(out, m.toModel())
		}

		if !page.HasMore || len(page.Data) == 0 {
			return out, nil
		}
		after = page.LastID
		if after == "" {
			after = page.Data[len(page.Data)-1].ID
		}
	}
}

func (o *OpenAIThreads) do(ctx context.Context, method, path string, body any, query map[string]string, out any) error {
	req := o.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return decodeAPIError(resp)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	var body apiErrorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Type = body.Error.Type
	} else {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return apiErr
}

// mapRunStatus folds the API's run states into in-progress, completed and failed
func mapRunStatus(s string) models.RunStatus {
	switch s {
	case "queued", "in_progress", "cancelling":
		return models.RunInProgress
	case "completed":
		return models.RunCompleted
	default:
		// failed, cancelled, expired, incomplete, requires_action
		return models.RunFailed
	}
}

func (m apiMessage) toModel() models.Message {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}

	kind := models.Kind(m.Metadata[models.MetadataKindKey])
	if kind != models.KindControl {
		kind = models.KindVisible
	}

	return models.Message{
		ID:        m.ID,
		Role:      models.Role(m.Role),
		Kind:      kind,
		Text:      strings.Join(parts, "\n"),
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}
