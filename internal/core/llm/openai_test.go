package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThreads(t *testing.T, h http.HandlerFunc) *OpenAIThreads {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	o, err := NewOpenAIThreads(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return o
}

func TestNewOpenAIThreadsRequiresKey(t *testing.T) {
	_, err := NewOpenAIThreads(OpenAIConfig{})
	assert.Error(t, err)
}

func TestOpenAIThreadsHeadersAndCreate(t *testing.T) {
	o := newTestThreads(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"thread_abc","object":"thread"}`))
	})

	id, err := o.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)
}

func TestOpenAIThreadsPostMessageSendsKind(t *testing.T) {
	o := newTestThreads(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/messages", r.URL.Path)

		var body struct {
			Role     string            `json:"role"`
			Content  string            `json:"content"`
			Metadata map[string]string `json:"metadata"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body.Role)
		assert.Equal(t, "control", body.Metadata[models.MetadataKindKey])

		_, _ = w.Write([]byte(`{"id":"msg_1","created_at":1700000000,"role":"user",
			"content":[{"type":"text","text":{"value":"Gere um novo caso"}}],
			"metadata":{"casesim_kind":"control"}}`))
	})

	m, err := o.PostMessage(context.Background(), "thread_abc", models.NewMessage{
		Role: models.RoleUser, Kind: models.KindControl, Text: "Gere um novo caso",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", m.ID)
	assert.True(t, m.IsControl())
	assert.Equal(t, "Gere um novo caso", m.Text)
	assert.Equal(t, int64(1700000000), m.CreatedAt.Unix())
}

func TestOpenAIThreadsRunStatusMapping(t *testing.T) {
	tests := []struct {
		api  string
		want models.RunStatus
	}{
		{"queued", models.RunInProgress},
		{"in_progress", models.RunInProgress},
		{"cancelling", models.RunInProgress},
		{"completed", models.RunCompleted},
		{"failed", models.RunFailed},
		{"expired", models.RunFailed},
		{"requires_action", models.RunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.api, func(t *testing.T) {
			o := newTestThreads(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/threads/thread_abc/runs/run_1", r.URL.Path)
				_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": tt.api})
			})
			got, err := o.GetRunStatus(context.Background(), "thread_abc", "run_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenAIThreadsListMessagesPaginates(t *testing.T) {
	calls := 0
	o := newTestThreads(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "asc", r.URL.Query().Get("order"))
		switch r.URL.Query().Get("after") {
		case "":
			_, _ = w.Write([]byte(`{"data":[
				{"id":"msg_1","created_at":10,"role":"user","content":[{"type":"text","text":{"value":"abrir"}}],"metadata":{"casesim_kind":"control"}},
				{"id":"msg_2","created_at":11,"role":"assistant","content":[{"type":"text","text":{"value":"Olá doutor"}}],"metadata":{}}
			],"has_more":true,"last_id":"msg_2"}`))
		case "msg_2":
			_, _ = w.Write([]byte(`{"data":[
				{"id":"msg_3","created_at":12,"role":"assistant","content":[{"type":"image_file"}],"metadata":null}
			],"has_more":false,"last_id":"msg_3"}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	})

	msgs, err := o.ListMessages(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, 2, calls)
	assert.True(t, msgs[0].IsControl())
	assert.Equal(t, models.KindVisible, msgs[1].Kind)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "", msgs[2].Text, "non-text content is dropped")
}

func TestOpenAIThreadsAPIError(t *testing.T) {
	o := newTestThreads(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No thread found","type":"invalid_request_error"}}`))
	})

	_, err := o.StartRun(context.Background(), "thread_missing", "asst_1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.False(t, apiErr.Temporary())
}
