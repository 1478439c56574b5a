package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"knowledge-base-backend/config"
	"knowledge-base-backend/middleware"
	"knowledge-base-backend/model"
	"knowledge-base-backend/response"
	"knowledge-base-backend/service/collection"
	"knowledge-base-backend/service/index"
	"knowledge-base-backend/service/index/indextest"
	"knowledge-base-backend/service/mq"
	"knowledge-base-backend/service/progress"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "app-secret"
	testModel  = "bge-test"
	testDim    = 8
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newEmbeddingServer 兼容 OpenAI /embeddings 接口，向量由文本确定
func newEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			data[i] = item{Object: "embedding", Embedding: indextest.Vector(text, testDim), Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  testModel,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, embeddingURL string) *App {
	t.Helper()

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
jwt:
  secret_key: %s
mq:
  backend: memory
embedding:
  models:
    - name: %s
      provider: openai
      base_url: %s
      dimension: %d
pipeline:
  download_dir: %s
`, testSecret, testModel, embeddingURL, testDim, t.TempDir())))
	require.NoError(t, err)

	a := &App{
		Config: cfg,
		Logger: slog.New(slog.DiscardHandler),
		Vector: indextest.NewVectorIndex(),
		Broker: mq.NewMemoryBroker(),
	}
	a.wire(collection.NewMemoryStore(), progress.NewMemoryStore(), indextest.NewSearchIndex())
	return a
}

func request(t *testing.T, h http.Handler, token, method, path string, body any) (int, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env.Data
}

func TestApp_ImportEndToEnd(t *testing.T) {
	embeddingSrv := newEmbeddingServer(t)
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Milvus stores vectors.\n\nMySQL stores the full text."))
	}))
	defer fileSrv.Close()

	a := newTestApp(t, embeddingSrv.URL)
	h := a.Handler()
	token, err := middleware.GenerateToken(testSecret, "team-1", "user-1", "app-1", time.Hour)
	require.NoError(t, err)

	code, _ := request(t, h, token, http.MethodPost, "/api/vector/collections", map[string]any{
		"name":           "faq",
		"embeddingModel": testModel,
	})
	require.Equal(t, http.StatusCreated, code)

	code, data := request(t, h, token, http.MethodPost, "/api/vector/collections/faq/imports", map[string]any{
		"fileUrl":  fileSrv.URL + "/faq.txt",
		"metadata": map[string]any{"source": "manual"},
	})
	require.Equal(t, http.StatusAccepted, code)
	var submitted response.SubmitImportResponse
	require.NoError(t, json.Unmarshal(data, &submitted))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Worker().Run(ctx) }()

	var task response.TaskResponse
	require.Eventually(t, func() bool {
		code, data := request(t, h, token, http.MethodGet, "/api/vector/collections/faq/tasks/"+submitted.TaskID, nil)
		if code != http.StatusOK || json.Unmarshal(data, &task) != nil || len(task.Events) == 0 {
			return false
		}
		return task.Events[len(task.Events)-1].Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	last := task.Events[len(task.Events)-1]
	require.Equal(t, model.TaskStatusCompleted, last.Status, last.Message)
	assert.Equal(t, "imported 1 records", last.Message)

	assert.Len(t, a.Vector.(*indextest.VectorIndex).Records("faq"), 1)
	assert.Len(t, a.Search.(*indextest.SearchIndex).Records(index.SearchIndexName("app-1", "faq")), 1)

	code, data = request(t, h, token, http.MethodPost, "/api/vector/collections/faq/hybrid-search", map[string]any{
		"query": "full text",
	})
	require.Equal(t, http.StatusOK, code)
	var found response.SearchResponse
	require.NoError(t, json.Unmarshal(data, &found))
	require.NotEmpty(t, found.Hits)
	assert.Equal(t, "manual", found.Hits[0].Metadata["source"])
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t, "http://127.0.0.1:1")
	assert.NoError(t, a.Health(context.Background()))
	assert.NoError(t, a.Close(context.Background()))
}

func TestNewBroker(t *testing.T) {
	cfg := &config.Config{MQ: config.MQConfig{Backend: "memory"}}
	broker, err := NewBroker(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &mq.MemoryBroker{}, broker)

	cfg.MQ.Backend = "kafka"
	_, err = NewBroker(cfg, nil, nil)
	assert.Error(t, err)
}
