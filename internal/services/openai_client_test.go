package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestClient(t *testing.T, srvURL string, embedDim int) AIClient {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srvURL)
	t.Setenv("OPENAI_MAX_RETRIES", "2")

	client, err := NewOpenAIClient(testLogger(t), embedDim)
	require.NoError(t, err)
	return client
}

func embedPayload(vectors ...[]float64) map[string]interface{} {
	data := make([]map[string]interface{}, len(vectors))
	for i, v := range vectors {
		data[i] = map[string]interface{}{"embedding": v, "index": i}
	}
	return map[string]interface{}{"data": data}
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient(testLogger(t), 3)
	assert.Error(t, err)
}

func TestEmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(embedPayload([]float64{0.5, 0.25, 0.125}))
	}))
	defer srv.Close()

	client := newOpenAITestClient(t, srv.URL, 3)
	vectors, err := client.Embed(context.Background(), []string{"a description"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vectors[0])
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedPayload([]float64{1, 2}))
	}))
	defer srv.Close()

	client := newOpenAITestClient(t, srv.URL, 3)
	_, err := client.Embed(context.Background(), []string{"a description"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedEmptyInput(t *testing.T) {
	client := newOpenAITestClient(t, "http://unused", 3)
	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedPayload([]float64{1, 2, 3}))
	}))
	defer srv.Close()

	client := newOpenAITestClient(t, srv.URL, 3)
	vectors, err := client.Embed(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDoFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input"}}`))
	}))
	defer srv.Close()

	client := newOpenAITestClient(t, srv.URL, 3)
	_, err := client.Embed(context.Background(), []string{"rejected"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "a 4xx must not be retried")
}

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]interface{})
		require.Len(t, msgs, 2)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "  a dense description  "}},
			},
		})
	}))
	defer srv.Close()

	client := newOpenAITestClient(t, srv.URL, 3)
	got, err := client.Summarize(context.Background(), "long extracted text")
	require.NoError(t, err)
	assert.Equal(t, "a dense description", got)
}

func TestSummarizeRejectsEmptyText(t *testing.T) {
	client := newOpenAITestClient(t, "http://unused", 3)
	_, err := client.Summarize(context.Background(), "   \n ")
	assert.Error(t, err)
}
