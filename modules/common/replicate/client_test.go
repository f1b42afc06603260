package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "version-abc", body["version"])

		json.NewEncoder(w).Encode(Job{ID: "pred-1", Status: "starting"})
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL)
	job, err := client.CreatePrediction(context.Background(), "version-abc", map[string]interface{}{
		"image": "https://example.com/a.png",
	})

	require.NoError(t, err)
	assert.Equal(t, "pred-1", job.ID)
	assert.Equal(t, "starting", job.Status)
}

func TestCreateTraining(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/ostris/flux-trainer/versions/v1/trainings", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "owner/repo", body["destination"])

		json.NewEncoder(w).Encode(Job{ID: "train-1", Status: "starting"})
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL)
	job, err := client.CreateTraining(context.Background(),
		"ostris", "flux-trainer", "v1", "owner/repo",
		map[string]interface{}{"input_images": "https://example.com/z.zip"})

	require.NoError(t, err)
	assert.Equal(t, "train-1", job.ID)
}

func TestGetReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"not found"}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL)
	_, err := client.Get(context.Background(), KindTraining, "missing")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAwaitCompletion(t *testing.T) {
	t.Run("polls until succeeded", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			status := "processing"
			if atomic.AddInt32(&calls, 1) >= 3 {
				status = "succeeded"
			}
			json.NewEncoder(w).Encode(Job{ID: "pred-1", Status: status})
		}))
		defer server.Close()

		client := NewClientWithBaseURL("test-token", server.URL)
		job, err := client.AwaitCompletion(context.Background(), KindPrediction, "pred-1",
			5*time.Second, 10*time.Millisecond)

		require.NoError(t, err)
		assert.Equal(t, "succeeded", job.Status)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
	})

	t.Run("failed job returns ErrJobFailed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(Job{ID: "pred-1", Status: "failed", Error: "boom"})
		}))
		defer server.Close()

		client := NewClientWithBaseURL("test-token", server.URL)
		_, err := client.AwaitCompletion(context.Background(), KindPrediction, "pred-1",
			time.Second, 10*time.Millisecond)

		assert.ErrorIs(t, err, ErrJobFailed)
	})

	t.Run("times out on stuck job", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(Job{ID: "pred-1", Status: "processing"})
		}))
		defer server.Close()

		client := NewClientWithBaseURL("test-token", server.URL)
		_, err := client.AwaitCompletion(context.Background(), KindPrediction, "pred-1",
			50*time.Millisecond, 10*time.Millisecond)

		assert.ErrorIs(t, err, ErrJobTimeout)
	})

	t.Run("canceled context stops polling", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(Job{ID: "pred-1", Status: "processing"})
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewClientWithBaseURL("test-token", server.URL)
		_, err := client.AwaitCompletion(ctx, KindPrediction, "pred-1",
			time.Second, 10*time.Millisecond)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOutputURL(t *testing.T) {
	t.Run("string output", func(t *testing.T) {
		job := Job{Output: json.RawMessage(`"https://example.com/out.png"`)}
		assert.Equal(t, "https://example.com/out.png", job.OutputURL())
	})

	t.Run("array output", func(t *testing.T) {
		job := Job{Output: json.RawMessage(`["https://example.com/1.png","https://example.com/2.png"]`)}
		assert.Equal(t, "https://example.com/1.png", job.OutputURL())
	})

	t.Run("empty output", func(t *testing.T) {
		job := Job{}
		assert.Equal(t, "", job.OutputURL())
	})
}

func TestWeightsURL(t *testing.T) {
	job := Job{Output: json.RawMessage(`{"weights":"https://example.com/w.safetensors","version":"v2"}`)}
	assert.Equal(t, "https://example.com/w.safetensors", job.WeightsURL())

	empty := Job{Output: json.RawMessage(`{}`)}
	assert.Equal(t, "", empty.WeightsURL())
}

func TestExtractProgress(t *testing.T) {
	tests := []struct {
		name   string
		logs   string
		status string
		want   int
	}{
		{"succeeded overrides logs", "flux_train_replicate: 40%", "succeeded", 100},
		{"trainer pattern", "step 100\nflux_train_replicate: 42%\n", "processing", 42},
		{"latest line wins", "flux_train_replicate: 10%\nflux_train_replicate: 73%", "processing", 73},
		{"tqdm pattern", "loading\n 55%|█████     | 55/100", "processing", 55},
		{"no pattern", "warming up", "processing", 0},
		{"empty logs", "", "starting", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractProgress(tt.logs, tt.status))
		})
	}
}
