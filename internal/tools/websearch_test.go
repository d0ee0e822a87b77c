package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/logger"
)

func TestWebSearchExecute(t *testing.T) {
	var gotKey string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Go 1.24 Release Notes", "url": "https://go.dev/doc/go1.24", "text": "The latest Go release."},
				{"title": "Go Blog", "url": "https://go.dev/blog", "text": "News from the Go project."},
			},
		})
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, "key-123", logger.New(logger.Config{Level: slog.LevelError}))
	out, err := tool.Execute(context.Background(), `{"query": "go release"}`)
	require.NoError(t, err)

	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "go release", gotBody["query"])
	assert.EqualValues(t, 5, gotBody["numResults"])
	assert.Contains(t, out, "[1] Go 1.24 Release Notes")
	assert.Contains(t, out, "https://go.dev/doc/go1.24")
	assert.Contains(t, out, "[2] Go Blog")
}

func TestWebSearchExecuteErrors(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})

	t.Run("unconfigured", func(t *testing.T) {
		tool := NewWebSearchTool("http://example.invalid", "", log)
		_, err := tool.Execute(context.Background(), `{"query": "x"}`)
		assert.Error(t, err)
	})

	t.Run("missing query", func(t *testing.T) {
		tool := NewWebSearchTool("http://example.invalid", "k", log)
		_, err := tool.Execute(context.Background(), `{}`)
		assert.Error(t, err)
	})

	t.Run("upstream failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		tool := NewWebSearchTool(srv.URL, "k", log)
		_, err := tool.Execute(context.Background(), `{"query": "x"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})
}

func TestWebSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, "k", logger.New(logger.Config{Level: slog.LevelError}))
	out, err := tool.Execute(context.Background(), `{"query": "nothing"}`)
	require.NoError(t, err)
	assert.Equal(t, "No search results found.", out)
}

func TestSourcesFromOutput(t *testing.T) {
	output := "[1] Go 1.24 Release Notes\nhttps://go.dev/doc/go1.24\nThe latest release.\n\n" +
		"[2] Go Blog\nhttps://go.dev/blog\nNews.\n\n"

	sources := SourcesFromOutput(output)
	require.Len(t, sources, 2)
	assert.Equal(t, "Go 1.24 Release Notes", sources[0].Title)
	assert.Equal(t, "https://go.dev/doc/go1.24", sources[0].URL)
	assert.Equal(t, "Go Blog", sources[1].Title)
}

func TestSourcesFromOutputIgnoresNonResultText(t *testing.T) {
	assert.Empty(t, SourcesFromOutput("No search results found."))
	assert.Empty(t, SourcesFromOutput("[1] title without a url line\nnot-a-url\n"))
}
