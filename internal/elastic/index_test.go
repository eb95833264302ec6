package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/trawler/internal/common"
)

type fakeRecord struct {
	ID   string
	Name string
}

func fakeFactory(hit Hit) (*fakeRecord, error) {
	var source struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(hit.Source, &source); err != nil {
		return nil, err
	}
	return &fakeRecord{ID: hit.ID, Name: source.Name}, nil
}

// newPagingServer serves a fixed document set page by page, recording the
// order of API calls and the expand_wildcards parameters it saw.
func newPagingServer(t *testing.T, indexName string, total int, calls *[]string, wildcards *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + indexName + "/_refresh":
			*calls = append(*calls, "refresh")
			w.Write([]byte(`{}`))
		case "/" + indexName + "/_search":
			*calls = append(*calls, "search")
			*wildcards = append(*wildcards, r.URL.Query().Get("expand_wildcards"))

			var req SearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			hits := make([]map[string]interface{}, 0)
			for i := req.From; i < req.From+req.Size && i < total; i++ {
				hits = append(hits, map[string]interface{}{
					"_id":     fmt.Sprintf("doc-%d", i),
					"_source": map[string]interface{}{"name": fmt.Sprintf("name-%d", i)},
				})
			}
			response := map[string]interface{}{
				"hits": map[string]interface{}{
					"total": map[string]interface{}{"value": total},
					"hits":  hits,
				},
			}
			require.NoError(t, json.NewEncoder(w).Encode(response))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGetAllPagesEverything(t *testing.T) {
	var calls, wildcards []string
	server := newPagingServer(t, "content", 25, &calls, &wildcards)
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())
	index := NewIndex(client, "content", fakeFactory, common.GetLogger()).WithPageSize(10)

	seen := map[string]bool{}
	count := 0
	for record := range index.GetAll(context.Background(), nil) {
		require.False(t, seen[record.ID], "duplicate record %s", record.ID)
		seen[record.ID] = true
		count++
	}

	assert.Equal(t, 25, count)
	// Refresh happens before the first page
	require.NotEmpty(t, calls)
	assert.Equal(t, "refresh", calls[0])
	assert.Equal(t, []string{"search", "search", "search"}, calls[1:])
	for _, wildcard := range wildcards {
		assert.Equal(t, "open", wildcard)
	}
}

func TestGetAllHiddenIndexWildcards(t *testing.T) {
	var calls, wildcards []string
	server := newPagingServer(t, ".elastic-connectors", 3, &calls, &wildcards)
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())
	index := NewIndex(client, ".elastic-connectors", fakeFactory, common.GetLogger())

	count := 0
	for range index.GetAll(context.Background(), nil) {
		count++
	}

	assert.Equal(t, 3, count)
	for _, wildcard := range wildcards {
		assert.Equal(t, "hidden", wildcard)
	}
}

func TestGetAllTransportErrorTerminatesCleanly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())
	index := NewIndex(client, "content", fakeFactory, common.GetLogger())

	count := 0
	for range index.GetAll(context.Background(), nil) {
		count++
	}
	// The stream closes without delivering anything
	assert.Equal(t, 0, count)
}

func TestGetAllContextCancellation(t *testing.T) {
	var calls, wildcards []string
	server := newPagingServer(t, "content", 1000, &calls, &wildcards)
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())
	index := NewIndex(client, "content", fakeFactory, common.GetLogger()).WithPageSize(10)

	ctx, cancel := context.WithCancel(context.Background())
	stream := index.GetAll(ctx, nil)

	<-stream
	cancel()

	count := 0
	for range stream {
		count++
	}
	assert.Less(t, count, 1000)
}

func TestIndexExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/present" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())

	exists, err := client.IndexExists(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.IndexExists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path == "/content/_doc/doc-1" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"_id":     "doc-1",
				"found":   true,
				"_source": map[string]interface{}{"name": "alpha"},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"found":false}`))
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL}, common.GetLogger())
	index := NewIndex(client, "content", fakeFactory, common.GetLogger())

	record, found, err := index.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alpha", record.Name)

	_, found, err = index.Get(context.Background(), "doc-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateSendsRetryOnConflict(t *testing.T) {
	var path, retries string
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		retries = r.URL.Query().Get("retry_on_conflict")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{Host: server.URL, RetryOnConflict: 5}, common.GetLogger())
	err := client.Update(context.Background(), "content", "doc-1", map[string]interface{}{"status": "connected"}, client.RetryOnConflict())
	require.NoError(t, err)

	assert.Equal(t, "/content/_update/doc-1", path)
	assert.Equal(t, "5", retries)
	assert.Equal(t, map[string]interface{}{"doc": map[string]interface{}{"status": "connected"}}, body)
}
