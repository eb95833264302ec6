package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/trawler/internal/elastic"
	"github.com/ternarybob/trawler/internal/models"
)

// jobServer fakes the job-history index endpoints used by the lifecycle:
// document creation with assigned ids and partial updates.
type jobServer struct {
	server   *httptest.Server
	created  []map[string]interface{}
	updates  map[string][]map[string]interface{}
	assignID string
}

func newJobServer(t *testing.T) *jobServer {
	t.Helper()
	js := &jobServer{
		updates:  make(map[string][]map[string]interface{}),
		assignID: "job-42",
	}
	js.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/"+JobsIndexName+"/_doc":
			var doc map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
			js.created = append(js.created, doc)
			json.NewEncoder(w).Encode(map[string]interface{}{"_id": js.assignID})
		case r.Method == http.MethodPost && len(r.URL.Path) > len("/"+JobsIndexName+"/_update/"):
			jobID := r.URL.Path[len("/"+JobsIndexName+"/_update/"):]
			var body struct {
				Doc map[string]interface{} `json:"doc"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			js.updates[jobID] = append(js.updates[jobID], body.Doc)
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return js
}

func (js *jobServer) index(t *testing.T) *SyncJobIndex {
	t.Helper()
	client := elastic.NewClient(elastic.Config{Host: js.server.URL}, testLogger())
	return NewSyncJobIndex(client, testLogger())
}

func TestSyncJobLifecycle(t *testing.T) {
	js := newJobServer(t)
	defer js.server.Close()
	job := NewSyncJob("c-1", js.index(t))

	assert.Equal(t, models.JobStatusPending, job.Status())
	assert.Equal(t, float64(-1), job.Duration())

	filter := models.Filter{
		"advanced_snippet": map[string]interface{}{
			"value": map[string]interface{}{"query": "all"},
		},
	}
	require.NoError(t, job.Start(context.Background(), filter))

	assert.Equal(t, "job-42", job.ID)
	assert.Equal(t, models.JobStatusInProgress, job.Status())
	require.Len(t, js.created, 1)

	created := js.created[0]
	assert.Equal(t, "in_progress", created["status"])
	connectorRef := created["connector"].(map[string]interface{})
	assert.Equal(t, "c-1", connectorRef["id"])
	// The persisted snapshot carries the flattened filtering
	filtering := connectorRef["filtering"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"query": "all"}, filtering["advanced_snippet"])
	assert.Equal(t, []interface{}{}, filtering["rules"])

	require.NoError(t, job.Done(context.Background(), 12, 34, nil))
	assert.Equal(t, models.JobStatusCompleted, job.Status())
	assert.GreaterOrEqual(t, job.Duration(), float64(0))

	updates := js.updates["job-42"]
	require.Len(t, updates, 1)
	final := updates[0]
	assert.Equal(t, "completed", final["status"])
	assert.Equal(t, float64(12), final["indexed_document_count"])
	assert.Equal(t, float64(34), final["deleted_document_count"])
	assert.Equal(t, "", final["error"])
	assert.Contains(t, final, "completed_at")
}

func TestSyncJobFail(t *testing.T) {
	js := newJobServer(t)
	defer js.server.Close()
	job := NewSyncJob("c-1", js.index(t))

	require.NoError(t, job.Start(context.Background(), nil))
	require.NoError(t, job.Fail(context.Background(), errors.New("source exploded")))

	assert.Equal(t, models.JobStatusFailed, job.Status())
	final := js.updates["job-42"][0]
	assert.Equal(t, "failed", final["status"])
	assert.Equal(t, "source exploded", final["error"])
	assert.Contains(t, final, "completed_at")
}

func TestSyncJobCancelRecordsFailure(t *testing.T) {
	js := newJobServer(t)
	defer js.server.Close()
	job := NewSyncJob("c-1", js.index(t))

	require.NoError(t, job.Start(context.Background(), nil))
	require.NoError(t, job.Cancel(context.Background()))

	assert.Equal(t, models.JobStatusFailed, job.Status())
	final := js.updates["job-42"][0]
	assert.Equal(t, "failed", final["status"])
	assert.Equal(t, "sync job canceled", final["error"])
	assert.Contains(t, final, "completed_at")
}

func TestSyncJobHeartbeat(t *testing.T) {
	js := newJobServer(t)
	defer js.server.Close()
	job := NewSyncJob("c-1", js.index(t))

	require.NoError(t, job.Start(context.Background(), nil))
	require.NoError(t, job.Heartbeat(context.Background()))

	partial := js.updates["job-42"][0]
	assert.Contains(t, partial, "last_seen")
	assert.NotContains(t, partial, "status")
}

func TestSyncJobSuspend(t *testing.T) {
	js := newJobServer(t)
	defer js.server.Close()
	job := NewSyncJob("c-1", js.index(t))

	require.NoError(t, job.Start(context.Background(), nil))
	require.NoError(t, job.Suspend(context.Background()))

	assert.Equal(t, models.JobStatusSuspended, job.Status())
	// Suspension never writes a completion timestamp
	partial := js.updates["job-42"][0]
	assert.Equal(t, "suspended", partial["status"])
	assert.NotContains(t, partial, "completed_at")
	assert.Equal(t, float64(-1), job.Duration())
}
