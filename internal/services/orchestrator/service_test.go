package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/connectors"
	"github.com/ternarybob/trawler/internal/elastic"
	"github.com/ternarybob/trawler/internal/ingest"
	"github.com/ternarybob/trawler/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func testService(config *common.Config) *Service {
	client := elastic.NewClient(elastic.Config{Host: "http://localhost:9200"}, testLogger())
	return New(
		config,
		connectors.NewConnectorIndex(client, testLogger()),
		connectors.NewSyncJobIndex(client, testLogger()),
		ingest.NewCoordinator(client, 0, testLogger()),
		nil,
		testLogger(),
	)
}

func testConnector(doc models.ConnectorDoc) *connectors.Connector {
	return connectors.NewConnector(nil, "c-1", doc, testLogger())
}

func TestSyncDue(t *testing.T) {
	service := testService(common.DefaultConfig())
	now := time.Now()

	tests := []struct {
		name string
		doc  models.ConnectorDoc
		due  bool
	}{
		{
			name: "sync_now wins",
			doc:  models.ConnectorDoc{SyncNow: true},
			due:  true,
		},
		{
			name: "scheduling disabled",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: false, Interval: "0 * * * * *"},
			},
			due: false,
		},
		{
			name: "enabled but no interval",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: true},
			},
			due: false,
		},
		{
			name: "never synced",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: true, Interval: "0 * * * * *"},
			},
			due: true,
		},
		{
			name: "schedule fired since last sync",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: true, Interval: "0 * * * * *"},
				LastSynced: common.ISOUTC(now.Add(-5 * time.Minute)),
			},
			due: true,
		},
		{
			name: "schedule not fired yet",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: true, Interval: "0 0 0 1 1 *"},
				LastSynced: common.ISOUTC(now),
			},
			due: false,
		},
		{
			name: "unparseable interval",
			doc: models.ConnectorDoc{
				Scheduling: models.Scheduling{Enabled: true, Interval: "whenever"},
				LastSynced: common.ISOUTC(now),
			},
			due: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.due, service.syncDue(testConnector(tt.doc)))
		})
	}
}

func TestClaimedElsewhere(t *testing.T) {
	config := common.DefaultConfig()
	config.Service.HeartbeatSeconds = 60
	service := testService(config)

	tests := []struct {
		name     string
		lastSeen string
		claimed  bool
	}{
		{name: "never seen", lastSeen: "", claimed: false},
		{name: "fresh heartbeat", lastSeen: common.ISOUTC(time.Now().Add(-10 * time.Second)), claimed: true},
		{name: "stale heartbeat", lastSeen: common.ISOUTC(time.Now().Add(-5 * time.Minute)), claimed: false},
		{name: "garbage timestamp", lastSeen: "not a time", claimed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector := testConnector(models.ConnectorDoc{LastSeen: tt.lastSeen})
			assert.Equal(t, tt.claimed, service.claimedElsewhere(connector))
		})
	}
}

func TestPipelineName(t *testing.T) {
	service := testService(common.DefaultConfig())

	pinned := testConnector(models.ConnectorDoc{
		Pipeline: map[string]interface{}{"name": "my-pipeline", "extract_binary_content": true},
	})
	assert.Equal(t, "my-pipeline", service.pipelineName(pinned))

	unpinned := testConnector(models.ConnectorDoc{})
	assert.Equal(t, "ent-search-generic-ingestion", service.pipelineName(unpinned))
}

func TestFallbackServiceType(t *testing.T) {
	config := common.DefaultConfig()
	service := testService(config)
	assert.Equal(t, "", service.fallbackServiceType())

	config.Service.ServiceTypes = []string{"directory"}
	assert.Equal(t, "directory", service.fallbackServiceType())

	config.Service.ServiceTypes = []string{"directory", "google_cloud_storage"}
	assert.Equal(t, "", service.fallbackServiceType())
}

// sweepServer fakes the two control indices for the job sweeps
type sweepServer struct {
	mu       sync.Mutex
	server   *httptest.Server
	orphaned []map[string]interface{}
	stuck    []map[string]interface{}
	pending  []map[string]interface{}

	jobUpdates       map[string]map[string]interface{}
	connectorUpdates map[string]map[string]interface{}
	deletedJobs      []string
}

func newSweepServer(t *testing.T) *sweepServer {
	t.Helper()
	ss := &sweepServer{
		jobUpdates:       make(map[string]map[string]interface{}),
		connectorUpdates: make(map[string]map[string]interface{}),
	}
	jobsPrefix := "/" + connectors.JobsIndexName
	connectorsPrefix := "/" + connectors.ConnectorsIndexName

	ss.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case r.Method == http.MethodPost && path == jobsPrefix+"/_refresh":
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && path == jobsPrefix+"/_search":
			var req elastic.SearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			ss.serveJobSearch(t, w, &req)
		case r.Method == http.MethodPost && strings.HasPrefix(path, jobsPrefix+"/_update/"):
			jobID := path[len(jobsPrefix+"/_update/"):]
			var body struct {
				Doc map[string]interface{} `json:"doc"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			ss.mu.Lock()
			ss.jobUpdates[jobID] = body.Doc
			ss.mu.Unlock()
			w.Write([]byte(`{}`))
		case r.Method == http.MethodDelete:
			ss.mu.Lock()
			ss.deletedJobs = append(ss.deletedJobs, path[len(jobsPrefix+"/_doc/"):])
			ss.mu.Unlock()
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && strings.HasPrefix(path, connectorsPrefix+"/_update/"):
			connectorID := path[len(connectorsPrefix+"/_update/"):]
			var body struct {
				Doc map[string]interface{} `json:"doc"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			ss.mu.Lock()
			ss.connectorUpdates[connectorID] = body.Doc
			ss.mu.Unlock()
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return ss
}

// serveJobSearch picks the canned result set by the shape of the sweep query
func (ss *sweepServer) serveJobSearch(t *testing.T, w http.ResponseWriter, req *elastic.SearchRequest) {
	boolQuery, _ := req.Query["bool"].(map[string]interface{})
	var hits []map[string]interface{}
	switch {
	case boolQuery["must_not"] != nil:
		hits = ss.orphaned
	case boolQuery["filter"] != nil:
		hits = ss.stuck
	case boolQuery["must"] != nil:
		hits = ss.pending
	default:
		t.Errorf("unexpected job query: %v", req.Query)
	}

	paged := make([]map[string]interface{}, 0)
	for i := req.From; i < req.From+req.Size && i < len(hits); i++ {
		paged = append(paged, hits[i])
	}
	response := map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(hits)},
			"hits":  paged,
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(response))
}

func jobHit(id, connectorID, status string) map[string]interface{} {
	return map[string]interface{}{
		"_id": id,
		"_source": map[string]interface{}{
			"connector": map[string]interface{}{"id": connectorID},
			"status":    status,
		},
	}
}

func TestSweepJobs(t *testing.T) {
	ss := newSweepServer(t)
	defer ss.server.Close()

	ss.orphaned = []map[string]interface{}{
		jobHit("job-orphan", "c-gone", "in_progress"),
		jobHit("job-orphan-done", "c-gone", "completed"), // terminal, left alone
	}
	ss.stuck = []map[string]interface{}{
		jobHit("job-stuck", "c-1", "in_progress"),
	}
	ss.pending = []map[string]interface{}{
		jobHit("job-pending", "c-1", "pending"),
	}

	client := elastic.NewClient(elastic.Config{Host: ss.server.URL}, testLogger())
	service := New(
		common.DefaultConfig(),
		connectors.NewConnectorIndex(client, testLogger()),
		connectors.NewSyncJobIndex(client, testLogger()),
		ingest.NewCoordinator(client, 0, testLogger()),
		nil,
		testLogger(),
	)

	service.sweepJobs(context.Background(), []string{"c-1"})

	// Orphaned and stuck jobs got force-failed with completed_at set
	require.Contains(t, ss.jobUpdates, "job-orphan")
	assert.Equal(t, "failed", ss.jobUpdates["job-orphan"]["status"])
	assert.Contains(t, ss.jobUpdates["job-orphan"], "completed_at")
	assert.NotContains(t, ss.jobUpdates, "job-orphan-done")

	require.Contains(t, ss.jobUpdates, "job-stuck")
	assert.Equal(t, "failed", ss.jobUpdates["job-stuck"]["status"])

	// The pending job became a sync trigger and was retired
	require.Contains(t, ss.connectorUpdates, "c-1")
	assert.Equal(t, true, ss.connectorUpdates["c-1"]["sync_now"])
	assert.Equal(t, []string{"job-pending"}, ss.deletedJobs)
}

func TestSweepJobsSkipsWithoutConnectorIDs(t *testing.T) {
	ss := newSweepServer(t)
	defer ss.server.Close()

	// A connector listing that comes back empty, whether because no rows
	// exist or because the search failed, must not condemn healthy jobs.
	ss.orphaned = []map[string]interface{}{
		jobHit("job-healthy", "c-1", "in_progress"),
	}

	client := elastic.NewClient(elastic.Config{Host: ss.server.URL}, testLogger())
	service := New(
		common.DefaultConfig(),
		connectors.NewConnectorIndex(client, testLogger()),
		connectors.NewSyncJobIndex(client, testLogger()),
		ingest.NewCoordinator(client, 0, testLogger()),
		nil,
		testLogger(),
	)

	service.sweepJobs(context.Background(), nil)

	assert.Empty(t, ss.jobUpdates)
	assert.Empty(t, ss.connectorUpdates)
	assert.Empty(t, ss.deletedJobs)
}
