package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/elastic"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// Coordinator defaults; sources may lower them via TweakBulkOptions.
const (
	DefaultChunkSize           = 500
	DefaultConcurrentDownloads = 10
	DefaultPipeline            = "ent-search-generic-ingestion"
)

// Options configures one sync run
type Options struct {
	ChunkSize           int
	ConcurrentDownloads int
	Pipeline            string
}

// DefaultOptions returns the coordinator defaults
func DefaultOptions() Options {
	return Options{
		ChunkSize:           DefaultChunkSize,
		ConcurrentDownloads: DefaultConcurrentDownloads,
		Pipeline:            DefaultPipeline,
	}
}

// Result carries the counters of one sync run. Per-document bulk rejections
// are collected instead of aborting the run.
type Result struct {
	Indexed   int
	Deleted   int
	DocErrors []string
}

// Coordinator streams documents from a source into a target index: it diffs
// the stream against current index contents, schedules bounded-concurrency
// lazy downloads, and submits batched bulk operations.
type Coordinator struct {
	client  *elastic.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewCoordinator creates a coordinator. maxRequestsPerSec throttles bulk
// submissions; zero disables throttling.
func NewCoordinator(client *elastic.Client, maxRequestsPerSec float64, logger arbor.ILogger) *Coordinator {
	var limiter *rate.Limiter
	if maxRequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRequestsPerSec), 1)
	}
	return &Coordinator{client: client, limiter: limiter, logger: logger}
}

// slot is one ordered position in the ingestion stream. Downloads resolve
// out of order but documents are submitted in source order.
type slot struct {
	id    string
	doc   map[string]interface{}
	extra chan map[string]interface{}
}

// Sync runs one ingestion pass. At most ConcurrentDownloads download calls
// are outstanding at any instant; the producer blocks once the budget is
// exhausted. Deletes are issued only after the source stream ends.
func (c *Coordinator) Sync(ctx context.Context, source interfaces.Source, indexName string, filtering models.Filter, opts Options) (*Result, error) {
	if err := common.ValidateIndexName(indexName); err != nil {
		return nil, err
	}

	bulkOpts := interfaces.BulkOptions{
		ChunkSize:           opts.ChunkSize,
		ConcurrentDownloads: opts.ConcurrentDownloads,
	}
	source.TweakBulkOptions(&bulkOpts)
	if bulkOpts.ChunkSize <= 0 {
		bulkOpts.ChunkSize = DefaultChunkSize
	}
	if bulkOpts.ConcurrentDownloads <= 0 {
		bulkOpts.ConcurrentDownloads = DefaultConcurrentDownloads
	}
	pipeline := opts.Pipeline
	if pipeline == "" {
		pipeline = DefaultPipeline
	}

	exists, err := c.client.IndexExists(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to check target index %s: %w", indexName, err)
	}
	if !exists {
		if err := c.client.CreateIndex(ctx, indexName, nil); err != nil {
			return nil, fmt.Errorf("failed to create target index %s: %w", indexName, err)
		}
	}

	existing, err := c.fetchExistingTimestamps(ctx, indexName)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("index", indexName).Int("existing", len(existing)).Msg("Loaded current index contents")

	docs, errs := source.GetDocs(ctx, filtering)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(bulkOpts.ConcurrentDownloads)

	seen := make(map[string]struct{})
	slots := make(chan *slot, bulkOpts.ChunkSize)

	// Producer: diff each yielded doc against the index and schedule its
	// download. group.Go blocks at the concurrency budget, which is the
	// backpressure contract.
	go func() {
		defer close(slots)
		for entry := range docs {
			id := coerceDocID(entry.Doc["_id"])
			if id == "" {
				c.logger.Warn().Str("index", indexName).Msg("Skipping document without _id")
				continue
			}

			existingTS, known := existing[id]
			if known {
				seen[id] = struct{}{}
				ts, _ := entry.Doc["_timestamp"].(string)
				if !timestampNewer(existingTS, ts) {
					continue
				}
			}

			s := &slot{id: id, doc: entry.Doc}
			if entry.Download != nil {
				s.extra = make(chan map[string]interface{}, 1)
				download := entry.Download
				downloadTS := existingTS
				group.Go(func() error {
					data, err := download(groupCtx, true, downloadTS)
					if err != nil {
						// extra stays open; the consumer unblocks through
						// the canceled group context and drops the slot
						return fmt.Errorf("download for document %s failed: %w", s.id, err)
					}
					if data != nil {
						s.extra <- data
					}
					close(s.extra)
					return nil
				})
			}

			select {
			case slots <- s:
			case <-groupCtx.Done():
				return
			}
		}
	}()

	result := &Result{}
	batch := newBulkBatch(indexName, bulkOpts.ChunkSize)

	// Consumer: submit operations in source order, waiting per slot for its
	// download to resolve. Once the group is canceled the remaining slots
	// carry documents without their download payload and are dropped.
	for s := range slots {
		if groupCtx.Err() != nil {
			continue
		}
		var extra map[string]interface{}
		if s.extra != nil {
			select {
			case data, ok := <-s.extra:
				if ok {
					extra = data
				}
			case <-groupCtx.Done():
				continue
			}
		}
		batch.addIndex(s.id, prepareDoc(s.doc, extra))
		if batch.full() {
			if err := c.flush(ctx, batch, pipeline, result); err != nil {
				return result, err
			}
		}
	}

	if err := group.Wait(); err != nil {
		return result, err
	}
	if err, ok := <-errs; ok && err != nil {
		return result, fmt.Errorf("source stream failed: %w", err)
	}

	// Everything the source no longer yields gets deleted
	for id := range existing {
		if _, ok := seen[id]; ok {
			continue
		}
		batch.addDelete(id)
		if batch.full() {
			if err := c.flush(ctx, batch, pipeline, result); err != nil {
				return result, err
			}
		}
	}

	if err := c.flush(ctx, batch, pipeline, result); err != nil {
		return result, err
	}

	c.logger.Info().
		Str("index", indexName).
		Int("indexed", result.Indexed).
		Int("deleted", result.Deleted).
		Int("doc_errors", len(result.DocErrors)).
		Msg("Sync pass finished")
	return result, nil
}

// fetchExistingTimestamps pages the target index and builds the id to
// _timestamp map the diff runs against.
func (c *Coordinator) fetchExistingTimestamps(ctx context.Context, indexName string) (map[string]string, error) {
	existing := make(map[string]string)
	offset := 0
	for {
		resp, err := c.client.Search(ctx, indexName, &elastic.SearchRequest{
			Query:  map[string]interface{}{"match_all": map[string]interface{}{}},
			From:   offset,
			Size:   elastic.DefaultPageSize,
			Source: []string{"_timestamp"},
		}, "open")
		if err != nil {
			return nil, fmt.Errorf("failed to page target index %s: %w", indexName, err)
		}
		hits := resp.Hits.Hits
		if len(hits) == 0 {
			return existing, nil
		}
		for _, hit := range hits {
			existing[hit.ID] = timestampOf(hit)
		}
		if len(existing) >= resp.Hits.Total.Value {
			return existing, nil
		}
		offset += len(hits)
	}
}

func (c *Coordinator) flush(ctx context.Context, batch *bulkBatch, pipeline string, result *Result) error {
	if batch.empty() {
		return nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	payload, indexed, deleted := batch.take()
	resp, err := c.client.Bulk(ctx, payload, pipeline)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}

	result.Indexed += indexed
	result.Deleted += deleted
	if resp.Errors {
		for _, item := range resp.Items {
			for action, outcome := range item {
				if outcome.Error == nil {
					continue
				}
				// Rejected documents are recorded, never abort the sync
				message := fmt.Sprintf("%s %s: %s %s", action, outcome.ID, outcome.Error.Type, outcome.Error.Reason)
				result.DocErrors = append(result.DocErrors, message)
				switch action {
				case "delete":
					result.Deleted--
				default:
					result.Indexed--
				}
			}
		}
	}
	return nil
}

// prepareDoc merges resolved download fields into a copy of the document and
// strips the bulk-metadata id field.
func prepareDoc(doc, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc)+len(extra))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// coerceDocID renders the source-provided _id (string or integer) as the
// string id used by index operations.
func coerceDocID(value interface{}) string {
	switch id := value.(type) {
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// timestampNewer reports whether the source timestamp is strictly newer than
// the indexed one. Unparseable timestamps count as changed.
func timestampNewer(existingTS, sourceTS string) bool {
	existingTime, err := common.ParseISO(existingTS)
	if err != nil {
		return true
	}
	sourceTime, err := common.ParseISO(sourceTS)
	if err != nil {
		return true
	}
	return existingTime.Before(sourceTime)
}

func timestampOf(hit elastic.Hit) string {
	var source struct {
		Timestamp string `json:"_timestamp"`
	}
	if err := json.Unmarshal(hit.Source, &source); err != nil {
		return ""
	}
	return source.Timestamp
}
