package elastic

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
)

// DefaultPageSize is the from/size page used by GetAll
const DefaultPageSize = 100

// Index is a typed gateway over one named index. Hydration of hits into T is
// supplied by the owning package, keeping the gateway domain-agnostic.
type Index[T any] struct {
	client   *Client
	name     string
	pageSize int
	factory  func(Hit) (T, error)
	logger   arbor.ILogger
}

// NewIndex creates a typed gateway for the named index
func NewIndex[T any](client *Client, name string, factory func(Hit) (T, error), logger arbor.ILogger) *Index[T] {
	return &Index[T]{
		client:   client,
		name:     name,
		pageSize: DefaultPageSize,
		factory:  factory,
		logger:   logger,
	}
}

// WithPageSize overrides the page size used by GetAll
func (i *Index[T]) WithPageSize(size int) *Index[T] {
	if size > 0 {
		i.pageSize = size
	}
	return i
}

// Name returns the index name
func (i *Index[T]) Name() string {
	return i.name
}

// Client returns the underlying cluster client
func (i *Index[T]) Client() *Client {
	return i.client
}

func (i *Index[T]) expandWildcards() string {
	if strings.HasPrefix(i.name, ".") {
		return "hidden"
	}
	return "open"
}

// GetAll lazily pages all documents matching query and sends hydrated
// records on the returned channel. The index is refreshed before the first
// page. Transport errors are logged and terminate the stream cleanly; the
// consumer sees a closed channel, never an error. Cancel the context to stop
// production early.
func (i *Index[T]) GetAll(ctx context.Context, query map[string]interface{}) <-chan T {
	out := make(chan T)

	go func() {
		defer close(out)

		if err := i.client.Refresh(ctx, i.name); err != nil {
			i.logger.Error().Err(err).Str("index", i.name).Msg("Failed to refresh index before paging")
			return
		}

		if query == nil {
			query = map[string]interface{}{"match_all": map[string]interface{}{}}
		}

		count := 0
		offset := 0
		for {
			// TODO: the total is re-read on every page, so concurrent writes can
			// shift page boundaries; switch to point-in-time search to snapshot it.
			resp, err := i.client.Search(ctx, i.name, &SearchRequest{
				Query: query,
				From:  offset,
				Size:  i.pageSize,
			}, i.expandWildcards())
			if err != nil {
				i.logger.Error().Err(err).Str("index", i.name).Int("offset", offset).Msg("Search page failed, terminating iteration")
				return
			}

			hits := resp.Hits.Hits
			if len(hits) == 0 {
				return
			}
			count += len(hits)

			for _, hit := range hits {
				record, err := i.factory(hit)
				if err != nil {
					i.logger.Warn().Err(err).Str("index", i.name).Str("id", hit.ID).Msg("Skipping document that failed to hydrate")
					continue
				}
				select {
				case out <- record:
				case <-ctx.Done():
					return
				}
			}

			if count >= resp.Hits.Total.Value {
				return
			}
			offset += len(hits)
		}
	}()

	return out
}

// Get fetches and hydrates one document by id
func (i *Index[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	hit, found, err := i.client.Get(ctx, i.name, id)
	if err != nil || !found {
		return zero, false, err
	}
	record, err := i.factory(*hit)
	if err != nil {
		return zero, false, err
	}
	return record, true, nil
}

// Upsert writes a full document by id
func (i *Index[T]) Upsert(ctx context.Context, id string, doc interface{}) (string, error) {
	return i.client.Index(ctx, i.name, id, doc)
}

// Update applies a partial update with the client's retry-on-conflict budget
func (i *Index[T]) Update(ctx context.Context, id string, partial interface{}) error {
	return i.client.Update(ctx, i.name, id, partial, i.client.RetryOnConflict())
}

// Delete removes a document by id
func (i *Index[T]) Delete(ctx context.Context, id string) error {
	return i.client.Delete(ctx, i.name, id)
}
