package sources

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

const (
	gcsDefaultRetryCount   = 3
	gcsMaxAttachmentBytes  = 10 * 1024 * 1024
	gcsDownloadConcurrency = 5
	gcsEmulatorHostEnv     = "STORAGE_EMULATOR_HOST"
	gcsFunctionalTestEnv   = "RUNNING_FTEST"
)

// Extensions eligible for content extraction. Everything else keeps its
// metadata only.
var gcsExtractableExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".csv": {}, ".json": {}, ".xml": {},
	".html": {}, ".pdf": {}, ".doc": {}, ".docx": {}, ".ppt": {},
	".pptx": {}, ".xls": {}, ".xlsx": {}, ".rtf": {},
}

// GCSSource streams the objects of one Google Cloud Storage bucket
type GCSSource struct {
	bucket         string
	retryCount     int
	extractContent bool
	client         *storage.Client
	credentials    string
	logger         arbor.ILogger
}

// GoogleCloudStorageDefinition is the registry entry for the GCS source
func GoogleCloudStorageDefinition() interfaces.SourceDefinition {
	return interfaces.SourceDefinition{
		Name: "google_cloud_storage",
		DefaultConfiguration: func() models.Configuration {
			return models.Configuration{
				"bucket":                      {Value: nil, Label: "Bucket name", Type: "str"},
				"service_account_credentials": {Value: nil, Label: "Service account credentials JSON", Type: "str"},
				"retry_count":                 {Value: gcsDefaultRetryCount, Label: "Retries per request", Type: "int"},
				"enable_content_extraction":   {Value: true, Label: "Enable content extraction", Type: "bool"},
			}
		},
		Builder: func(configuration models.Configuration, logger arbor.ILogger) (interfaces.Source, error) {
			bucket := configString(configuration, "bucket")
			if bucket == "" {
				return nil, fmt.Errorf("google_cloud_storage source requires a bucket")
			}
			return &GCSSource{
				bucket:         bucket,
				retryCount:     configInt(configuration, "retry_count", gcsDefaultRetryCount),
				extractContent: configBool(configuration, "enable_content_extraction", true),
				credentials:    configString(configuration, "service_account_credentials"),
				logger:         logger,
			}, nil
		},
	}
}

// connect builds the storage client on first use. Under the emulator or the
// functional-test harness the credentials are skipped entirely.
func (s *GCSSource) connect(ctx context.Context) (*storage.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	var opts []option.ClientOption
	if os.Getenv(gcsEmulatorHostEnv) != "" || os.Getenv(gcsFunctionalTestEnv) != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else if s.credentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(s.credentials)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	s.client = client
	return client, nil
}

// Ping fetches the bucket attributes
func (s *GCSSource) Ping(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}

// GetDocs lists every object of the bucket and yields one document per
// object. Extractable objects get a lazy attachment download.
func (s *GCSSource) GetDocs(ctx context.Context, filtering models.Filter) (<-chan interfaces.DocEntry, <-chan error) {
	docs := make(chan interfaces.DocEntry)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		client, err := s.connect(ctx)
		if err != nil {
			errs <- err
			return
		}

		it := client.Bucket(s.bucket).Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("failed to list bucket %s: %w", s.bucket, err)
				return
			}

			doc := map[string]interface{}{
				"_id":          objectID(s.bucket, attrs.Name),
				"_timestamp":   common.ISOUTC(attrs.Updated),
				"name":         attrs.Name,
				"bucket":       attrs.Bucket,
				"size":         attrs.Size,
				"content_type": attrs.ContentType,
				"url":          fmt.Sprintf("gs://%s/%s", attrs.Bucket, attrs.Name),
			}

			entry := interfaces.DocEntry{Doc: doc}
			if s.downloadable(attrs) {
				entry.Download = s.downloadFunc(attrs.Name)
			}

			select {
			case docs <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	return docs, errs
}

func (s *GCSSource) downloadable(attrs *storage.ObjectAttrs) bool {
	if !s.extractContent || attrs.Size > gcsMaxAttachmentBytes {
		return false
	}
	ext := strings.ToLower(filepath.Ext(attrs.Name))
	_, ok := gcsExtractableExtensions[ext]
	return ok
}

func (s *GCSSource) downloadFunc(name string) interfaces.DownloadFunc {
	return func(ctx context.Context, doit bool, timestamp string) (map[string]interface{}, error) {
		if !doit {
			return nil, nil
		}
		content, err := s.readObject(ctx, name)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"_attachment": base64.StdEncoding.EncodeToString(content),
		}, nil
	}
}

// readObject reads one object with exponential backoff, doubling the wait on
// each attempt.
func (s *GCSSource) readObject(ctx context.Context, name string) ([]byte, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			s.logger.Warn().
				Str("bucket", s.bucket).
				Str("object", name).
				Int("attempt", attempt).
				Msg("Retrying object download")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		reader, err := client.Bucket(s.bucket).Object(name).NewReader(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		content, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return content, nil
	}
	return nil, fmt.Errorf("failed to download gs://%s/%s: %w", s.bucket, name, lastErr)
}

// Changed always reports true, bucket listings have no cheap change marker
func (s *GCSSource) Changed(ctx context.Context) (bool, error) {
	return true, nil
}

// TweakBulkOptions caps concurrent downloads below the coordinator default
// to stay inside the storage API rate limits.
func (s *GCSSource) TweakBulkOptions(options *interfaces.BulkOptions) {
	if options.ConcurrentDownloads > gcsDownloadConcurrency {
		options.ConcurrentDownloads = gcsDownloadConcurrency
	}
}

// Close releases the storage client
func (s *GCSSource) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func objectID(bucket, name string) string {
	sum := md5.Sum([]byte(bucket + "/" + name))
	return hex.EncodeToString(sum[:])
}
