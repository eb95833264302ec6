package sources

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// Files larger than this keep their metadata but skip the attachment download
const directoryMaxAttachmentBytes = 10 * 1024 * 1024

// DirectorySource indexes the files under a local directory tree. Mostly
// useful for functional testing and as the template for new sources.
type DirectorySource struct {
	directory string
	pattern   string
	logger    arbor.ILogger
}

// DirectoryDefinition is the registry entry for the directory source
func DirectoryDefinition() interfaces.SourceDefinition {
	return interfaces.SourceDefinition{
		Name: "directory",
		DefaultConfiguration: func() models.Configuration {
			return models.Configuration{
				"directory": {Value: "/tmp", Label: "Directory to index", Type: "str"},
				"pattern":   {Value: "*", Label: "File name pattern", Type: "str"},
			}
		},
		Builder: func(configuration models.Configuration, logger arbor.ILogger) (interfaces.Source, error) {
			directory := configString(configuration, "directory")
			if directory == "" {
				return nil, fmt.Errorf("directory source requires a directory")
			}
			pattern := configString(configuration, "pattern")
			if pattern == "" {
				pattern = "*"
			}
			return &DirectorySource{directory: directory, pattern: pattern, logger: logger}, nil
		},
	}
}

// Ping verifies the directory exists and is readable
func (s *DirectorySource) Ping(ctx context.Context) error {
	info, err := os.Stat(s.directory)
	if err != nil {
		return fmt.Errorf("directory %s not reachable: %w", s.directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.directory)
	}
	return nil
}

// GetDocs walks the tree and yields one document per matching file. The file
// body is fetched lazily as a base64 attachment.
func (s *DirectorySource) GetDocs(ctx context.Context, filtering models.Filter) (<-chan interfaces.DocEntry, <-chan error) {
	docs := make(chan interfaces.DocEntry)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		err := filepath.WalkDir(s.directory, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if entry.IsDir() {
				return nil
			}
			matched, err := filepath.Match(s.pattern, entry.Name())
			if err != nil {
				return err
			}
			if !matched {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			doc := map[string]interface{}{
				"_id":        fileID(path),
				"_timestamp": common.ISOUTC(info.ModTime()),
				"name":       entry.Name(),
				"path":       path,
				"size":       info.Size(),
			}

			docEntry := interfaces.DocEntry{Doc: doc}
			if info.Size() <= directoryMaxAttachmentBytes {
				docEntry.Download = s.downloadFunc(path)
			}

			select {
			case docs <- docEntry:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- fmt.Errorf("directory walk failed: %w", err)
		}
	}()

	return docs, errs
}

func (s *DirectorySource) downloadFunc(path string) interfaces.DownloadFunc {
	return func(ctx context.Context, doit bool, timestamp string) (map[string]interface{}, error) {
		if !doit {
			return nil, nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return map[string]interface{}{
			"_attachment": base64.StdEncoding.EncodeToString(content),
		}, nil
	}
}

// Changed always reports true, a directory has no cheap change marker
func (s *DirectorySource) Changed(ctx context.Context) (bool, error) {
	return true, nil
}

// TweakBulkOptions leaves the coordinator defaults untouched
func (s *DirectorySource) TweakBulkOptions(options *interfaces.BulkOptions) {}

// Close has nothing to release
func (s *DirectorySource) Close() error {
	return nil
}

func fileID(path string) string {
	sum := md5.Sum([]byte(strings.TrimSuffix(path, string(filepath.Separator))))
	return hex.EncodeToString(sum[:])
}
