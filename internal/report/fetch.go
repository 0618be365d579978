package report

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"

	qerrors "github.com/arkilian/qgate/internal/errors"
	"github.com/arkilian/qgate/internal/storage"
)

// FetchSummaries downloads the scenario summaries published under prefix
// into dir and returns their local paths, sorted. Only .json objects directly
// under prefix are summaries; plots and nested objects are skipped.
func FetchSummaries(ctx context.Context, store storage.ObjectStorage, prefix, dir string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeDownloadFailed, "failed to list published summaries", err)
	}

	parent := prefix
	if parent == "" {
		parent = "."
	}
	var files []string
	for _, object := range objects {
		if path.Dir(object) != parent || strings.ToLower(path.Ext(object)) != ".json" {
			continue
		}
		local := filepath.Join(dir, path.Base(object))
		if err := store.Download(ctx, object, local); err != nil {
			code := qerrors.CodeDownloadFailed
			if errors.Is(err, storage.ErrObjectNotFound) {
				code = qerrors.CodeObjectNotFound
			}
			return nil, qerrors.NewStorageError(code, "failed to download "+object, err)
		}
		files = append(files, local)
	}
	sort.Strings(files)
	return files, nil
}
