package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader restores many objects in parallel with bounded
// concurrency. Restore of a run directory feeds it the object listing
// under the run's prefix.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchRequest specifies which objects to restore and where.
type BatchRequest struct {
	// Prefix is stripped from each object path to recover the path
	// relative to the destination directory.
	Prefix string
	// Objects are the full object paths to download.
	Objects []string
	// DestDir is the local directory the objects are restored under.
	DestDir string
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	// LocalPaths maps each restored object path to its local file.
	LocalPaths map[string]string
	// Errors maps failed object paths to their errors.
	Errors map[string]error
	// Skipped counts objects whose destination file already existed.
	Skipped int
	// Downloads counts objects actually fetched.
	Downloads int
}

// NewBatchDownloader creates a batch downloader over the given backend.
// concurrency bounds the number of parallel downloads.
func NewBatchDownloader(store ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     store,
		concurrency: concurrency,
	}
}

// Download restores the requested objects under req.DestDir, preserving
// the directory structure below req.Prefix. Files already present at
// their destination are skipped so an interrupted restore can resume.
// Per-object failures land in the result's Errors map; Download itself
// fails only on invalid requests.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(req.Objects) == 0 {
		return result, nil
	}

	type job struct {
		object string
		local  string
	}
	var queue []job
	for _, object := range req.Objects {
		local, err := b.localPath(req, object)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[object] = local
			result.Skipped++
			continue
		}
		queue = append(queue, job{object: object, local: local})
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, j := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[j.object] = fmt.Errorf("storage: acquire download slot: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(object, local string) {
			defer sem.Release(1)
			defer wg.Done()

			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				mu.Lock()
				result.Errors[object] = fmt.Errorf("%w: %v", ErrDownloadFailed, err)
				mu.Unlock()
				return
			}
			if err := b.storage.Download(ctx, object, local); err != nil {
				mu.Lock()
				result.Errors[object] = err
				mu.Unlock()
				return
			}

			mu.Lock()
			result.LocalPaths[object] = local
			result.Downloads++
			mu.Unlock()
		}(j.object, j.local)
	}

	wg.Wait()

	return result, nil
}

// localPath maps an object path to its destination file, rejecting
// paths that would land outside req.DestDir.
func (b *BatchDownloader) localPath(req *BatchRequest, object string) (string, error) {
	rel := strings.TrimPrefix(object, req.Prefix)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("storage: object %q has no path below prefix %q", object, req.Prefix)
	}

	rel = filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: object %q escapes destination directory", object)
	}

	return filepath.Join(req.DestDir, rel), nil
}
