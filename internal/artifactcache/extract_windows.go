//go:build windows

package artifactcache

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/progress"
)

// downloadAndExtractEngine buffers the full response body (zip needs
// random access, per spec.md §4.3) and extracts each entry into dest,
// rejecting unsafe names, honoring directory flags, and creating parent
// directories out of order safely. File entries are created with
// O_CREATE|O_EXCL so an overlapping entry surfaces as an error rather than
// silently overwriting.
func (c *Cache) downloadAndExtractEngine(ctx context.Context, dlURL, dest string, sink progress.Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return fmt.Errorf("building engine download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing engine download: %w: %w", ferrors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine download returned status %d: %w", resp.StatusCode, ferrors.ErrNetwork)
	}

	if resp.ContentLength > 0 {
		sink.SetUnits(uint64(resp.ContentLength))
	} else {
		sink.SetUnits(1)
	}
	counted := &countingReader{r: resp.Body, sink: sink, reportedTotal: resp.ContentLength <= 0}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := io.Copy(&buf, counted); err != nil {
		return fmt.Errorf("buffering engine download: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return fmt.Errorf("opening zip archive: %w: %w", ferrors.ErrArchive, err)
	}

	for _, entry := range zr.File {
		if err := extractZipEntry(entry, dest); err != nil {
			return err
		}
	}

	return nil
}

func extractZipEntry(entry *zip.File, dest string) error {
	cleanName := filepath.Clean(entry.Name)
	if cleanName == "." || cleanName == "" {
		return nil
	}
	if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
		return fmt.Errorf("zip entry %q escapes destination: %w", entry.Name, ferrors.ErrArchive)
	}

	target := filepath.Join(dest, cleanName)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) {
		return fmt.Errorf("zip entry %q resolves outside destination: %w", entry.Name, ferrors.ErrArchive)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", target, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, entry.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
