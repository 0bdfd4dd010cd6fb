//go:build linux

package artifactcache

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/progress"
)

// downloadAndExtractEngine streams the Linux headless tarball (xz-compressed)
// straight into dest, per spec.md §4.3: the archive wraps its contents in a
// single top-level directory which must be flattened into dest. Flattening
// is done while streaming (strip the first path segment of every entry)
// rather than extract-then-move, since the stream is never buffered to
// disk first.
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

	xzReader, err := xz.NewReader(counted)
	if err != nil {
		return fmt.Errorf("opening xz stream: %w: %w", ferrors.ErrArchive, err)
	}

	tr := tar.NewReader(xzReader)

	var wrapperPrefix string
	sawEntry := false

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w: %w", ferrors.ErrArchive, err)
		}

		cleanName := filepath.Clean(hdr.Name)
		if cleanName == "." {
			continue
		}

		if !sawEntry {
			sawEntry = true
			if idx := strings.IndexRune(cleanName, filepath.Separator); idx >= 0 {
				wrapperPrefix = cleanName[:idx]
			} else {
				wrapperPrefix = cleanName
			}
		}

		rel := strings.TrimPrefix(cleanName, wrapperPrefix)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			continue
		}
		if strings.HasPrefix(rel, "..") {
			return fmt.Errorf("tar entry %q escapes destination: %w", hdr.Name, ferrors.ErrArchive)
		}

		target := filepath.Join(dest, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory for %s: %w", target, err)
			}
			if err := writeTarFile(target, tr, os.FileMode(hdr.Mode&0o777)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory for %s: %w", target, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			// Skip device files, fifos, etc. — not part of a headless build.
		}
	}

	if !sawEntry {
		return fmt.Errorf("engine archive was empty: %w", ferrors.ErrArchive)
	}

	return nil
}

func writeTarFile(target string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}
