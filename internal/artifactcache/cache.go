// Package artifactcache implements the content-addressed cache for engine
// builds and mod archives described in spec.md §4.3: a fast existence
// check, single-flight de-duplicated downloads, and platform-specific
// extraction.
//
// Grounded on the teacher's factorio.Updater.downloadFile/downloadLatest
// (streaming GET, temp file + atomic rename, progress reporting) and on
// original_source/src/cache.rs for the directory layout it generalizes.
// Single-flight de-dup uses golang.org/x/sync/singleflight.Group, the
// idiomatic Go analogue of the original's hand-rolled InFlight guard map
// (see SPEC_FULL.md §4.3 and DESIGN.md).
package artifactcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/singleflight"

	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/progress"
)

const (
	modPortalBase     = "https://mods.factorio.com"
	factorioWebBase   = "https://www.factorio.com"
	archiveListingURL = factorioWebBase + "/download/archive/"
	versionAnchorCSS  = "a.slot-button-inline"
)

var v2 = factorioversion.MustParse("2.0.0")

// Credentials is the minimal shape the cache needs to authenticate engine
// and mod downloads; satisfied by credentials.Credentials without an
// import-cycle-causing dependency on the credentials package.
type Credentials struct {
	Username string
	Token    string
}

// Cache is a content-addressed store for engine builds and mod archives
// rooted at a single directory, e.g. "<root>/cache".
type Cache struct {
	root       string // <root>/cache
	engineDir  string // <root>/cache/factorio
	modsDir    string // <root>/cache/mods
	httpClient *http.Client
	group      singleflight.Group

	// modPortalBase, factorioWebBase, and archiveListingURL default to the
	// real hosts; tests override them to point at an httptest.Server.
	modPortalBase     string
	factorioWebBase   string
	archiveListingURL string
}

// New creates a Cache rooted at root (the "cache/" directory under the
// Coordinator's root tree).
func New(root string) *Cache {
	return &Cache{
		root:      root,
		engineDir: filepath.Join(root, "factorio"),
		modsDir:   filepath.Join(root, "mods"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		modPortalBase:     modPortalBase,
		factorioWebBase:   factorioWebBase,
		archiveListingURL: archiveListingURL,
	}
}

// EnginePath returns the destination directory get_engine would produce
// for version v, without checking whether it exists.
func (c *Cache) EnginePath(v factorioversion.Version) string {
	return filepath.Join(c.engineDir, v.String())
}

// ModPath returns the destination zip path get_mod would produce for
// (name, version), without checking whether it exists.
func (c *Cache) ModPath(name, version string) string {
	return filepath.Join(c.modsDir, name, version, fmt.Sprintf("%s_%s.zip", name, version))
}

// GetEngine ensures the engine build for v is present locally, downloading
// and extracting it if necessary, and returns its directory.
//
// Implements the protocol in spec.md §4.3 steps 1-7: fast path, then
// single-flight, then leader download+extract with partial-destination
// cleanup on any failure.
func (c *Cache) GetEngine(ctx context.Context, v factorioversion.Version, creds Credentials, sink progress.Sink) (string, error) {
	dest := c.EnginePath(v)
	if sink == nil {
		sink = progress.Noop()
	}

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	result, err, shared := c.group.Do(dest, func() (any, error) {
		// Re-check: another goroutine may have completed between our
		// fast-path Stat above and acquiring leadership here.
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return nil, fmt.Errorf("creating engine destination %s: %w", dest, err)
		}

		dlURL := c.engineDownloadURL(v, runtime.GOOS, creds)
		if err := c.downloadAndExtractEngine(ctx, dlURL, dest, sink); err != nil {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				return nil, fmt.Errorf("removing partial engine download (original error %v): %w", err, rmErr)
			}
			return nil, err
		}
		return dest, nil
	})
	if err != nil {
		if shared {
			return "", fmt.Errorf("fetching engine %s: leader failed: %w: %w", v, ferrors.ErrInFlight, err)
		}
		return "", fmt.Errorf("fetching engine %s: %w", v, err)
	}
	return result.(string), nil
}

// GetMod ensures the mod archive (name, version) is present locally and
// returns its zip path.
func (c *Cache) GetMod(ctx context.Context, name, version string, creds Credentials, sink progress.Sink) (string, error) {
	dest := c.ModPath(name, version)
	if sink == nil {
		sink = progress.Noop()
	}

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	result, err, shared := c.group.Do(dest, func() (any, error) {
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("creating mod destination dir for %s: %w", dest, err)
		}

		meta, err := c.fetchModRelease(ctx, name, version)
		if err != nil {
			return nil, err
		}

		dlURL, err := c.modDownloadURL(meta.DownloadURL, creds)
		if err != nil {
			return nil, fmt.Errorf("building mod download URL for %s: %w", name, err)
		}

		if err := c.downloadToFile(ctx, dlURL, dest, sink); err != nil {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				return nil, fmt.Errorf("removing partial mod download (original error %v): %w", err, rmErr)
			}
			return nil, err
		}
		return dest, nil
	})
	if err != nil {
		if shared {
			return "", fmt.Errorf("fetching mod %s %s: leader failed: %w: %w", name, version, ferrors.ErrInFlight, err)
		}
		return "", fmt.Errorf("fetching mod %s %s: %w", name, version, err)
	}
	return result.(string), nil
}

// modRelease is the slice of the mod-portal full-metadata response the
// cache needs to locate one specific release's download URL.
type modRelease struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
	FileName    string `json:"file_name"`
}

type modPortalMetadata struct {
	Releases []modRelease `json:"releases"`
}

func (c *Cache) fetchModRelease(ctx context.Context, name, version string) (modRelease, error) {
	apiURL := fmt.Sprintf("%s/api/mods/%s/full", c.modPortalBase, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return modRelease{}, fmt.Errorf("building metadata request for %s: %w", name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return modRelease{}, fmt.Errorf("fetching metadata for %s: %w: %w", name, ferrors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return modRelease{}, fmt.Errorf("mod portal returned status %d for %s: %w", resp.StatusCode, name, ferrors.ErrNetwork)
	}

	var meta modPortalMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10*1024*1024)).Decode(&meta); err != nil {
		return modRelease{}, fmt.Errorf("decoding metadata for %s: %w", name, err)
	}

	for _, rel := range meta.Releases {
		if rel.Version == version {
			return rel, nil
		}
	}
	return modRelease{}, fmt.Errorf("no release %s found for mod %s: %w", version, name, ferrors.ErrNotAllowed)
}

// engineDownloadURL builds https://www.factorio.com/get-download/<version>/<build>/<distro>
// per spec.md §4.3: build is "expansion" for v>=2.0.0 on Windows, "alpha"
// otherwise on Windows, and always "headless" on Linux; distro is
// "win64-manual" or "linux64". Windows carries username/token query
// params; Linux headless needs none.
func (c *Cache) engineDownloadURL(v factorioversion.Version, goos string, creds Credentials) string {
	var build, distro string
	if goos == "windows" {
		distro = "win64-manual"
		if v.AtLeast(v2) {
			build = "expansion"
		} else {
			build = "alpha"
		}
	} else {
		distro = "linux64"
		build = "headless"
	}

	u := fmt.Sprintf("%s/get-download/%s/%s/%s", c.factorioWebBase, v.String(), build, distro)
	if goos == "windows" {
		q := url.Values{"username": {creds.Username}, "token": {creds.Token}}
		u += "?" + q.Encode()
	}
	return u
}

// modDownloadURL builds the full download URL for a mod release's
// relative download_url, attaching the username/token query parameters
// mods.factorio.com requires.
func (c *Cache) modDownloadURL(downloadURL string, creds Credentials) (string, error) {
	parsed, err := url.Parse(c.modPortalBase + downloadURL)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set("username", creds.Username)
	q.Set("token", creds.Token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// downloadToFile streams a GET response into destPath via a temp file +
// atomic rename, reporting chunk sizes to sink.
func (c *Cache) downloadToFile(ctx context.Context, dlURL, destPath string, sink progress.Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing download: %w: %w", ferrors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d: %w", resp.StatusCode, ferrors.ErrNetwork)
	}

	if resp.ContentLength > 0 {
		sink.SetUnits(uint64(resp.ContentLength))
	} else {
		sink.SetUnits(1)
	}

	tmp := destPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}
	defer func() { _ = out.Close() }()

	counted := &countingReader{r: resp.Body, sink: sink, reportedTotal: resp.ContentLength <= 0}
	if _, err := io.Copy(out, counted); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing download body: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("flushing download to disk: %w", err)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("renaming download into place: %w", err)
	}
	return nil
}

// countingReader wraps an io.Reader, advancing a progress.Sink as bytes
// flow through. When the total size wasn't known up front, it advances the
// single unit only once the stream is fully drained.
type countingReader struct {
	r             io.Reader
	sink          progress.Sink
	reportedTotal bool
	seenAny       bool
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.seenAny = true
		if !cr.reportedTotal {
			cr.sink.Advance(uint64(n))
		}
	}
	if err == io.EOF && cr.reportedTotal && cr.seenAny {
		cr.sink.Advance(1)
	}
	return n, err
}

// DeleteEngine removes a cached engine build, failing ErrNotAllowed if it
// is not present.
func (c *Cache) DeleteEngine(v factorioversion.Version) error {
	dest := c.EnginePath(v)
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("engine %s not cached: %w", v, ferrors.ErrNotAllowed)
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("deleting engine %s: %w", v, err)
	}
	return nil
}

// VersionAvailability reports, per version string, whether it is listed on
// the public archive page and/or present in the local cache.
type VersionAvailability struct {
	AvailableRemote bool
	PresentLocal    bool
}

// ListVersions unions locally-cached engine directories with versions
// scraped off the public download archive page, per spec.md §4.3: the HTML
// scraping selects anchors matching "a.slot-button-inline" and takes the
// last path segment of each href as the version string.
func (c *Cache) ListVersions(ctx context.Context) (map[string]VersionAvailability, error) {
	result := make(map[string]VersionAvailability)

	entries, err := os.ReadDir(c.engineDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading local engine cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			av := result[e.Name()]
			av.PresentLocal = true
			result[e.Name()] = av
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.archiveListingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building archive listing request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching archive listing: %w: %w", ferrors.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive listing returned status %d: %w", resp.StatusCode, ferrors.ErrNetwork)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing archive listing HTML: %w", err)
	}

	doc.Find(versionAnchorCSS).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		version := path.Base(strings.TrimRight(href, "/"))
		if version == "" || version == "." {
			return
		}
		av := result[version]
		av.AvailableRemote = true
		result[version] = av
	})

	return result, nil
}
