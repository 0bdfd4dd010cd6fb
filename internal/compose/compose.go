// Package compose implements the InstanceComposer from spec.md §4.5: it
// stitches a cached engine build, cached mod archives, and a save folder
// together into a per-instance runtime tree via filesystem links, and
// writes the mod-list.json the engine reads on startup.
//
// Grounded on original_source/src/instance.rs's InstanceSettings shape and
// utilities.rs's symlink_file/symlink_folder (collapsed here into a single
// os.Symlink call — Go's implementation already picks the right Windows
// reparse-point flavor based on the target, so the original's platform
// split is unnecessary in Go).
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"factorio-instanced/internal/artifactcache"
	"factorio-instanced/internal/datastore"
	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/progress"
	"factorio-instanced/internal/supervisor"
)

// modFetchLimit bounds concurrent cache fetches during linkMods the way the
// mod-updater teacher bounds ResolveMetadata's concurrent HTTP calls.
const modFetchLimit = 10

var v2 = factorioversion.MustParse("2.0.0")

// Composer builds instance trees under a single instances/ root.
type Composer struct {
	instancesRoot string
	cache         *artifactcache.Cache
	data          *datastore.Store
}

// New creates a Composer rooted at instancesRoot (the Coordinator's
// "instances/" directory), drawing artifacts from cache and restoring
// prior per-instance files from data.
func New(instancesRoot string, cache *artifactcache.Cache, data *datastore.Store) *Composer {
	return &Composer{instancesRoot: instancesRoot, cache: cache, data: data}
}

// InstancePath returns the directory Compose would build for name,
// without checking whether it exists.
func (c *Composer) InstancePath(name string) string {
	return filepath.Join(c.instancesRoot, name)
}

// Compose builds instances/<name> from enginePath (an already-cached
// engine build, fetched by the caller so its progress fraction is
// accounted for separately) and settings, fetching each declared mod via
// cache and allocating it one fraction of sink. It implements spec.md
// §4.5's seven composition steps in order.
func (c *Composer) Compose(ctx context.Context, name string, settings instancesettings.Settings, enginePath string, creds artifactcache.Credentials, sink progress.Sink) (string, error) {
	instancePath := c.InstancePath(name)

	running, err := supervisor.CheckRunning(instancePath)
	if err != nil {
		return "", fmt.Errorf("checking running precondition for %s: %w", name, err)
	}
	if running {
		return "", fmt.Errorf("instance %s is already running: %w", name, ferrors.ErrAlreadyRunning)
	}

	if err := os.RemoveAll(instancePath); err != nil {
		return "", fmt.Errorf("removing existing instance directory %s: %w", instancePath, err)
	}
	if err := os.MkdirAll(instancePath, 0o755); err != nil {
		return "", fmt.Errorf("creating instance directory %s: %w", instancePath, err)
	}

	if err := c.linkEngine(instancePath, settings, enginePath); err != nil {
		return "", err
	}

	if err := c.linkSaves(instancePath, settings); err != nil {
		return "", err
	}

	if sink == nil {
		sink = progress.Noop()
	}
	modSinks := sink.Split(len(settings.Mods))
	if err := c.linkMods(ctx, instancePath, settings, creds, modSinks); err != nil {
		return "", err
	}

	if err := writeModList(instancePath, settings); err != nil {
		return "", err
	}

	if err := c.restoreModSettings(instancePath, name); err != nil {
		return "", err
	}

	return instancePath, nil
}

// linkEngine creates the three symlinks from the cached engine build into
// the instance root: the executable, config-path.cfg, and the data
// directory.
func (c *Composer) linkEngine(instancePath string, settings instancesettings.Settings, enginePath string) error {
	execDst := filepath.Join(instancePath, settings.ExecutablePath)
	if err := os.MkdirAll(filepath.Dir(execDst), 0o755); err != nil {
		return fmt.Errorf("creating executable parent directory: %w", err)
	}
	if err := os.Symlink(filepath.Join(enginePath, settings.ExecutablePath), execDst); err != nil {
		return fmt.Errorf("symlinking executable: %w", err)
	}

	if err := os.Symlink(filepath.Join(enginePath, "config-path.cfg"), filepath.Join(instancePath, "config-path.cfg")); err != nil {
		return fmt.Errorf("symlinking config-path.cfg: %w", err)
	}

	if err := os.Symlink(filepath.Join(enginePath, "data"), filepath.Join(instancePath, "data")); err != nil {
		return fmt.Errorf("symlinking data directory: %w", err)
	}

	return nil
}

// linkSaves symlinks instancePath/<SavesPath> to the DataStore-owned save
// folder for settings.Save.
func (c *Composer) linkSaves(instancePath string, settings instancesettings.Settings) error {
	saveDir, err := c.data.SavesFolder(settings.Save)
	if err != nil {
		return fmt.Errorf("resolving save folder %q: %w", settings.Save, err)
	}
	if err := os.Symlink(saveDir, filepath.Join(instancePath, settings.SavesPath)); err != nil {
		return fmt.Errorf("symlinking saves directory: %w", err)
	}
	return nil
}

// linkMods fetches each declared mod through the cache and symlinks its zip
// into instancePath/mods/. Fetches run concurrently, bounded by
// modFetchLimit, since each mod's cache.GetMod is independent; the eventual
// symlinks are created back on each goroutine so ordering in mod-list.json
// (written separately by writeModList from settings.Mods, not from fetch
// completion order) is unaffected.
func (c *Composer) linkMods(ctx context.Context, instancePath string, settings instancesettings.Settings, creds artifactcache.Credentials, modSinks []progress.Sink) error {
	modsDir := filepath.Join(instancePath, "mods")
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		return fmt.Errorf("creating mods directory: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(modFetchLimit)

	for i, mod := range settings.Mods {
		mod := mod
		sink := modSinks[i]
		eg.Go(func() error {
			zipPath, err := c.cache.GetMod(egCtx, mod.Name, mod.Version, creds, sink)
			if err != nil {
				return fmt.Errorf("fetching mod %s %s: %w", mod.Name, mod.Version, err)
			}
			dst := filepath.Join(modsDir, filepath.Base(zipPath))
			if err := os.Symlink(zipPath, dst); err != nil {
				return fmt.Errorf("symlinking mod %s: %w", mod.Name, err)
			}
			return nil
		})
	}

	return eg.Wait()
}

type modListEntry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type modListDoc struct {
	Mods []modListEntry `json:"mods"`
}

// writeModList builds mods/mod-list.json in the fixed order spec.md's
// end-to-end scenarios 4 and 5 pin: base first (always enabled), then
// (for version >= 2.0.0) elevated-rails, quality, space-age in that exact
// order per their BaseMods flags, then declared user mods in the order
// given — never re-sorted alphabetically.
func writeModList(instancePath string, settings instancesettings.Settings) error {
	doc := modListDoc{Mods: []modListEntry{{Name: "base", Enabled: true}}}

	if settings.EngineVersion.AtLeast(v2) {
		doc.Mods = append(doc.Mods,
			modListEntry{Name: "elevated-rails", Enabled: settings.BaseMods.ElevatedRails},
			modListEntry{Name: "quality", Enabled: settings.BaseMods.Quality},
			modListEntry{Name: "space-age", Enabled: settings.BaseMods.SpaceAge},
		)
	}

	for _, mod := range settings.Mods {
		doc.Mods = append(doc.Mods, modListEntry{Name: mod.Name, Enabled: true})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling mod-list.json: %w", err)
	}

	modListPath := filepath.Join(instancePath, "mods", "mod-list.json")
	tmp := modListPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing mod-list.json: %w", err)
	}
	if err := os.Rename(tmp, modListPath); err != nil {
		return fmt.Errorf("renaming mod-list.json into place: %w", err)
	}
	return nil
}

// restoreModSettings symlinks a prior mod-settings.dat (or, failing that,
// mod-settings.json) from the DataStore into the freshly composed
// instance, if either was left behind by an earlier run of this instance
// name.
func (c *Composer) restoreModSettings(instancePath, name string) error {
	for _, fileName := range []string{"mod-settings.dat", "mod-settings.json"} {
		prior, err := c.data.GetFile(name, fileName)
		if err != nil {
			return fmt.Errorf("resolving prior %s: %w", fileName, err)
		}
		if _, statErr := os.Stat(prior); statErr != nil {
			continue
		}
		dst := filepath.Join(instancePath, "mods", fileName)
		if err := os.Symlink(prior, dst); err != nil {
			return fmt.Errorf("restoring %s: %w", fileName, err)
		}
		return nil
	}
	return nil
}
