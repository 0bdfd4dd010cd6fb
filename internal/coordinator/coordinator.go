// Package coordinator implements the top-level facade spec.md §4.9 calls
// Coordinator: it owns the root directory layout ({cache/, data/,
// instances/}) and wires ArtifactCache, InstanceComposer, and Supervisor
// together into a single entry point.
//
// Grounded on original_source/src/manager.rs's Manager (root/cache_path/
// data_path/instances_path layout); that original is a two-field stub with
// a commented-out generate_instance, so the wiring here is new, built to
// actually drive the other eight components the way manager.rs only
// gestures at.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"factorio-instanced/internal/artifactcache"
	"factorio-instanced/internal/compose"
	"factorio-instanced/internal/datastore"
	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/progress"
	"factorio-instanced/internal/supervisor"
)

// PreparedInstance is the result of PrepareInstance: a composed instance
// directory ready for Supervisor.Start.
type PreparedInstance struct {
	Name     string
	Path     string
	Settings instancesettings.Settings
}

// InstanceInfo is a ListInstances row.
type InstanceInfo struct {
	Name    string
	Running bool
}

// Coordinator owns <root>/{cache,data,instances} and tracks the
// Supervisors it has started.
type Coordinator struct {
	root         string
	instancesDir string

	cache    *artifactcache.Cache
	data     *datastore.Store
	composer *compose.Composer
	verbose  bool

	mu      sync.Mutex
	running map[string]*supervisor.Supervisor
}

// New creates the root tree under root (cache/, data/, instances/ are all
// created eagerly) and wires a Cache, DataStore, and Composer over it.
// verbose is forwarded to every Supervisor this Coordinator starts.
func New(root string, verbose bool) (*Coordinator, error) {
	cacheDir := filepath.Join(root, "cache")
	dataDir := filepath.Join(root, "data")
	instancesDir := filepath.Join(root, "instances")

	if err := os.MkdirAll(instancesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating instances directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	cache := artifactcache.New(cacheDir)

	data, err := datastore.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("creating data store: %w", err)
	}

	return &Coordinator{
		root:         root,
		instancesDir: instancesDir,
		cache:        cache,
		data:         data,
		composer:     compose.New(instancesDir, cache, data),
		verbose:      verbose,
		running:      make(map[string]*supervisor.Supervisor),
	}, nil
}

// Cache exposes the underlying ArtifactCache, per spec.md §4.9's cache()
// accessor.
func (c *Coordinator) Cache() *artifactcache.Cache {
	return c.cache
}

// GetMod is a pass-through to the cache's mod fetcher.
func (c *Coordinator) GetMod(ctx context.Context, name, version string, creds artifactcache.Credentials, sink progress.Sink) (string, error) {
	return c.cache.GetMod(ctx, name, version, creds, sink)
}

// GetFactorio is a pass-through to the cache's engine fetcher.
func (c *Coordinator) GetFactorio(ctx context.Context, v factorioversion.Version, creds artifactcache.Credentials, sink progress.Sink) (string, error) {
	return c.cache.GetEngine(ctx, v, creds, sink)
}

// PrepareInstance fetches the declared engine build and every declared
// mod, then composes instances/<name>. Progress is split into
// N_mods+1 equal fractions (engine, then one per mod) exactly as spec.md
// §4.9 states; the mod fractions are handed to the composer as a single
// adapter sink whose own Split just returns them, so the composer's
// internal per-mod split lines up with the fractions already reserved
// here instead of subdividing a second time.
func (c *Coordinator) PrepareInstance(ctx context.Context, name string, settings instancesettings.Settings, creds artifactcache.Credentials, sink progress.Sink) (PreparedInstance, error) {
	if sink == nil {
		sink = progress.Noop()
	}

	fractions := sink.Split(len(settings.Mods) + 1)
	engineSink := fractions[0]
	modSink := &presplitSink{children: fractions[1:]}

	enginePath, err := c.cache.GetEngine(ctx, settings.EngineVersion, creds, engineSink)
	if err != nil {
		return PreparedInstance{}, fmt.Errorf("fetching engine %s: %w", settings.EngineVersion, err)
	}

	instancePath, err := c.composer.Compose(ctx, name, settings, enginePath, creds, modSink)
	if err != nil {
		return PreparedInstance{}, fmt.Errorf("composing instance %s: %w", name, err)
	}

	return PreparedInstance{Name: name, Path: instancePath, Settings: settings}, nil
}

// presplitSink adapts a slice of already-allocated fractions into a Sink
// whose Split returns them verbatim, regardless of n (the caller is
// expected to request exactly len(children), which PrepareInstance
// guarantees by construction).
type presplitSink struct {
	children []progress.Sink
}

func (p *presplitSink) SetUnits(uint64) {}
func (p *presplitSink) Advance(uint64)  {}
func (p *presplitSink) Split(int) []progress.Sink {
	return p.children
}

// Start launches a Supervisor for a PreparedInstance and tracks it so
// Stop/Kill can find it again.
func (c *Coordinator) Start(instance PreparedInstance) (*supervisor.Supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.running[instance.Name]; exists {
		return nil, fmt.Errorf("instance %s already tracked by this coordinator: %w", instance.Name, ferrors.ErrAlreadyRunning)
	}

	sup := supervisor.New(instance.Path, instance.Settings, c.data, c.verbose)
	if err := sup.Start(); err != nil {
		return nil, fmt.Errorf("starting instance %s: %w", instance.Name, err)
	}

	c.running[instance.Name] = sup
	return sup, nil
}

// Stop gracefully stops a tracked instance and forgets it.
func (c *Coordinator) Stop(ctx context.Context, name string) error {
	sup, err := c.lookupRunning(name)
	if err != nil {
		return err
	}
	if err := sup.Stop(ctx); err != nil {
		return err
	}
	c.forget(name)
	return nil
}

// Kill force-kills a tracked instance and forgets it.
func (c *Coordinator) Kill(name string) error {
	sup, err := c.lookupRunning(name)
	if err != nil {
		return err
	}
	if err := sup.Kill(); err != nil {
		return err
	}
	c.forget(name)
	return nil
}

func (c *Coordinator) lookupRunning(name string) (*supervisor.Supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sup, ok := c.running[name]
	if !ok {
		return nil, fmt.Errorf("instance %s is not tracked by this coordinator: %w", name, ferrors.ErrNotAllowed)
	}
	return sup, nil
}

func (c *Coordinator) forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, name)
}

// ListInstances scans instances/ and reports, for each directory found,
// whether a live pidfile makes it currently running.
func (c *Coordinator) ListInstances() ([]InstanceInfo, error) {
	entries, err := os.ReadDir(c.instancesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading instances directory: %w", err)
	}

	infos := make([]InstanceInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		running, err := supervisor.CheckRunning(filepath.Join(c.instancesDir, e.Name()))
		if err != nil {
			running = false
		}
		infos = append(infos, InstanceInfo{Name: e.Name(), Running: running})
	}
	return infos, nil
}
