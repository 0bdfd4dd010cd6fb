package compose

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"factorio-instanced/internal/artifactcache"
	"factorio-instanced/internal/datastore"
	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/progress"
)

// testEnv wires a Composer over a fresh root tree and returns the engine
// build path it pre-seeded, so tests never need network access: the cache
// fast-paths any artifact whose destination already exists.
type testEnv struct {
	root         string
	cache        *artifactcache.Cache
	data         *datastore.Store
	composer     *Composer
	enginePath   string
	instancesDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	cache := artifactcache.New(filepath.Join(root, "cache"))
	data, err := datastore.New(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("creating data store: %v", err)
	}

	instancesDir := filepath.Join(root, "instances")
	composer := New(instancesDir, cache, data)

	v := factorioversion.MustParse("1.1.110")
	enginePath := cache.EnginePath(v)
	writeFile(t, filepath.Join(enginePath, "bin", "x64", "factorio"), "#!/bin/sh\nexit 0\n")
	writeFile(t, filepath.Join(enginePath, "config-path.cfg"), "use-system-read-write-data-directories=false\n")
	if err := os.MkdirAll(filepath.Join(enginePath, "data"), 0o755); err != nil {
		t.Fatalf("seeding engine data dir: %v", err)
	}

	return &testEnv{root: root, cache: cache, data: data, composer: composer, enginePath: enginePath, instancesDir: instancesDir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func (e *testEnv) seedSave(t *testing.T, name string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(e.root, "data", "saves", name), 0o755); err != nil {
		t.Fatalf("seeding save folder: %v", err)
	}
}

func (e *testEnv) seedMod(t *testing.T, name, version string) {
	t.Helper()
	writeFile(t, e.cache.ModPath(name, version), "fake zip contents for "+name)
}

func readModList(t *testing.T, instancePath string) modListDoc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(instancePath, "mods", "mod-list.json"))
	if err != nil {
		t.Fatalf("reading mod-list.json: %v", err)
	}
	var doc modListDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing mod-list.json: %v", err)
	}
	return doc
}

func TestComposeLinksEngineSavesAndMods(t *testing.T) {
	env := newTestEnv(t)
	env.seedSave(t, "myworld")
	env.seedMod(t, "Bottleneck", "1.0.0")

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "myworld").
		WithMods([]instancesettings.Mod{{Name: "Bottleneck", Version: "1.0.0"}})

	instancePath, err := env.composer.Compose(context.Background(), "instance1", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	execLink := filepath.Join(instancePath, settings.ExecutablePath)
	if target, err := os.Readlink(execLink); err != nil || target != filepath.Join(env.enginePath, settings.ExecutablePath) {
		t.Errorf("executable symlink = (%q, %v); want target %q", target, err, filepath.Join(env.enginePath, settings.ExecutablePath))
	}

	if target, err := os.Readlink(filepath.Join(instancePath, "config-path.cfg")); err != nil || target != filepath.Join(env.enginePath, "config-path.cfg") {
		t.Errorf("config-path.cfg symlink = (%q, %v)", target, err)
	}

	if target, err := os.Readlink(filepath.Join(instancePath, "data")); err != nil || target != filepath.Join(env.enginePath, "data") {
		t.Errorf("data symlink = (%q, %v)", target, err)
	}

	savesLink := filepath.Join(instancePath, settings.SavesPath)
	wantSaves := filepath.Join(env.root, "data", "saves", "myworld")
	if target, err := os.Readlink(savesLink); err != nil || target != wantSaves {
		t.Errorf("saves symlink = (%q, %v); want %q", target, err, wantSaves)
	}

	modZip := filepath.Join(instancePath, "mods", "Bottleneck_1.0.0.zip")
	if target, err := os.Readlink(modZip); err != nil || target != env.cache.ModPath("Bottleneck", "1.0.0") {
		t.Errorf("mod symlink = (%q, %v)", target, err)
	}
}

func TestComposeModListOrderBelow2_0(t *testing.T) {
	env := newTestEnv(t)
	env.seedSave(t, "test_1.1.110")
	env.seedMod(t, "AutoDeconstruct", "0.4.4")
	env.seedMod(t, "RateCalculator", "3.2.7")

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "test_1.1.110").
		WithMods([]instancesettings.Mod{
			{Name: "AutoDeconstruct", Version: "0.4.4"},
			{Name: "RateCalculator", Version: "3.2.7"},
		})

	instancePath, err := env.composer.Compose(context.Background(), "test_1.1.110", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	doc := readModList(t, instancePath)
	want := []modListEntry{
		{Name: "base", Enabled: true},
		{Name: "AutoDeconstruct", Enabled: true},
		{Name: "RateCalculator", Enabled: true},
	}
	if len(doc.Mods) != len(want) {
		t.Fatalf("mod-list.json mods = %v; want %v", doc.Mods, want)
	}
	for i, m := range want {
		if doc.Mods[i] != m {
			t.Errorf("mod-list.json[%d] = %+v; want %+v", i, doc.Mods[i], m)
		}
	}
}

func TestComposeModListOrderAt2_0WithBaseMods(t *testing.T) {
	env := newTestEnv(t)

	v2 := factorioversion.MustParse("2.0.0")
	engine2Path := env.cache.EnginePath(v2)
	writeFile(t, filepath.Join(engine2Path, "bin", "x64", "factorio"), "#!/bin/sh\nexit 0\n")
	writeFile(t, filepath.Join(engine2Path, "config-path.cfg"), "")
	if err := os.MkdirAll(filepath.Join(engine2Path, "data"), 0o755); err != nil {
		t.Fatalf("seeding engine data dir: %v", err)
	}

	env.seedSave(t, "test_2.0.0")

	settings := instancesettings.New(v2, "test_2.0.0").
		WithBaseMods(instancesettings.BaseMods{Base: true, ElevatedRails: false, Quality: true, SpaceAge: true})

	instancePath, err := env.composer.Compose(context.Background(), "test_2.0.0", settings, engine2Path, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	doc := readModList(t, instancePath)
	want := []modListEntry{
		{Name: "base", Enabled: true},
		{Name: "elevated-rails", Enabled: false},
		{Name: "quality", Enabled: true},
		{Name: "space-age", Enabled: true},
	}
	if len(doc.Mods) != len(want) {
		t.Fatalf("mod-list.json mods = %v; want %v", doc.Mods, want)
	}
	for i, m := range want {
		if doc.Mods[i] != m {
			t.Errorf("mod-list.json[%d] = %+v; want %+v", i, doc.Mods[i], m)
		}
	}
}

func TestComposeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedSave(t, "myworld")
	env.seedMod(t, "Bottleneck", "1.0.0")

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "myworld").
		WithMods([]instancesettings.Mod{{Name: "Bottleneck", Version: "1.0.0"}})

	first, err := env.composer.Compose(context.Background(), "instance1", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("first Compose() error: %v", err)
	}
	firstList, err := os.ReadFile(filepath.Join(first, "mods", "mod-list.json"))
	if err != nil {
		t.Fatalf("reading first mod-list.json: %v", err)
	}

	second, err := env.composer.Compose(context.Background(), "instance1", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("second Compose() error: %v", err)
	}
	secondList, err := os.ReadFile(filepath.Join(second, "mods", "mod-list.json"))
	if err != nil {
		t.Fatalf("reading second mod-list.json: %v", err)
	}

	if string(firstList) != string(secondList) {
		t.Errorf("mod-list.json not byte-identical across composes:\nfirst:  %s\nsecond: %s", firstList, secondList)
	}
}

func TestComposeFailsWhenAlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	env.seedSave(t, "myworld")

	instancePath := filepath.Join(env.instancesDir, "running-instance")
	if err := os.MkdirAll(instancePath, 0o755); err != nil {
		t.Fatalf("mkdir instance: %v", err)
	}
	pidPath := filepath.Join(instancePath, "factorio.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("writing pidfile: %v", err)
	}

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "myworld")
	_, err := env.composer.Compose(context.Background(), "running-instance", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if !errors.Is(err, ferrors.ErrAlreadyRunning) {
		t.Errorf("Compose() on a running instance error = %v; want ErrAlreadyRunning", err)
	}
}

func TestComposeRestoresPriorModSettings(t *testing.T) {
	env := newTestEnv(t)
	env.seedSave(t, "myworld")

	priorPath, err := env.data.GetFile("instance1", "mod-settings.dat")
	if err != nil {
		t.Fatalf("resolving prior mod-settings.dat path: %v", err)
	}
	if err := os.WriteFile(priorPath, []byte("prior settings"), 0o644); err != nil {
		t.Fatalf("seeding prior mod-settings.dat: %v", err)
	}

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "myworld")
	instancePath, err := env.composer.Compose(context.Background(), "instance1", settings, env.enginePath, artifactcache.Credentials{}, progress.Noop())
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	restored := filepath.Join(instancePath, "mods", "mod-settings.dat")
	if target, err := os.Readlink(restored); err != nil || target != priorPath {
		t.Errorf("restored mod-settings.dat symlink = (%q, %v); want target %q", target, err, priorPath)
	}
}
