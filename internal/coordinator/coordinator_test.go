package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/progress"
	"factorio-instanced/internal/supervisor"
)

// TestMain lets this test binary double as a trivial fake Factorio
// executable: a child invoked with FACTORIO_TEST_HELPER=1 just announces
// Running and then blocks until killed.
func TestMain(m *testing.M) {
	if os.Getenv("FACTORIO_TEST_HELPER") == "1" {
		logFile, err := os.OpenFile("factorio-current.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			fmt.Fprintln(logFile, "changing state from(CreatingGame) to(InGame)")
			_ = logFile.Sync()
		}
		select {}
	}
	os.Exit(m.Run())
}

func TestNewCreatesRootTree(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "instances")); err != nil {
		t.Errorf("instances/ not created: %v", err)
	}
	if c.Cache() == nil {
		t.Error("Cache() returned nil")
	}
}

func TestListInstancesEmptyRoot(t *testing.T) {
	c, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	infos, err := c.ListInstances()
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("ListInstances() on empty root = %v; want empty", infos)
	}
}

func TestListInstancesReportsLiveness(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	stale := filepath.Join(root, "instances", "stale")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir stale instance: %v", err)
	}

	infos, err := c.ListInstances()
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "stale" || infos[0].Running {
		t.Fatalf("ListInstances() = %v; want one non-running entry named stale", infos)
	}
}

// preparedFakeInstance builds an instances/<name> tree by hand, with this
// test binary re-invoked as the "factorio" executable, bypassing
// PrepareInstance (which would need a real network fetch).
func preparedFakeInstance(t *testing.T, root, name string) PreparedInstance {
	t.Helper()
	instancePath := filepath.Join(root, "instances", name)
	if err := os.MkdirAll(instancePath, 0o755); err != nil {
		t.Fatalf("creating instance dir: %v", err)
	}

	testBin, err := os.Executable()
	if err != nil {
		t.Fatalf("resolving test binary: %v", err)
	}
	relExec, err := filepath.Rel(instancePath, testBin)
	if err != nil {
		t.Fatalf("relativizing test binary path: %v", err)
	}

	settings := instancesettings.New(factorioversion.MustParse("1.1.110"), "testsave").
		WithExecutablePath(relExec)

	t.Setenv("FACTORIO_TEST_HELPER", "1")

	return PreparedInstance{Name: name, Path: instancePath, Settings: settings}
}

func TestStartTracksAndDoubleStartFails(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	instance := preparedFakeInstance(t, root, "double-start")

	sup, err := c.Start(instance)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sup.WaitFor(ctx, func(s supervisor.Status) bool { return s == supervisor.StatusRunning }); err != nil {
		t.Fatalf("waiting for Running: %v", err)
	}

	if _, err := c.Start(instance); !errors.Is(err, ferrors.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v; want ErrAlreadyRunning", err)
	}

	if err := c.Kill(instance.Name); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
}

func TestStopKillUntrackedInstanceFails(t *testing.T) {
	c, err := New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Stop(context.Background(), "nonexistent"); !errors.Is(err, ferrors.ErrNotAllowed) {
		t.Errorf("Stop() on untracked instance error = %v; want ErrNotAllowed", err)
	}
	if err := c.Kill("nonexistent"); !errors.Is(err, ferrors.ErrNotAllowed) {
		t.Errorf("Kill() on untracked instance error = %v; want ErrNotAllowed", err)
	}
}

func TestPresplitSinkSplitReturnsChildrenVerbatim(t *testing.T) {
	children := []progress.Sink{progress.Noop(), progress.Noop(), progress.Noop()}
	p := &presplitSink{children: children}

	got := p.Split(3)
	if len(got) != len(children) {
		t.Fatalf("Split(3) returned %d sinks; want %d", len(got), len(children))
	}

	// SetUnits/Advance must not panic; they are no-ops on the adapter.
	p.SetUnits(10)
	p.Advance(5)
}
