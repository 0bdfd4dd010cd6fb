// Package supervisor implements the Supervisor component of spec.md
// §4.6/§4.7: spawning the Factorio child process, owning its pidfile,
// driving a status state machine off tailed log lines, and performing
// graceful shutdown with log/settings rotation.
//
// Grounded on original_source/src/instance.rs's RunningInstance (spawn
// sequence, kill_on_drop guard) and manager.rs's status-watch usage.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/process"

	"factorio-instanced/internal/datastore"
	"factorio-instanced/internal/ferrors"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/rcon"
	"factorio-instanced/internal/statuswatch"
	"factorio-instanced/internal/tailer"
)

// Status is the supervised instance's lifecycle state, per spec.md §3.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusStarting:
		return "Starting"
	case StatusRunning:
		return "Running"
	case StatusStopping:
		return "Stopping"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const stoppedSentinel = "factorio process stopped"

// stopGrace is the window stop() waits for process exit after observing
// Closed before forcing a kill.
const stopGrace = 3 * time.Second

// Supervisor owns one running (or not-yet-started) instance.
type Supervisor struct {
	instancePath string
	settings     instancesettings.Settings
	dataStore    *datastore.Store
	verbose      bool

	status       *statuswatch.Value[Status]
	cmd          *exec.Cmd
	tailerCancel context.CancelFunc
	done         chan struct{}
}

// New returns a Supervisor for a composed instance at instancePath,
// described by settings. verbose enables a debug log line per tailed
// output line (the teacher's pterm.Debug idiom), off by default.
func New(instancePath string, settings instancesettings.Settings, dataStore *datastore.Store, verbose bool) *Supervisor {
	return &Supervisor{
		instancePath: instancePath,
		settings:     settings,
		dataStore:    dataStore,
		verbose:      verbose,
		status:       statuswatch.New(StatusStopped),
	}
}

// CheckRunning implements the precondition spec.md §4.5 and §4.9 both call
// check_running: an instance is "already running" only when its pidfile
// exists and names a live OS process. An absent instance directory, an
// absent pidfile, or a stale pidfile are all "not running" — spec.md §9's
// second Open Question resolution, not the original's conflated branch.
func CheckRunning(instancePath string) (bool, error) {
	pidPath := filepath.Join(instancePath, "factorio.pid")

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading pidfile %s: %w", pidPath, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Corrupt/stale pidfile content: permissible, not "running".
		return false, nil
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false, fmt.Errorf("checking liveness of pid %d: %w", pid, err)
	}
	return alive, nil
}

// Status returns the most recently observed status.
func (s *Supervisor) Status() Status {
	return s.status.Get()
}

// Settings returns the instance's settings as resolved at Start time (in
// particular RconPort, which Start replaces with an allocated ephemeral
// port when the caller left it at 0).
func (s *Supervisor) Settings() instancesettings.Settings {
	return s.settings
}

// Watch returns the current status plus a channel closed the next time it
// changes, per the statuswatch "observe only the latest value" contract.
func (s *Supervisor) Watch() (Status, <-chan struct{}) {
	return s.status.Watch()
}

// WaitFor blocks until pred holds for the current status or ctx is done.
func (s *Supervisor) WaitFor(ctx context.Context, pred func(Status) bool) error {
	return s.status.WaitFor(ctx, pred)
}

// Start implements spec.md §4.6's seven-step spawn sequence: compute
// paths, launch the tailer, allocate an ephemeral RCON port if requested,
// spawn the child with detached stdio and a kill_on_drop guard armed
// until the pidfile write and status driver succeed, then disarm it.
func (s *Supervisor) Start() error {
	execAbs := filepath.Join(s.instancePath, s.settings.ExecutablePath)
	savePath := filepath.Join(s.settings.SavesPath, s.settings.Save+".zip")
	logPath := filepath.Join(s.instancePath, "factorio-current.log")
	pidPath := filepath.Join(s.instancePath, "factorio.pid")

	tailerCtx, tailerCancel := context.WithCancel(context.Background())
	tl := tailer.Start(tailerCtx, logPath, pidPath)

	if s.settings.RconPort == 0 {
		port, err := allocateEphemeralPort(s.settings.RconHost)
		if err != nil {
			tailerCancel()
			return fmt.Errorf("allocating rcon port: %w", err)
		}
		s.settings.RconPort = port
	}

	args := []string{
		"--executable-path", s.settings.ExecutablePath,
		"--start-server", savePath,
		"--console-log", "console.log",
		"--no-log-rotation",
		"--bind", s.settings.Host.String(),
		"--port", strconv.Itoa(s.settings.Port),
		"--rcon-bind", fmt.Sprintf("%s:%d", s.settings.RconHost, s.settings.RconPort),
		"--rcon-password", s.settings.RconPass,
		"--mod-directory", "mods",
	}

	cmd := exec.Command(execAbs, args...)
	cmd.Dir = s.instancePath

	if err := cmd.Start(); err != nil {
		tailerCancel()
		return fmt.Errorf("spawning factorio: %w", err)
	}

	// kill_on_drop: armed until the pidfile write and driver spawn below
	// both succeed, guaranteeing cleanup if either step panics.
	armed := true
	defer func() {
		if armed {
			_ = cmd.Process.Kill()
			tailerCancel()
		}
	}()

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}

	s.cmd = cmd
	s.tailerCancel = tailerCancel
	s.done = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()

	go s.runStatusDriver(tl.Lines())

	armed = false
	return nil
}

func allocateEphemeralPort(host net.IP) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host.String(), "0"))
	if err != nil {
		return 0, fmt.Errorf("binding ephemeral port on %s: %w", host, err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, fmt.Errorf("releasing ephemeral port probe: %w", err)
	}
	return port, nil
}

// runStatusDriver applies spec.md §4.7's transition table to each tailed
// line until the tailer closes its channel or the stopped sentinel
// arrives, whichever comes first.
func (s *Supervisor) runStatusDriver(lines <-chan string) {
	for line := range lines {
		if s.verbose {
			pterm.Debug.Printfln("%s", line)
		}

		switch {
		case line == stoppedSentinel:
			s.status.Set(StatusStopped)
			return
		case strings.HasSuffix(line, "changing state from(CreatingGame) to(InGame)"):
			s.status.Set(StatusRunning)
		case strings.HasSuffix(line, "changing state from(Disconnected) to(Closed)"):
			s.status.Set(StatusClosed)
		}
	}
}

// SendCommand requires Running status, opens a single RCON connection,
// issues command, and closes — no pooling, per spec.md §4.7.
func (s *Supervisor) SendCommand(ctx context.Context, command string) (string, error) {
	if s.status.Get() != StatusRunning {
		return "", fmt.Errorf("send_command requires Running status: %w", ferrors.ErrNotAllowed)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", s.settings.RconPort)
	return rcon.SendCommand(ctx, addr, s.settings.RconPass, command)
}

// Kill requires Running status, force-kills the child, waits for reap,
// and runs cleanup().
func (s *Supervisor) Kill() error {
	if s.status.Get() != StatusRunning {
		return fmt.Errorf("kill requires Running status: %w", ferrors.ErrNotAllowed)
	}
	s.status.Set(StatusStopping)

	_ = s.cmd.Process.Kill()
	<-s.done

	return s.cleanup()
}

// Stop requires Running status, sends /quit over RCON, waits for the
// status to reach Closed (or Stopped, when the process has already exited
// and the stopped sentinel overtook Closed), then waits up to stopGrace
// for the process to exit before force-killing, and finally runs cleanup().
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.status.Get() != StatusRunning {
		return fmt.Errorf("stop requires Running status: %w", ferrors.ErrNotAllowed)
	}
	s.status.Set(StatusStopping)

	addr := fmt.Sprintf("127.0.0.1:%d", s.settings.RconPort)
	if _, err := rcon.SendCommand(ctx, addr, s.settings.RconPass, "/quit"); err != nil {
		// A race with the process already exiting surfaces as a network
		// error here; per spec.md §9 this is accepted rather than locked
		// against, so fall through and wait on the watch channel anyway.
		_ = err
	}

	if err := s.status.WaitFor(ctx, func(st Status) bool { return st == StatusClosed || st == StatusStopped }); err != nil {
		return fmt.Errorf("waiting for Closed: %w", err)
	}

	grace, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	select {
	case <-s.done:
	case <-grace.Done():
		_ = s.cmd.Process.Kill()
		<-s.done
	}

	return s.cleanup()
}

// cleanup stops the tailer, removes the pidfile, and hands off the
// instance's log and mod-settings files to DataStore rotation (up to 9
// generations each), skipping any that are missing.
func (s *Supervisor) cleanup() error {
	s.tailerCancel()
	_ = os.Remove(filepath.Join(s.instancePath, "factorio.pid"))

	instanceName := filepath.Base(s.instancePath)

	rotations := []struct{ srcRel, dataName string }{
		{"factorio-current.log", "factorio-current.log"},
		{"console.log", "console.log"},
		{filepath.Join("mods", "mod-settings.dat"), "mod-settings.dat"},
		{filepath.Join("mods", "mod-settings.json"), "mod-settings.json"},
	}

	var firstErr error
	for _, r := range rotations {
		srcPath := filepath.Join(s.instancePath, r.srcRel)
		if _, err := os.Lstat(srcPath); err != nil {
			continue
		}

		destPath, err := s.dataStore.GetAndRotateFile(instanceName, r.dataName, 9)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rotating %s: %w", r.dataName, err)
			}
			continue
		}

		if err := os.Rename(srcPath, destPath); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("archiving %s: %w", r.dataName, err)
			}
		}
	}

	s.status.Set(StatusStopped)
	return firstErr
}
