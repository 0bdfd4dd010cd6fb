// Package tailer implements the 1 Hz polling log tailer specified in
// spec.md §4.8, grounded directly on
// original_source/src/factorio_tracker.rs's FactorioTracker::watch: track
// file_pos/last_size, detect truncation by a size shrink, drain whole
// lines on growth, then consult the pidfile and the OS process table to
// detect the supervised process's death.
package tailer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// stoppedSentinel is the exact line spec.md §4.7's status driver matches
// to transition to Stopped.
const stoppedSentinel = "factorio process stopped"

const pollInterval = time.Second

// Tailer polls logPath for new lines and pidPath for the supervised
// process's liveness, emitting both tailed lines and the stopped sentinel
// on Lines().
type Tailer struct {
	logPath string
	pidPath string
	lines   chan string

	filePos  int64
	lastSize int64
}

// Start begins polling in a background goroutine and returns immediately.
// The returned Tailer's Lines channel is closed when the supervised
// process is detected dead or ctx is cancelled.
func Start(ctx context.Context, logPath, pidPath string) *Tailer {
	t := &Tailer{
		logPath: logPath,
		pidPath: pidPath,
		lines:   make(chan string, 32),
	}
	go t.run(ctx)
	return t
}

// Lines returns the channel of tailed log lines. When process death is
// detected the sentinel line "factorio process stopped" is the last line
// before the channel closes; on ctx cancellation or an IO error the
// channel closes without it.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.lines)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if t.tick() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick drains whatever new lines are available, then checks process
// liveness. It returns true once the tailer should stop (process death
// detected or a fatal IO error occurred).
func (t *Tailer) tick() bool {
	if _, err := os.Stat(t.logPath); err != nil {
		// Log file doesn't exist yet; nothing to drain this tick.
	} else if err := t.drain(); err != nil {
		// Transient IO errors are treated like process death per
		// spec.md §4.8's stated failure mode.
		return true
	}

	return t.checkLiveness()
}

func (t *Tailer) drain() error {
	f, err := os.Open(t.logPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", t.logPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.logPath, err)
	}
	size := info.Size()

	if size < t.lastSize {
		// Rotation/truncation: restart from the beginning.
		t.filePos = 0
		t.lastSize = 0
	}

	if size <= t.lastSize {
		return nil
	}
	t.lastSize = size

	if _, err := f.Seek(t.filePos, 0); err != nil {
		return fmt.Errorf("seeking %s: %w", t.logPath, err)
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 {
			break
		}
		if err != nil {
			// Partial line without a trailing newline yet; wait for the
			// next tick rather than emitting a truncated line.
			break
		}
		t.filePos += int64(len(line))
		t.emit(strings.TrimRight(line, "\r\n"))
	}

	return nil
}

func (t *Tailer) checkLiveness() bool {
	data, err := os.ReadFile(t.pidPath)
	if err != nil {
		// No pidfile yet (process still starting up); not a death signal.
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil || alive {
		return false
	}

	t.emit(stoppedSentinel)
	return true
}

// emit sends line without blocking; if the buffer is full the oldest
// buffered line is dropped, per spec.md §5's "missed log lines are
// non-fatal" channel policy.
func (t *Tailer) emit(line string) {
	select {
	case t.lines <- line:
		return
	default:
	}

	select {
	case <-t.lines:
	default:
	}
	select {
	case t.lines <- line:
	default:
	}
}
