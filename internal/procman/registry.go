package procman

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"script-host/internal/runtime"
)

// Registry tracks running script processes keyed by (owner, filename) and
// guarantees every spawned process is eventually terminated and its log
// sink released: by an explicit stop, by the per-entry timeout watcher, by
// the periodic sweep, or by natural exit.
type Registry struct {
	mu      sync.Mutex
	running map[Key]*execution

	runtimes *runtime.Registry
	timeout  time.Duration
	grace    time.Duration

	// onTermination, when set, is invoked after an entry has been removed.
	// Called outside the registry lock.
	onTermination func(info ExecutionInfo, reason TerminationReason)
}

// Options configures a Registry.
type Options struct {
	Timeout       time.Duration // Max runtime before forced termination (default 1h)
	KillGrace     time.Duration // SIGTERM-to-SIGKILL grace window (default 3s)
	OnTermination func(info ExecutionInfo, reason TerminationReason)
}

// NewRegistry creates a script process registry.
func NewRegistry(runtimes *runtime.Registry, opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 3 * time.Second
	}
	return &Registry{
		running:       make(map[Key]*execution),
		runtimes:      runtimes,
		timeout:       opts.Timeout,
		grace:         opts.KillGrace,
		onTermination: opts.OnTermination,
	}
}

// Start spawns the script as a child process in workDir with stdout and
// stderr redirected to a fresh <stem>.log sink, registers it, and schedules
// the timeout watcher. Returns the child PID.
func (r *Registry) Start(ownerID int64, filename, workDir string) (int, error) {
	key := Key{OwnerID: ownerID, Filename: filename}

	rt, err := r.runtimes.ForFile(filename)
	if err != nil {
		return 0, &RegistryError{Key: key, Op: "resolve_runtime", Err: err}
	}
	if !runtime.Available(rt) {
		return 0, &RegistryError{Key: key, Op: "resolve_runtime", Err: fmt.Errorf("%w: %s", ErrInterpreterMissing, rt.Interpreter())}
	}

	r.mu.Lock()
	if _, exists := r.running[key]; exists {
		r.mu.Unlock()
		return 0, &RegistryError{Key: key, Op: "start", Err: ErrAlreadyRunning}
	}
	r.mu.Unlock()

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	logPath := filepath.Join(workDir, stem+".log")
	sink, err := os.Create(logPath)
	if err != nil {
		return 0, &RegistryError{Key: key, Op: "open_log", Err: fmt.Errorf("%w: %v", ErrSpawnFailed, err)}
	}

	args := rt.Command(filepath.Join(workDir, filename))
	cmd := exec.Command(args[0], args[1:]...) // #nosec G204 -- args come from the runtime registry, not the caller
	cmd.Dir = workDir
	cmd.Stdout = sink
	cmd.Stderr = sink
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = sink.Close()
		if errors.Is(err, exec.ErrNotFound) {
			return 0, &RegistryError{Key: key, Op: "spawn", Err: fmt.Errorf("%w: %s", ErrInterpreterMissing, rt.Interpreter())}
		}
		return 0, &RegistryError{Key: key, Op: "spawn", Err: fmt.Errorf("%w: %v", ErrSpawnFailed, err)}
	}

	e := &execution{
		key:       key,
		kind:      rt.Name(),
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		workDir:   workDir,
		logPath:   logPath,
		cmd:       cmd,
		logSink:   sink,
	}

	r.mu.Lock()
	if _, exists := r.running[key]; exists {
		// Lost a race with another Start for the same key.
		r.mu.Unlock()
		e.finalize("")
		_ = terminateTree(e.pid, r.grace)
		return 0, &RegistryError{Key: key, Op: "start", Err: ErrAlreadyRunning}
	}
	r.running[key] = e
	e.timer = time.AfterFunc(r.timeout, func() { r.timeoutKill(e) })
	r.mu.Unlock()

	go r.reap(e)

	log.Info().
		Int64("owner_id", ownerID).
		Str("filename", filename).
		Str("kind", e.kind).
		Int("pid", e.pid).
		Msg("script started")

	return e.pid, nil
}

// Stop terminates a running script: sentinel line, sink closed, full
// process tree terminated, entry removed. Returns ErrNotRunning if no
// entry exists for the key.
func (r *Registry) Stop(ownerID int64, filename string) error {
	key := Key{OwnerID: ownerID, Filename: filename}

	r.mu.Lock()
	e, ok := r.running[key]
	if !ok {
		r.mu.Unlock()
		return &RegistryError{Key: key, Op: "stop", Err: ErrNotRunning}
	}
	delete(r.running, key)
	r.mu.Unlock()

	e.timer.Stop()
	e.finalize("Script stopped by user")
	r.terminate(e)

	log.Info().
		Int64("owner_id", ownerID).
		Str("filename", filename).
		Int("pid", e.pid).
		Msg("script stopped")

	r.notify(e, ReasonStopped)
	return nil
}

// IsRunning reports whether a live entry exists for (ownerID, filename).
func (r *Registry) IsRunning(ownerID int64, filename string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[Key{OwnerID: ownerID, Filename: filename}]
	return ok
}

// Snapshot returns point-in-time info for every live entry, ordered by
// start time.
func (r *Registry) Snapshot() []ExecutionInfo {
	r.mu.Lock()
	infos := make([]ExecutionInfo, 0, len(r.running))
	for _, e := range r.running {
		infos = append(infos, e.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// timeoutKill is the per-entry watcher body. A stale fire (entry already
// stopped, exited, or replaced by a new run under the same key) is a no-op.
func (r *Registry) timeoutKill(e *execution) {
	if !r.remove(e) {
		return
	}

	log.Warn().
		Str("key", e.key.String()).
		Int("pid", e.pid).
		Dur("timeout", r.timeout).
		Msg("script exceeded timeout, terminating")

	e.finalize(fmt.Sprintf("Script terminated after %s timeout", r.timeout))
	r.terminate(e)
	r.notify(e, ReasonTimeout)
}

// Sweep force-terminates every entry older than the registry timeout. It
// backs up the per-entry watchers; with both mechanisms an execution is
// removed no later than timeout + sweep interval after start.
func (r *Registry) Sweep() {
	r.mu.Lock()
	var overdue []*execution
	for _, e := range r.running {
		if time.Since(e.startedAt) > r.timeout {
			overdue = append(overdue, e)
		}
	}
	r.mu.Unlock()

	for _, e := range overdue {
		if !r.remove(e) {
			continue
		}
		age := time.Since(e.startedAt)
		log.Warn().
			Str("key", e.key.String()).
			Int("pid", e.pid).
			Dur("age", age).
			Msg("sweep terminating long-running script")

		e.timer.Stop()
		e.finalize(fmt.Sprintf("Script auto-terminated after %.0fs", age.Seconds()))
		r.terminate(e)
		r.notify(e, ReasonSweep)
	}
}

// Shutdown stops all running scripts. Used on server exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*execution, 0, len(r.running))
	for _, e := range r.running {
		all = append(all, e)
	}
	r.mu.Unlock()

	for _, e := range all {
		if !r.remove(e) {
			continue
		}
		e.timer.Stop()
		e.finalize("Script stopped: server shutting down")
		r.terminate(e)
		r.notify(e, ReasonStopped)
	}
}

// reap waits for natural process exit and cleans up the entry if it is
// still current. If the entry was already removed (stop/timeout/sweep won
// the race), only the registry-side Wait bookkeeping happens here.
func (r *Registry) reap(e *execution) {
	err := e.cmd.Wait()

	if r.remove(e) {
		e.timer.Stop()
		e.finalize("")

		exitCode := 0
		if err != nil {
			exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
		}
		log.Info().
			Str("key", e.key.String()).
			Int("pid", e.pid).
			Int("exit_code", exitCode).
			Dur("runtime", time.Since(e.startedAt)).
			Msg("script exited")

		r.notify(e, ReasonExited)
		return
	}

	// Entry was removed by a terminator; the sink is already closed.
	e.finalize("")
}

// remove deletes e from the map if it is still the current entry for its
// key. Returns false when another path already removed it (or replaced it
// with a newer run), making termination idempotent.
func (r *Registry) remove(e *execution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.running[e.key]; !ok || cur != e {
		return false
	}
	delete(r.running, e.key)
	return true
}

func (r *Registry) terminate(e *execution) {
	if err := terminateTree(e.pid, r.grace); err != nil {
		// Best-effort: the entry is already untracked, further tracking
		// cannot help. Surface through the log only.
		log.Error().
			Err(err).
			Str("key", e.key.String()).
			Int("pid", e.pid).
			Msg("process tree termination incomplete")
	}
}

func (r *Registry) notify(e *execution, reason TerminationReason) {
	if r.onTermination != nil {
		r.onTermination(e.snapshot(), reason)
	}
}
