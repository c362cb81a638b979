// Package supervise owns the two event sources sub-units react to once
// spawned: SIGCHLD reaping and the notify-socket listener. Both are
// independent, injectable loops rather than methods on a monolithic
// manager, keeping event framing separate from the runtime loop that
// consumes it.
package supervise

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/log"
)

// SigchldTarget receives a reaped child's exit status. pid is the reaped
// process, exitCode is its wait status exit code (zero when signaled),
// signaled reports whether it died from a signal rather than exiting.
type SigchldTarget interface {
	SigchldEvent(pid int, exitCode int, signaled bool)
}

// Reaper drains SIGCHLD via a signalfd and dispatches to registered
// targets keyed by pid.
type Reaper struct {
	log *log.Logger

	mu      sync.Mutex
	targets map[int]SigchldTarget

	fd int
}

// NewReaper creates a Reaper. Call Open before Run.
func NewReaper(logger *log.Logger) *Reaper {
	return &Reaper{
		log:     logger,
		targets: make(map[int]SigchldTarget),
		fd:      -1,
	}
}

// Open masks SIGCHLD on the calling thread's signal mask and creates the
// signalfd that Run reads from. Must run before any goroutine that should
// observe SIGCHLD via the ordinary mechanism, since a blocked signal is
// consumed by the signalfd instead of the default disposition.
func (r *Reaper) Open() error {
	var set unix.Sigset_t
	set.Val[0] |= 1 << (uint(unix.SIGCHLD) - 1)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return err
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		return err
	}
	r.fd = fd
	return nil
}

// Watch registers target to receive SigchldEvent calls for pid, mirroring
// child_watch_pid.
func (r *Reaper) Watch(pid int, target SigchldTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[pid] = target
}

// Unwatch removes pid's registration, mirroring child_unwatch_pid.
func (r *Reaper) Unwatch(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, pid)
}

// Run blocks reading signalfd events until ctx is cancelled. Each readable
// signalfd_siginfo triggers a WNOHANG reap loop, since signalfd coalesces
// multiple pending SIGCHLDs into a single readable event.
func (r *Reaper) Run(ctx context.Context) error {
	defer unix.Close(r.fd)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	var info [128]byte
	for {
		n, err := unix.Read(r.fd, info[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		if n <= 0 {
			continue
		}
		r.reapAll()

		select {
		case <-done:
			return nil
		default:
		}
	}
}

// reapAll drains every currently-exited child with WNOHANG, dispatching to
// the watching target if one is registered. Unwatched exits are still
// reaped to avoid leaving zombies, just not reported anywhere.
func (r *Reaper) reapAll() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		r.mu.Lock()
		target := r.targets[pid]
		delete(r.targets, pid)
		r.mu.Unlock()

		if target == nil {
			if r.log != nil {
				r.log.Warn("reaped unwatched pid", map[string]any{"pid": pid})
			}
			continue
		}

		if ws.Signaled() {
			target.SigchldEvent(pid, 0, true)
		} else {
			target.SigchldEvent(pid, ws.ExitStatus(), false)
		}
	}
}
