// Package spawn runs ExecCommand/ExecParameters as a child process,
// assembling the environment and kept file descriptors through
// os/exec.Cmd, generalized to any sub-unit instead of duplicated per
// unit kind. The spawned process is never waited on here: supervise's
// sigchld reaper owns reaping, keeping spawn and reap as separate
// concerns.
package spawn

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/types"
)

// varRef matches $FOO or ${FOO} references in an argv entry.
var varRef = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// UserLookup resolves configured User/Group names to numeric ids. Production
// code uses the stdlib lookupUser below; tests inject a fake. No pack
// dependency covers POSIX passwd/group lookup, so this is one of the few
// seams built directly on the standard library (os/user) rather than a
// third-party client.
type UserLookup interface {
	LookupUser(name string) (uid, gid uint32, err error)
	LookupGroup(name string) (gid uint32, err error)
}

type osUserLookup struct{}

func (osUserLookup) LookupUser(name string) (uint32, uint32, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(uid), uint32(gid), nil
}

func (osUserLookup) LookupGroup(name string) (uint32, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(gid), nil
}

// Spawner runs commands on behalf of sub-units. It satisfies
// subunit.Spawner.
type Spawner struct {
	lookup UserLookup
	// defaultPath mirrors the original's env::var("PATH") fallback.
	defaultPath string
}

// New constructs a production Spawner using os/user for identity lookups.
func New() *Spawner {
	return &Spawner{
		lookup:      osUserLookup{},
		defaultPath: "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
}

// WithUserLookup overrides identity resolution, for tests.
func WithUserLookup(l UserLookup) func(*Spawner) {
	return func(s *Spawner) { s.lookup = l }
}

// NewWithOptions applies functional overrides to a production Spawner.
func NewWithOptions(opts ...func(*Spawner)) *Spawner {
	s := New()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts cmdline under params and returns the child pid immediately
// after fork/exec, without waiting for it to exit.
func (s *Spawner) Spawn(cmdline types.ExecCommand, params types.ExecParameters) (int, error) {
	if cmdline.Path == "" {
		return 0, fmt.Errorf("spawn: empty command path")
	}

	env, err := s.buildEnv(params)
	if err != nil {
		return 0, fmt.Errorf("spawn: build env: %w", err)
	}

	cmd := exec.Command(cmdline.Path, substituteArgv(cmdline.Argv, env)...)
	cmd.Env = env
	cmd.Dir = params.WorkingDirectory

	extraFiles, err := keepFdsToFiles(params.KeepFds)
	if err != nil {
		return 0, fmt.Errorf("spawn: %w", err)
	}
	cmd.ExtraFiles = extraFiles

	attr := &syscall.SysProcAttr{Setsid: true}
	if params.User != "" || params.Group != "" {
		uid, gid, err := s.resolveIdentity(params)
		if err != nil {
			return 0, fmt.Errorf("spawn: resolve identity: %w", err)
		}
		attr.Credential = &syscall.Credential{Uid: uid, Gid: gid}
	}
	cmd.SysProcAttr = attr

	// Umask applies to the whole process, not per-fork, so it's raced against
	// any other goroutine that forks concurrently. The original set it in the
	// forked child before exec; Go's os/exec gives no such hook, so this sets
	// it around Start and restores it immediately after, the narrowest window
	// available without a custom fork+exec.
	prevUmask := unix.Umask(int(params.Umask))
	startErr := cmd.Start()
	unix.Umask(prevUmask)
	closeKeptFiles(extraFiles)
	if startErr != nil {
		return 0, fmt.Errorf("spawn: start: %w", startErr)
	}

	return cmd.Process.Pid, nil
}

func (s *Spawner) resolveIdentity(params types.ExecParameters) (uid, gid uint32, err error) {
	if params.User != "" {
		uid, gid, err = s.lookup.LookupUser(params.User)
		if err != nil {
			return 0, 0, err
		}
	}
	if params.Group != "" {
		gid, err = s.lookup.LookupGroup(params.Group)
		if err != nil {
			return 0, 0, err
		}
	}
	return uid, gid, nil
}

// buildEnv assembles the child environment in this layering order: PATH,
// environment files, ContextEnv (e.g. MAINPID), unit ParamsEnv, then the
// synthesized block: LISTEN_PID/LISTEN_FDS when ExecFlagPassFds is set,
// NOTIFY_SOCKET whenever a notify socket is configured, and
// WATCHDOG_PID/WATCHDOG_USEC when ExecFlagSoftWatchdog is set.
func (s *Spawner) buildEnv(params types.ExecParameters) ([]string, error) {
	env := []string{"PATH=" + s.pathOrDefault()}

	for _, path := range params.EnvironmentFiles {
		lines, err := parseEnvironmentFile(path)
		if err != nil {
			return nil, err
		}
		env = append(env, lines...)
	}

	env = append(env, params.ContextEnv...)
	env = append(env, params.ParamsEnv...)

	if params.Flags.Has(types.ExecFlagPassFds) && len(params.KeepFds) > 0 {
		env = append(env,
			fmt.Sprintf("LISTEN_PID=%d", os.Getpid()),
			fmt.Sprintf("LISTEN_FDS=%d", len(params.KeepFds)),
		)
	}

	if params.NotifySocket != "" {
		env = append(env, "NOTIFY_SOCKET="+params.NotifySocket)
	}

	if params.Flags.Has(types.ExecFlagSoftWatchdog) && params.WatchdogUSec > 0 {
		env = append(env,
			fmt.Sprintf("WATCHDOG_PID=%d", os.Getpid()),
			fmt.Sprintf("WATCHDOG_USEC=%d", params.WatchdogUSec.Microseconds()),
		)
	}

	return env, nil
}

// substituteArgv replaces $FOO / ${FOO} references in each argv entry with
// the matching KEY=VALUE from env, leaving unresolved references untouched.
func substituteArgv(argv []string, env []string) []string {
	lookup := make(map[string]string, len(env))
	for _, kv := range env {
		if key, val, ok := strings.Cut(kv, "="); ok {
			lookup[key] = val
		}
	}

	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = varRef.ReplaceAllStringFunc(arg, func(ref string) string {
			name := strings.Trim(ref, "${}")
			if val, ok := lookup[name]; ok {
				return val
			}
			return ref
		})
	}
	return out
}

func (s *Spawner) pathOrDefault() string {
	if p := os.Getenv("PATH"); p != "" {
		return p
	}
	return s.defaultPath
}

// parseEnvironmentFile reads KEY=VALUE lines, skipping blanks and #-comments,
// matching systemd's EnvironmentFile= convention that the original config
// layer exposes via Service.EnvironmentFiles.
func parseEnvironmentFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "=") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// keepFdsToFiles dups each kept fd and wraps the copy as an *os.File for
// cmd.ExtraFiles, which places extraFiles[i] at child fd 3+i. The fd is
// duped rather than wrapped directly because the original belongs to its
// owning sub-unit (e.g. a listening Socket) and must stay open across
// restarts; only the duplicate's lifetime is bound to this spawn.
func keepFdsToFiles(fds []int) ([]*os.File, error) {
	files := make([]*os.File, 0, len(fds))
	for _, fd := range fds {
		if fd < 0 {
			return nil, fmt.Errorf("invalid kept fd %d", fd)
		}
		dup, err := unix.Dup(fd)
		if err != nil {
			for _, f := range files {
				_ = f.Close()
			}
			return nil, fmt.Errorf("dup kept fd %d: %w", fd, err)
		}
		files = append(files, os.NewFile(uintptr(dup), "kept-fd"))
	}
	return files, nil
}

// closeKeptFiles releases the duplicated fds created by keepFdsToFiles once
// cmd.Start has dup'd them again into the child; the originals owned by the
// sub-unit are untouched.
func closeKeptFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
