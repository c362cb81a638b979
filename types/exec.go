package types

import "time"

// ExecFlags are bit flags controlling spawner behavior for one command.
type ExecFlags uint32

const (
	// ExecFlagPassFds instructs the spawner to synthesize LISTEN_PID/LISTEN_FDS
	// and keep the configured fds open into the child.
	ExecFlagPassFds ExecFlags = 1 << iota
	// ExecFlagSoftWatchdog instructs the spawner to synthesize
	// WATCHDOG_PID/WATCHDOG_USEC when WatchdogUSec > 0.
	ExecFlagSoftWatchdog
	// ExecFlagApplyTTYStdin attaches the configured TTY to stdin of the child.
	ExecFlagApplyTTYStdin
)

// Has reports whether f includes the given bit.
func (f ExecFlags) Has(bit ExecFlags) bool {
	return f&bit != 0
}

// ExecCommand is one command line to run (ExecStart/ExecStop/ExecReload/...).
type ExecCommand struct {
	Path string
	Argv []string
}

// ExecParameters is the fully-resolved context under which a command runs.
type ExecParameters struct {
	// Identity
	User  string
	Group string
	Umask uint32

	// Filesystem
	WorkingDirectory string

	// Environment
	EnvironmentFiles []string
	ContextEnv       []string
	ParamsEnv        []string

	// Fds kept open into the child, in order; keep-fd i lands on fd i+3.
	KeepFds []int

	// Flags and watchdog/notify wiring.
	Flags           ExecFlags
	NotifySocket    string
	WatchdogUSec    time.Duration
	Nonblock        bool

	// CgroupPath is the cgroup the child is attached to post-fork.
	CgroupPath string
}

// NotifyMessage is one parsed sd_notify-style datagram.
type NotifyMessage struct {
	PID     int
	Creds   NotifyCreds
	KV      map[string]string
	Fds     []int
}

// NotifyCreds carries the SO_PASSCRED credentials of the notify sender.
type NotifyCreds struct {
	PID int
	UID uint32
	GID uint32
}

// Recognised sd_notify keys.
const (
	NotifyKeyReady        = "READY"
	NotifyKeyReloading    = "RELOADING"
	NotifyKeyStopping     = "STOPPING"
	NotifyKeyStatus       = "STATUS"
	NotifyKeyErrno        = "ERRNO"
	NotifyKeyMainPID      = "MAINPID"
	NotifyKeyWatchdog     = "WATCHDOG"
	NotifyKeyWatchdogUSec = "WATCHDOG_USEC"
	NotifyKeyFDStore      = "FDSTORE"
)
