// Package main provides the sysmaster daemon entrypoint.
//
// Usage:
//
//	sysmaster -config <path>
//
// sysmaster loads its bootstrap configuration, wires
// unitdb/loader/manager/journal/supervise/ipcserver together, boots
// default.target (or the configured default), then serves the control
// socket until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/adapter"
	"github.com/sysmaster-go/sysmaster/adapter/redis"
	"github.com/sysmaster-go/sysmaster/adapter/webhook"
	"github.com/sysmaster-go/sysmaster/cli/config"
	"github.com/sysmaster-go/sysmaster/ipcserver"
	"github.com/sysmaster-go/sysmaster/journal"
	"github.com/sysmaster-go/sysmaster/loader"
	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/manager"
	"github.com/sysmaster-go/sysmaster/metrics"
	"github.com/sysmaster-go/sysmaster/subunit"
	"github.com/sysmaster-go/sysmaster/supervise"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
	"github.com/sysmaster-go/sysmaster/unitdb"
)

// pidSyncInterval bounds how long a newly-spawned main/control pid can go
// un-watched by the reaper. unitdb's pid index and supervise.Reaper's
// watch table are independent (Service.Start records a pid through
// unit.SetMainPid with no hook back out to the process supervising it), so
// something has to mirror one into the other; a short poll is simpler than
// threading a pid-watch callback through unit/subunit for a single caller.
const pidSyncInterval = 200 * time.Millisecond

func main() {
	app := &cli.App{
		Name:           "sysmaster",
		Usage:          "systemd/sysMaster-style init and service supervisor",
		Version:        "0.1.0",
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to sysmaster.yaml",
				Value:   "/etc/sysmaster/sysmaster.yaml",
				EnvVars: []string{"SYSMASTER_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), 1)
	}

	logger := log.NewLogger()
	coll := metrics.New()

	notifier, err := buildNotifier(cfg.Adapter, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuring adapter: %v", err), 1)
	}

	journalStore, err := journal.NewStore(lode.NewFSFactory(cfg.JournalDir), cfg.JournalDir, journal.WithLogger(logger))
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening journal: %v", err), 1)
	}

	db := unitdb.New()
	resolver := loader.NewDirResolver(cfg.UnitDirs)

	opts := []manager.Option{
		manager.WithLogger(logger),
		manager.WithMetrics(coll),
		manager.WithJournal(journalStore),
	}
	if notifier != nil {
		opts = append(opts, manager.WithNotifier(notifier))
		defer notifier.Close()
	}
	mgr := manager.New(db, cfg.EtcDir, resolver, opts...)
	mgr.RegisterFactory(types.UnitTypeTarget, func(types.UnitId) (unit.SubUnit, error) {
		return subunit.NewTarget(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reaper := supervise.NewReaper(logger)
	if err := reaper.Open(); err != nil {
		return cli.Exit(fmt.Sprintf("opening reaper: %v", err), 1)
	}
	router := &pidRouter{db: db}
	go reaper.Run(ctx)
	go syncPidWatches(ctx, db, reaper, router)

	notifyPath := cfg.ControlSocket + ".notify"
	notifyListener := supervise.NewNotifyListener(notifyPath, router, logger)
	if err := notifyListener.Open(); err != nil {
		return cli.Exit(fmt.Sprintf("opening notify socket: %v", err), 1)
	}
	defer notifyListener.Close()
	go func() {
		if err := notifyListener.Run(); err != nil {
			logger.Warn("notify listener stopped", map[string]any{"err": err.Error()})
		}
	}()

	if err := mgr.Bootstrap(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("bootstrap: %v", err), 1)
	}
	if _, err := mgr.LoadUnit(types.UnitId(cfg.DefaultTarget)); err != nil {
		return cli.Exit(fmt.Sprintf("loading %s: %v", cfg.DefaultTarget, err), 1)
	}
	if errs := mgr.FlushLoadQueue(); len(errs) > 0 {
		logger.Warn("errors while loading units", map[string]any{"count": len(errs)})
	}
	if _, err := mgr.StartUnit(types.UnitId(cfg.DefaultTarget), false, types.JobModeReplace); err != nil {
		return cli.Exit(fmt.Sprintf("starting %s: %v", cfg.DefaultTarget, err), 1)
	}

	os.Remove(cfg.ControlSocket)
	ln, err := net.Listen("unix", cfg.ControlSocket)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listening on %s: %v", cfg.ControlSocket, err), 1)
	}
	defer os.Remove(cfg.ControlSocket)

	srv := ipcserver.NewServer(mgr, resolver, logger)
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Info("control socket stopped", map[string]any{"err": err.Error()})
		}
	}()

	return waitForExit(ctx, ln, mgr, logger)
}

// buildNotifier constructs the single configured downstream adapter, if
// any, wrapped in an adapter.Notifier. cfg.Type == "" disables notification
// entirely (Validate already rejects any other unrecognized type).
func buildNotifier(cfg config.AdapterConfig, logger *log.Logger) (*adapter.Notifier, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return adapter.NewNotifier(logger, a), nil
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return adapter.NewNotifier(logger, a), nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// pidRouter resolves a pid to its owning unit through unitdb, the way
// manager.Manager resolves ids to *unit.Unit internally; it implements
// both supervise.NotifyRouter and supervise.SigchldTarget so the daemon
// needs only one glue type for both event sources.
type pidRouter struct {
	db *unitdb.Store
}

func (r *pidRouter) owner(pid int) (types.UnitId, unitdb.Entry, bool) {
	id, ok := r.db.GetUnitByPid(pid)
	if !ok {
		return "", nil, false
	}
	e, ok := r.db.UnitsGet(id)
	if !ok {
		return "", nil, false
	}
	return id, e, true
}

func (r *pidRouter) RouteByPid(pid int) (types.UnitId, supervise.NotifyTarget, bool) {
	id, e, ok := r.owner(pid)
	if !ok {
		return "", nil, false
	}
	target, ok := e.(supervise.NotifyTarget)
	if !ok {
		return "", nil, false
	}
	return id, target, true
}

func (r *pidRouter) SigchldEvent(pid, exitCode int, signaled bool) {
	_, e, ok := r.owner(pid)
	if !ok {
		return
	}
	if target, ok := e.(supervise.SigchldTarget); ok {
		target.SigchldEvent(pid, exitCode, signaled)
	}
}

// pidWatcher is the subset of *supervise.Reaper syncPidWatches drives,
// narrowed for testability.
type pidWatcher interface {
	Watch(pid int, target supervise.SigchldTarget)
	Unwatch(pid int)
}

// syncPidWatches mirrors unitdb's pid->unit index into reaper's watch
// table, registering router for every pid newly seen and unwatching any
// that disappeared (reaped, or unwatched by its owning unit).
func syncPidWatches(ctx context.Context, db *unitdb.Store, reaper pidWatcher, router *pidRouter) {
	known := make(map[int]struct{})
	ticker := time.NewTicker(pidSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current := db.PidOwners()
		for pid := range current {
			if _, ok := known[pid]; !ok {
				reaper.Watch(pid, router)
			}
		}
		for pid := range known {
			if _, ok := current[pid]; !ok {
				reaper.Unwatch(pid)
			}
		}
		known = make(map[int]struct{}, len(current))
		for pid := range current {
			known[pid] = struct{}{}
		}
	}
}

// waitForExit blocks until ctx is cancelled (SIGINT/SIGTERM) or mgr enters
// a Force runtime state, then performs the corresponding shutdown: reboot
// and poweroff are carried out directly since nothing outside this process
// can act on them; the manager itself only signals intent, never issues
// the syscall.
func waitForExit(ctx context.Context, ln net.Listener, mgr *manager.Manager, logger *log.Logger) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", nil)
			ln.Close()
			return nil
		case <-ticker.C:
			switch mgr.State() {
			case manager.RuntimeStateRebootForce:
				logger.Info("reboot requested", nil)
				ln.Close()
				return reboot(true)
			case manager.RuntimeStatePoweroffForce:
				logger.Info("poweroff requested", nil)
				ln.Close()
				return reboot(false)
			case manager.RuntimeStateExitForce:
				logger.Info("exit requested", nil)
				ln.Close()
				return nil
			}
		}
	}
}

// reboot syncs the filesystem and issues the restart or power-off reboot
// syscall directly; this is the non-immediate Force counterpart to the
// *Immediate actions manager.Manager's dispatchNow issues itself.
func reboot(restart bool) error {
	unix.Sync()
	cmd := unix.LINUX_REBOOT_CMD_POWER_OFF
	if restart {
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	}
	return unix.Reboot(cmd)
}
