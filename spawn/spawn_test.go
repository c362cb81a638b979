package spawn

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sysmaster-go/sysmaster/types"
)

type fakeLookup struct {
	uid, gid uint32
	groupGid uint32
	err      error
}

func (f fakeLookup) LookupUser(string) (uint32, uint32, error) { return f.uid, f.gid, f.err }
func (f fakeLookup) LookupGroup(string) (uint32, error)        { return f.groupGid, f.err }

func TestBuildEnvIncludesPathAndContextEnv(t *testing.T) {
	s := New()
	env, err := s.buildEnv(types.ExecParameters{ContextEnv: []string{"MAINPID=123"}})
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if !containsPrefix(env, "PATH=") {
		t.Fatal("expected PATH to be set")
	}
	if !contains(env, "MAINPID=123") {
		t.Fatalf("expected MAINPID in env, got %v", env)
	}
}

func TestBuildEnvSynthesizesListenFdsOnlyWhenFlagSet(t *testing.T) {
	s := New()
	params := types.ExecParameters{KeepFds: []int{5, 6}}

	env, err := s.buildEnv(params)
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if contains(env, "LISTEN_FDS=2") {
		t.Fatal("expected no LISTEN_FDS without ExecFlagPassFds")
	}

	params.Flags = types.ExecFlagPassFds
	env, err = s.buildEnv(params)
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if !contains(env, "LISTEN_FDS=2") {
		t.Fatalf("expected LISTEN_FDS=2, got %v", env)
	}
}

func TestBuildEnvSynthesizesWatchdogWhenFlagAndDurationSet(t *testing.T) {
	s := New()
	params := types.ExecParameters{
		Flags:        types.ExecFlagSoftWatchdog,
		WatchdogUSec: 5 * time.Second,
	}
	env, err := s.buildEnv(params)
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if !contains(env, "WATCHDOG_USEC=5000000") {
		t.Fatalf("expected WATCHDOG_USEC=5000000, got %v", env)
	}
}

func TestBuildEnvSkipsWatchdogWithoutDuration(t *testing.T) {
	s := New()
	env, err := s.buildEnv(types.ExecParameters{Flags: types.ExecFlagSoftWatchdog})
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if containsPrefix(env, "WATCHDOG_USEC=") {
		t.Fatal("expected no watchdog env without a positive WatchdogUSec")
	}
}

func TestBuildEnvReadsEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env")
	content := "# comment\n\nFOO=bar\nBAZ=qux\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	s := New()
	env, err := s.buildEnv(types.ExecParameters{EnvironmentFiles: []string{path}})
	if err != nil {
		t.Fatalf("buildEnv: %v", err)
	}
	if !contains(env, "FOO=bar") || !contains(env, "BAZ=qux") {
		t.Fatalf("expected env file contents, got %v", env)
	}
}

func TestResolveIdentityPrefersExplicitGroup(t *testing.T) {
	s := NewWithOptions(WithUserLookup(fakeLookup{uid: 100, gid: 200, groupGid: 300}))
	uid, gid, err := s.resolveIdentity(types.ExecParameters{User: "svc", Group: "svcgrp"})
	if err != nil {
		t.Fatalf("resolveIdentity: %v", err)
	}
	if uid != 100 || gid != 300 {
		t.Fatalf("expected uid=100 gid=300, got uid=%d gid=%d", uid, gid)
	}
}

func TestResolveIdentityFallsBackToUserPrimaryGroup(t *testing.T) {
	s := NewWithOptions(WithUserLookup(fakeLookup{uid: 100, gid: 200}))
	uid, gid, err := s.resolveIdentity(types.ExecParameters{User: "svc"})
	if err != nil {
		t.Fatalf("resolveIdentity: %v", err)
	}
	if uid != 100 || gid != 200 {
		t.Fatalf("expected uid=100 gid=200, got uid=%d gid=%d", uid, gid)
	}
}

func TestSubstituteArgvReplacesKnownReferences(t *testing.T) {
	argv := []string{"--pid=$MAINPID", "--sock=${NOTIFY_SOCKET}", "--lit=$UNKNOWN"}
	env := []string{"MAINPID=42", "NOTIFY_SOCKET=/run/sock"}

	got := substituteArgv(argv, env)
	want := []string{"--pid=42", "--sock=/run/sock", "--lit=$UNKNOWN"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSpawnRejectsEmptyPath(t *testing.T) {
	s := New()
	if _, err := s.Spawn(types.ExecCommand{}, types.ExecParameters{}); err == nil {
		t.Fatal("expected error for empty command path")
	}
}

func TestSpawnReturnsChildPidWithoutWaiting(t *testing.T) {
	s := New()
	pid, err := s.Spawn(types.ExecCommand{Path: "/bin/sh", Argv: []string{"-c", "exit 0"}}, types.ExecParameters{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected a positive pid, got %d", pid)
	}
	// Reap directly since no sigchld reaper is running in this test.
	proc, err := os.FindProcess(pid)
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	_, _ = proc.Wait()
}

func containsPrefix(env []string, prefix string) bool {
	for _, e := range env {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func contains(env []string, target string) bool {
	for _, e := range env {
		if e == target {
			return true
		}
	}
	return false
}
