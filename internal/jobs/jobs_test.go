package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"workbench/internal/sandbox"
)

const sampleSnapshot = `    1     0  0.0  0.1   500 /bin/bash
   42     1  0.5  0.3   120 bash
   50    42 90.0  4.0    60 python3 train.py --epochs 10
   51    50  1.0  0.2    60 /bin/sh
   52    51  5.0  0.5    30 sleep 300
   60     1  2.0  1.0    90 vim notes.txt
   99     1  0.0  0.0   400 sshd
garbage line
   77    42
`

func TestParseSnapshot(t *testing.T) {
	snap := ParseSnapshot(sampleSnapshot)

	if !snap.Alive(50) {
		t.Fatal("pid 50 should be in snapshot")
	}
	if snap.Alive(77) {
		t.Error("truncated line should have been dropped")
	}

	proc := ParseSnapshot(sampleSnapshot).procs[50]
	if proc.Command != "python3 train.py --epochs 10" {
		t.Errorf("Command = %q, want full command with args", proc.Command)
	}
	if proc.CPUPercent != 90.0 || proc.PPID != 42 {
		t.Errorf("proc 50 parsed as %+v", proc)
	}
}

func TestParseSnapshotNaNPercentages(t *testing.T) {
	// ps reports "nan" for pcpu/pmem on some kernels; the row must still be
	// usable and the resulting job list must stay JSON-encodable.
	snap := ParseSnapshot("   42     1  nan  nan   100 bash\n   50    42  nan  -inf    60 python3 job.py\n")

	proc := snap.procs[50]
	if proc.CPUPercent != 0 || proc.MemPercent != 0 {
		t.Errorf("nan percentages parsed as %+v, want zeros", proc)
	}

	jobs := snap.JobsFor(42)
	if len(jobs) != 1 || jobs[0].PID != 50 {
		t.Fatalf("jobs = %+v, want the python row", jobs)
	}
	if _, err := json.Marshal(jobs); err != nil {
		t.Errorf("job list not JSON-encodable: %v", err)
	}
}

func TestJobsForIdleShellHidden(t *testing.T) {
	snap := ParseSnapshot(sampleSnapshot)
	jobs := snap.JobsFor(42)

	// Shell 42 is a bare bash, so only its descendants show: the python
	// run and the sleep under the hidden nested /bin/sh.
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2: %+v", len(jobs), jobs)
	}
	if jobs[0].PID != 50 || jobs[1].PID != 52 {
		t.Errorf("jobs = %+v, want pids 50 and 52", jobs)
	}
	for _, j := range jobs {
		if j.Command == "/bin/sh" {
			t.Error("nested plain shell should be hidden")
		}
	}
}

func TestJobsForReplacedShell(t *testing.T) {
	snap := ParseSnapshot(sampleSnapshot)
	jobs := snap.JobsFor(60)

	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1: %+v", len(jobs), jobs)
	}
	if jobs[0].Command != "vim notes.txt (shell)" {
		t.Errorf("Command = %q, want replaced shell with suffix", jobs[0].Command)
	}
}

func TestJobsForDeadShell(t *testing.T) {
	snap := ParseSnapshot(sampleSnapshot)
	if jobs := snap.JobsFor(12345); len(jobs) != 0 {
		t.Errorf("dead shell returned jobs: %+v", jobs)
	}
}

func TestNormalizeSignal(t *testing.T) {
	for _, in := range []string{"TERM", "sigkill", "Int", " HUP "} {
		if _, err := NormalizeSignal(in); err != nil {
			t.Errorf("NormalizeSignal(%q) = %v, want nil", in, err)
		}
	}
	if got, _ := NormalizeSignal("sigterm"); got != "TERM" {
		t.Errorf("NormalizeSignal(sigterm) = %q, want TERM", got)
	}
	for _, in := range []string{"STOP", "USR1", "9", ""} {
		if _, err := NormalizeSignal(in); !errors.Is(err, ErrUnsupportedSignal) {
			t.Errorf("NormalizeSignal(%q) = %v, want ErrUnsupportedSignal", in, err)
		}
	}
}

// fakeExecer scripts container exec responses keyed by the command.
type fakeExecer struct {
	pidFileContent string
	pidFileMissing bool
	snapshot       string
	probes         int
}

func (f *fakeExecer) ExecOutput(_ context.Context, _ string, cmd []string) (*sandbox.ExecResult, error) {
	switch cmd[0] {
	case "cat":
		f.probes++
		if f.pidFileMissing {
			return &sandbox.ExecResult{ExitCode: 1, Stderr: "No such file"}, nil
		}
		return &sandbox.ExecResult{ExitCode: 0, Stdout: f.pidFileContent}, nil
	case "ps":
		return &sandbox.ExecResult{ExitCode: 0, Stdout: f.snapshot}, nil
	case "rm":
		return &sandbox.ExecResult{ExitCode: 0}, nil
	}
	return nil, errors.New("unexpected command " + strings.Join(cmd, " "))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestManagerCollect(t *testing.T) {
	exec := &fakeExecer{pidFileContent: "42\n", snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	jobs, err := m.Collect(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("jobs = %+v, want 2 entries", jobs)
	}

	// Second collect hits the pid cache.
	probes := exec.probes
	if _, err := m.Collect(context.Background(), "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if exec.probes != probes {
		t.Error("cached shell pid should not re-read the pid file")
	}
}

func TestManagerCollectDeadShell(t *testing.T) {
	exec := &fakeExecer{pidFileContent: "12345\n", snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	jobs, err := m.Collect(context.Background(), "alice", "c1")
	if err != nil {
		t.Fatalf("Collect = %v, want empty list for dead shell", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs = %+v, want empty", jobs)
	}
}

func TestManagerCacheFencedByContainer(t *testing.T) {
	exec := &fakeExecer{pidFileContent: "42\n", snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	if _, err := m.EnsureShellPid(context.Background(), "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	probes := exec.probes

	// Different container id must bypass the cache.
	if _, err := m.EnsureShellPid(context.Background(), "alice", "c2"); err != nil {
		t.Fatal(err)
	}
	if exec.probes == probes {
		t.Error("new container should force a pid file re-read")
	}
}

func TestManagerNoShellFastPath(t *testing.T) {
	exec := &fakeExecer{pidFileMissing: true, snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	if _, err := m.Collect(context.Background(), "alice", "c1"); !errors.Is(err, ErrNoShell) {
		t.Errorf("Collect without pid file = %v, want ErrNoShell", err)
	}
	// Missing file ends the rediscovery probe on the first attempt.
	if exec.probes != 1 {
		t.Errorf("probed %d times, want 1", exec.probes)
	}
}

func TestStoreShellPidWaitsForFile(t *testing.T) {
	exec := &fakeExecer{pidFileMissing: true, snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	if _, err := m.StoreShellPid(context.Background(), "alice", "c1"); !errors.Is(err, ErrNoShell) {
		t.Fatalf("StoreShellPid = %v, want ErrNoShell after probing", err)
	}
	if exec.probes != 8 {
		t.Errorf("probed %d times, want all 8", exec.probes)
	}
}

func TestManagerForget(t *testing.T) {
	exec := &fakeExecer{pidFileContent: "42\n", snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())

	if _, err := m.EnsureShellPid(context.Background(), "alice", "c1"); err != nil {
		t.Fatal(err)
	}

	// Stale container id does not evict the newer entry.
	m.Forget("alice", "c0")
	probes := exec.probes
	if _, err := m.EnsureShellPid(context.Background(), "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if exec.probes != probes {
		t.Error("Forget with stale container id evicted a live entry")
	}

	m.Forget("alice", "c1")
	if _, err := m.EnsureShellPid(context.Background(), "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if exec.probes == probes {
		t.Error("Forget with matching container id should evict")
	}
}

func TestAuthorizeKill(t *testing.T) {
	exec := &fakeExecer{pidFileContent: "42\n", snapshot: sampleSnapshot}
	m := NewManager(exec, discardLogger())
	ctx := context.Background()

	sig, err := m.AuthorizeKill(ctx, "alice", "c1", 50, "sigterm")
	if err != nil || sig != "TERM" {
		t.Errorf("AuthorizeKill(50, sigterm) = %q, %v", sig, err)
	}

	// Hidden nested shell is not in the job list, so not a kill target.
	if _, err := m.AuthorizeKill(ctx, "alice", "c1", 51, "KILL"); !errors.Is(err, ErrProcessNotManaged) {
		t.Errorf("AuthorizeKill(hidden shell) = %v, want ErrProcessNotManaged", err)
	}
	if _, err := m.AuthorizeKill(ctx, "alice", "c1", 99, "TERM"); !errors.Is(err, ErrProcessNotManaged) {
		t.Errorf("AuthorizeKill(foreign pid) = %v, want ErrProcessNotManaged", err)
	}
	if _, err := m.AuthorizeKill(ctx, "alice", "c1", 50, "STOP"); !errors.Is(err, ErrUnsupportedSignal) {
		t.Errorf("AuthorizeKill(STOP) = %v, want ErrUnsupportedSignal", err)
	}
}
