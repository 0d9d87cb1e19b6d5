// Package jobs introspects the process tree inside a user's container. The
// shell started by the terminal writes its pid to a marker file; everything
// descending from that pid is the user's job list.
package jobs

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNoShell            = errors.New("no active shell for user")
	ErrProcessNotManaged  = errors.New("process does not belong to user session")
	ErrUnsupportedSignal  = errors.New("unsupported signal")
	ErrSnapshotUnreadable = errors.New("failed to read process snapshot")
)

// SnapshotCommand is the ps invocation executed inside the container. A
// single snapshot serves one job listing, there is no resident agent.
var SnapshotCommand = []string{"ps", "-eo", "pid,ppid,pcpu,pmem,etimes,cmd", "--no-headers"}

// baseShells are the idle interactive shell commands hidden from the job
// list so the user's own terminal does not show up as a runaway job.
var baseShells = map[string]bool{
	"bash":      true,
	"/bin/bash": true,
	"sh":        true,
	"/bin/sh":   true,
}

type Proc struct {
	PID        int
	PPID       int
	CPUPercent float64
	MemPercent float64
	Elapsed    int64
	Command    string
}

type Job struct {
	PID        int     `json:"pid"`
	Command    string  `json:"command"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Elapsed    int64   `json:"elapsed_seconds"`
}

// Snapshot is a parsed ps listing indexed for descendant walks.
type Snapshot struct {
	procs    map[int]Proc
	children map[int][]int
}

// ParseSnapshot turns raw ps output into a Snapshot. Malformed lines are
// dropped rather than failing the whole listing.
func ParseSnapshot(raw string) *Snapshot {
	snap := &Snapshot{
		procs:    make(map[int]Proc),
		children: make(map[int][]int),
	}
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpu := parsePercent(fields[2])
		mem := parsePercent(fields[3])
		elapsed, _ := strconv.ParseInt(fields[4], 10, 64)
		proc := Proc{
			PID:        pid,
			PPID:       ppid,
			CPUPercent: cpu,
			MemPercent: mem,
			Elapsed:    elapsed,
			Command:    strings.Join(fields[5:], " "),
		}
		snap.procs[pid] = proc
		snap.children[ppid] = append(snap.children[ppid], pid)
	}
	return snap
}

// parsePercent reads a ps pcpu/pmem field. Some container setups emit "nan"
// there; NaN and Inf are not JSON-encodable, so they are reported as zero.
func parsePercent(field string) float64 {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Alive reports whether pid appeared in the snapshot.
func (s *Snapshot) Alive(pid int) bool {
	_, ok := s.procs[pid]
	return ok
}

// JobsFor derives the user's job list from the shell pid. The shell row is
// hidden while it is an idle interactive shell, and reported with a
// " (shell)" suffix once exec has replaced it with a foreground program. A
// shell missing from the snapshot yields an empty list, not an error.
// Descendants are walked breadth-first; nested plain shells stay hidden but
// their children remain visible.
func (s *Snapshot) JobsFor(shellPid int) []Job {
	jobs := []Job{}
	if shell, ok := s.procs[shellPid]; ok && !baseShells[shell.Command] {
		jobs = append(jobs, Job{
			PID:        shell.PID,
			Command:    shell.Command + " (shell)",
			CPUPercent: shell.CPUPercent,
			MemPercent: shell.MemPercent,
			Elapsed:    shell.Elapsed,
		})
	}

	queue := append([]int(nil), s.children[shellPid]...)
	seen := map[int]bool{shellPid: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		proc, ok := s.procs[pid]
		if !ok {
			continue
		}
		queue = append(queue, s.children[pid]...)
		if baseShells[proc.Command] {
			continue
		}
		jobs = append(jobs, Job{
			PID:        proc.PID,
			Command:    proc.Command,
			CPUPercent: proc.CPUPercent,
			MemPercent: proc.MemPercent,
			Elapsed:    proc.Elapsed,
		})
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].PID < jobs[j].PID })
	return jobs
}

// allowedSignals is the kill allow-list. Anything else is rejected before a
// container exec happens.
var allowedSignals = map[string]bool{
	"TERM": true,
	"KILL": true,
	"INT":  true,
	"HUP":  true,
}

// NormalizeSignal validates and canonicalizes a requested signal name,
// accepting an optional SIG prefix in any case.
func NormalizeSignal(sig string) (string, error) {
	name := strings.ToUpper(strings.TrimSpace(sig))
	name = strings.TrimPrefix(name, "SIG")
	if !allowedSignals[name] {
		return "", ErrUnsupportedSignal
	}
	return name, nil
}
