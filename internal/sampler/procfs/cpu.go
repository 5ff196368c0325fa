// Package procfs implements the built-in /proc-backed samplers (cpu,
// memory, disk, process). Grounded directly on the teacher's
// internal/collector/{cpu,memory,disk,process}.go two-point-delta
// sampling style, generalized from "one Result with many fields" to the
// spec's "one Reading per metric name" shape.
package procfs

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/serversentry/agent/internal/sampler"
)

// CPUSampler reports overall CPU utilization ("value", percent busy) and
// 1-minute load average ("load1") via two-point /proc/stat sampling.
type CPUSampler struct {
	ProcRoot string
	Interval time.Duration
	now      func() time.Time
}

// NewCPUSampler creates a CPUSampler rooted at procRoot (usually "/proc").
func NewCPUSampler(procRoot string) *CPUSampler {
	return &CPUSampler{ProcRoot: procRoot, Interval: time.Second, now: time.Now}
}

func (s *CPUSampler) Name() string { return "cpu" }

type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func (s *CPUSampler) Sample(ctx context.Context) ([]sampler.Reading, error) {
	before, err := s.readProcStat()
	if err != nil {
		return nil, &sampler.Error{Plugin: s.Name(), Transient: true, Err: err}
	}

	interval := s.Interval
	if interval == 0 {
		interval = time.Second
	}
	select {
	case <-time.After(interval):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	after, err := s.readProcStat()
	if err != nil {
		return nil, &sampler.Error{Plugin: s.Name(), Transient: true, Err: err}
	}

	totalDelta := float64(after.total() - before.total())
	var pct float64
	if totalDelta > 0 {
		idleDelta := float64(after.idle-before.idle) + float64(after.iowait-before.iowait)
		pct = 100 * (1 - idleDelta/totalDelta)
	}

	load1, _, _ := s.readLoadAvg()
	ts := s.now().Unix()

	return []sampler.Reading{
		{Metric: "value", Value: pct, Timestamp: ts},
		{Metric: "load1", Value: load1, Timestamp: ts},
	}, nil
}

func (s *CPUSampler) readProcStat() (cpuTimes, error) {
	f, err := os.Open(filepath.Join(s.ProcRoot, "stat"))
	if err != nil {
		return cpuTimes{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 9 && fields[0] == "cpu" {
			return parseCPULine(fields), nil
		}
	}
	return cpuTimes{}, nil
}

func parseCPULine(fields []string) cpuTimes {
	parse := func(idx int) uint64 {
		if idx >= len(fields) {
			return 0
		}
		v, _ := strconv.ParseUint(fields[idx], 10, 64)
		return v
	}
	return cpuTimes{
		user: parse(1), nice: parse(2), system: parse(3), idle: parse(4),
		iowait: parse(5), irq: parse(6), softirq: parse(7), steal: parse(8),
	}
}

func (s *CPUSampler) readLoadAvg() (float64, float64, float64) {
	data, err := os.ReadFile(filepath.Join(s.ProcRoot, "loadavg"))
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	la1, _ := strconv.ParseFloat(fields[0], 64)
	la5, _ := strconv.ParseFloat(fields[1], 64)
	la15, _ := strconv.ParseFloat(fields[2], 64)
	return la1, la5, la15
}
