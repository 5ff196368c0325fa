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

// MemorySampler reports used-memory percentage ("value") from
// /proc/meminfo. Resolves the Open Question on the percentage formula:
// used% = 100 * (1 - MemAvailable/MemTotal) when the kernel exports
// MemAvailable (3.14+); otherwise falls back to
// 100 * (1 - (MemFree+Buffers+Cached)/MemTotal).
//
// IncludeBuffersCache and IncludeSwap adjust that formula per the
// memory_include_buffers_cache/memory_include_swap plugin options: by
// default reclaimable buffer/cache memory counts as free, and swap is
// ignored entirely.
type MemorySampler struct {
	ProcRoot            string
	IncludeBuffersCache bool
	IncludeSwap         bool
	now                 func() time.Time
}

// NewMemorySampler creates a MemorySampler rooted at procRoot.
func NewMemorySampler(procRoot string) *MemorySampler {
	return &MemorySampler{ProcRoot: procRoot, now: time.Now}
}

func (s *MemorySampler) Name() string { return "memory" }

func (s *MemorySampler) Sample(ctx context.Context) ([]sampler.Reading, error) {
	f, err := os.Open(filepath.Join(s.ProcRoot, "meminfo"))
	if err != nil {
		return nil, &sampler.Error{Plugin: s.Name(), Transient: true, Err: err}
	}
	defer f.Close()

	fields := map[string]float64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		valFields := strings.Fields(parts[1])
		if len(valFields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(valFields[0], 64)
		if err != nil {
			continue
		}
		fields[key] = v * 1024 // kB -> bytes
	}

	total := fields["MemTotal"]
	if total <= 0 {
		return nil, &sampler.Error{Plugin: s.Name(), Transient: false, Err: errMemTotalMissing{}}
	}

	var used float64
	if avail, ok := fields["MemAvailable"]; ok && !s.IncludeBuffersCache {
		used = total - avail
	} else {
		used = total - fields["MemFree"]
		if !s.IncludeBuffersCache {
			used -= fields["Buffers"] + fields["Cached"]
		}
	}

	if s.IncludeSwap {
		swapTotal := fields["SwapTotal"]
		swapUsed := swapTotal - fields["SwapFree"]
		total += swapTotal
		used += swapUsed
	}
	pct := 100 * used / total

	ts := s.now().Unix()
	return []sampler.Reading{{Metric: "value", Value: pct, Timestamp: ts}}, nil
}

type errMemTotalMissing struct{}

func (errMemTotalMissing) Error() string { return "meminfo: MemTotal missing or zero" }
