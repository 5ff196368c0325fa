package ebpfnet

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/serversentry/agent/internal/sampler"
)

// Sampler reports network.tcp_retransmits ("tcp_retransmits", count in
// this tick's interval) as the delta of a native eBPF kprobe counter when
// the kernel supports BTF/CO-RE, falling back to the delta of
// /proc/net/netstat's TcpExt RetransSegs counter otherwise.
type Sampler struct {
	ProcRoot string
	Program  ProgramSpec

	mu       sync.Mutex
	loaded   *Loaded
	lastNet  uint64
	hasLast  bool
	now      func() time.Time
}

// New creates a Sampler, attempting native loading immediately; on
// failure it silently falls back to the procfs path (spec's samplers
// never refuse to start for an optional native path).
func New(procRoot string) *Sampler {
	s := &Sampler{ProcRoot: procRoot, Program: DefaultProgram, now: time.Now}
	if Detect().Usable() {
		if loaded, err := Load(s.Program); err == nil {
			s.loaded = loaded
		}
	}
	return s
}

func (s *Sampler) Name() string { return "network" }

// Close releases the native program, if loaded.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded != nil {
		return s.loaded.Close()
	}
	return nil
}

func (s *Sampler) Sample(ctx context.Context) ([]sampler.Reading, error) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()

	ts := s.now().Unix()

	if loaded != nil {
		count, err := loaded.Count()
		if err != nil {
			return nil, &sampler.Error{Plugin: s.Name(), Transient: true, Err: err}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		var delta uint64
		if s.hasLast && count >= s.lastNet {
			delta = count - s.lastNet
		}
		s.lastNet = count
		s.hasLast = true
		return []sampler.Reading{{Metric: "tcp_retransmits", Value: float64(delta), Timestamp: ts}}, nil
	}

	current, err := readRetransSegs(s.ProcRoot)
	if err != nil {
		return nil, &sampler.Error{Plugin: s.Name(), Transient: true, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var delta uint64
	if s.hasLast && current >= s.lastNet {
		delta = current - s.lastNet
	}
	s.lastNet = current
	s.hasLast = true

	return []sampler.Reading{{Metric: "tcp_retransmits", Value: float64(delta), Timestamp: ts}}, nil
}

// readRetransSegs parses /proc/net/netstat's "TcpExt" header/value line
// pair for the RetransSegs column.
func readRetransSegs(procRoot string) (uint64, error) {
	root := procRoot
	if root == "" {
		root = "/proc"
	}
	f, err := os.Open(root + "/net/netstat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var headerFields []string
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "TcpExt:" {
			continue
		}
		if headerFields == nil {
			headerFields = fields
			continue
		}
		for i, name := range headerFields {
			if name == "RetransSegs" && i < len(fields) {
				v, err := strconv.ParseUint(fields[i], 10, 64)
				return v, err
			}
		}
	}
	return 0, nil
}
