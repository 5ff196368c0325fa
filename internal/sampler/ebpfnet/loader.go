package ebpfnet

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// ProgramSpec describes the compiled kprobe program this sampler attaches.
type ProgramSpec struct {
	ObjectFile string // path to the compiled tcpretrans.o
	AttachTo   string // kprobe target function, "tcp_retransmit_skb"
	CounterMap string // name of the per-CPU counter map in the object
}

// DefaultProgram is the spec shipped for the retransmit counter.
var DefaultProgram = ProgramSpec{
	ObjectFile: "internal/sampler/ebpfnet/bpf/tcpretrans.o",
	AttachTo:   "tcp_retransmit_skb",
	CounterMap: "retrans_count",
}

// LoadError wraps a native program load failure.
type LoadError struct {
	Program string
	Err     error
}

func (e *LoadError) Error() string { return fmt.Sprintf("ebpfnet: load %q: %v", e.Program, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Loaded is a running kprobe program with its counter map attached.
type Loaded struct {
	collection *ebpf.Collection
	link       link.Link
	counterMap *ebpf.Map
}

// Close detaches the kprobe and releases the collection.
func (p *Loaded) Close() error {
	if p.link != nil {
		p.link.Close()
	}
	if p.collection != nil {
		p.collection.Close()
	}
	return nil
}

// Count reads the current value of the per-CPU counter map, summing
// across CPUs.
func (p *Loaded) Count() (uint64, error) {
	var perCPU []uint64
	if err := p.counterMap.Lookup(uint32(0), &perCPU); err != nil {
		return 0, fmt.Errorf("ebpfnet: read counter map: %w", err)
	}
	var total uint64
	for _, v := range perCPU {
		total += v
	}
	return total, nil
}

// Load attaches spec's kprobe program, returning a Loaded handle.
func Load(spec ProgramSpec) (*Loaded, error) {
	collSpec, err := ebpf.LoadCollectionSpec(spec.ObjectFile)
	if err != nil {
		return nil, &LoadError{Program: spec.AttachTo, Err: fmt.Errorf("load spec: %w", err)}
	}

	coll, err := ebpf.NewCollection(collSpec)
	if err != nil {
		return nil, &LoadError{Program: spec.AttachTo, Err: fmt.Errorf("load collection: %w", err)}
	}

	var prog *ebpf.Program
	for _, p := range coll.Programs {
		prog = p
		break
	}
	if prog == nil {
		coll.Close()
		return nil, &LoadError{Program: spec.AttachTo, Err: fmt.Errorf("no program in collection")}
	}

	kp, err := link.Kprobe(spec.AttachTo, prog, nil)
	if err != nil {
		coll.Close()
		return nil, &LoadError{Program: spec.AttachTo, Err: fmt.Errorf("attach kprobe: %w", err)}
	}

	counterMap, ok := coll.Maps[spec.CounterMap]
	if !ok {
		kp.Close()
		coll.Close()
		return nil, &LoadError{Program: spec.AttachTo, Err: fmt.Errorf("counter map %q not found", spec.CounterMap)}
	}

	return &Loaded{collection: coll, link: kp, counterMap: counterMap}, nil
}
