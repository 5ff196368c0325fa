// Package ebpfnet implements the optional native TCP-retransmit sampler:
// when the kernel exposes BTF and CO-RE support, it attaches a kprobe on
// tcp_retransmit_skb via cilium/ebpf and reads a per-CPU counter map;
// otherwise it falls back to parsing /proc/net/netstat's TcpExt
// RetransSegs counter. Adapted from the teacher's internal/ebpf package
// (btf.go's kernel/BTF detection, loader.go's kprobe attach), narrowed
// from a general-purpose capability-diagnostic tool to one sampler's
// load-or-fallback decision.
package ebpfnet

import (
	"os"
	"strconv"
	"strings"
)

// Capability describes whether this host can run the native eBPF sampler.
type Capability struct {
	BTFAvailable  bool
	VmlinuxPath   string
	KernelMajor   int
	KernelMinor   int
	CORESupported bool // kernel >= 5.8
}

// Usable reports whether native loading should be attempted.
func (c Capability) Usable() bool { return c.BTFAvailable && c.CORESupported }

// Detect inspects /sys/kernel/btf/vmlinux and the running kernel version.
func Detect() Capability {
	var cap Capability

	version := readProcVersion()
	cap.KernelMajor, cap.KernelMinor = parseKernelVersion(version)
	if cap.KernelMajor > 5 || (cap.KernelMajor == 5 && cap.KernelMinor >= 8) {
		cap.CORESupported = true
	}

	const btfPath = "/sys/kernel/btf/vmlinux"
	if _, err := os.Stat(btfPath); err == nil {
		cap.BTFAvailable = true
		cap.VmlinuxPath = btfPath
	}

	return cap
}

func readProcVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 3 {
		return fields[2]
	}
	return ""
}

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}
