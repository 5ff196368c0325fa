package procfs

import (
	"context"
	"os"
	"testing"
)

func TestDiskSamplerReportsUsedPercentage(t *testing.T) {
	s := NewDiskSampler(t.TempDir())
	readings, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings) != 1 || readings[0].Metric != "value" {
		t.Fatalf("expected single value reading, got %+v", readings)
	}
	if readings[0].Value < 0 || readings[0].Value > 100 {
		t.Fatalf("expected used pct in [0,100], got %v", readings[0].Value)
	}
}

func TestDiskSamplerDefaultsToRoot(t *testing.T) {
	s := NewDiskSampler("")
	if s.MountPoint != "/" {
		t.Fatalf("expected default mount point '/', got %q", s.MountPoint)
	}
}

func TestDiskSamplerReportsOneReadingPerMonitoredPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	s := NewDiskSampler(a)
	s.MonitoredPaths = []string{b}

	readings, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %+v", readings)
	}
	if readings[0].Metric != "value" || readings[1].Metric != "value2" {
		t.Fatalf("expected metrics value, value2 in order, got %+v", readings)
	}
}

func TestDiskSamplerDeduplicatesMountPointAgainstMonitoredPaths(t *testing.T) {
	a := t.TempDir()
	s := NewDiskSampler(a)
	s.MonitoredPaths = []string{a}

	readings, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected duplicate path collapsed to 1 reading, got %+v", readings)
	}
}

func TestDiskSamplerExcludeMountPointsDropsPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	s := NewDiskSampler(a)
	s.MonitoredPaths = []string{b}
	s.ExcludeMountPoints = []string{b}

	readings, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings) != 1 || readings[0].Metric != "value" {
		t.Fatalf("expected excluded path dropped, got %+v", readings)
	}
}

func TestMountFilesystemsParsesProcMounts(t *testing.T) {
	dir := t.TempDir()
	mountsPath := dir + "/mounts"
	content := "proc /proc proc rw,nosuid 0 0\ntmpfs /tmp tmpfs rw 0 0\noverlay / overlay rw 0 0\n"
	if err := os.WriteFile(mountsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write mounts: %v", err)
	}

	fsByMount, err := mountFilesystems(dir)
	if err != nil {
		t.Fatalf("mountFilesystems: %v", err)
	}
	if fsByMount["/tmp"] != "tmpfs" {
		t.Fatalf("expected /tmp -> tmpfs, got %v", fsByMount)
	}
	if fsByMount["/"] != "overlay" {
		t.Fatalf("expected / -> overlay, got %v", fsByMount)
	}
}

func TestDiskSamplerExcludeFilesystemsDropsMatchingMount(t *testing.T) {
	procRoot := t.TempDir()
	monitored := t.TempDir()
	mountsPath := procRoot + "/mounts"
	content := "tmpfs " + monitored + " tmpfs rw 0 0\n"
	if err := os.WriteFile(mountsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write mounts: %v", err)
	}

	s := NewDiskSampler(t.TempDir())
	s.ProcRoot = procRoot
	s.MonitoredPaths = []string{monitored}
	s.ExcludeFilesystems = []string{"tmpfs"}

	readings, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(readings) != 1 || readings[0].Metric != "value" {
		t.Fatalf("expected tmpfs-mounted path excluded, got %+v", readings)
	}
}
