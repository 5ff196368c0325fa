package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ParseOverride parses a plugin's key=value override file (spec §6
// "Recognized plugin options"), grounded on other_examples' octoreflex
// simple key=value style: one assignment per line, "#" comments, blank
// lines ignored.
func ParseOverride(plugin, content string) (PluginOverride, error) {
	var ov PluginOverride

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return ov, fmt.Errorf("%s:%d: expected key=value, got %q", plugin, lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applyOverrideKey(&ov, key, value); err != nil {
			return ov, fmt.Errorf("%s:%d: %w", plugin, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return ov, err
	}
	return ov, nil
}

func applyOverrideKey(ov *PluginOverride, key, value string) error {
	switch key {
	case "warning_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("warning_threshold: %w", err)
		}
		ov.WarningThreshold = &f
	case "critical_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("critical_threshold: %w", err)
		}
		ov.CriticalThreshold = &f
	case "check_interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("check_interval: %w", err)
		}
		ov.CheckIntervalSeconds = &n
	case "anomaly_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("anomaly_enabled: %w", err)
		}
		ov.AnomalyEnabled = &b
	case "anomaly_sensitivity":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("anomaly_sensitivity: %w", err)
		}
		ov.AnomalySensitivity = &f
	case "detect_trends":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("detect_trends: %w", err)
		}
		ov.DetectTrends = &b
	case "detect_spikes":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("detect_spikes: %w", err)
		}
		ov.DetectSpikes = &b
	case "memory_include_swap":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("memory_include_swap: %w", err)
		}
		ov.MemoryIncludeSwap = &b
	case "memory_include_buffers_cache":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("memory_include_buffers_cache: %w", err)
		}
		ov.MemoryIncludeBuffersCache = &b
	case "disk_monitored_paths":
		ov.DiskMonitoredPaths = splitList(value)
	case "disk_exclude_filesystems":
		ov.DiskExcludeFilesystems = splitList(value)
	case "disk_exclude_mount_points":
		ov.DiskExcludeMountPoints = splitList(value)
	case "process_monitored_processes":
		ov.ProcessMonitoredNames = splitList(value)
	case "process_require_all":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("process_require_all: %w", err)
		}
		ov.ProcessRequireAll = &b
	default:
		return fmt.Errorf("unrecognized option %q", key)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
