//go:build linux

package eal

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// DefaultMeminfoPath is where hugepage counters are read from
const DefaultMeminfoPath = "/proc/meminfo"

// HugepageInfo describes the hugepage pool of the host
type HugepageInfo struct {
	// Available indicates whether any hugepages are configured
	Available bool `json:"available"`

	// TotalKB is the total hugepage memory in KB
	TotalKB int64 `json:"totalKB"`

	// FreeKB is the free hugepage memory in KB
	FreeKB int64 `json:"freeKB"`

	// HugepageSize is the size of each hugepage (e.g., "2048kB")
	HugepageSize string `json:"hugepageSize"`

	// SystemPageSize is the regular page size in bytes
	SystemPageSize int `json:"systemPageSize"`
}

// DetectHugepages reads hugepage counters from DefaultMeminfoPath
func DetectHugepages() (*HugepageInfo, error) {
	return DetectHugepagesFrom(DefaultMeminfoPath)
}

// DetectHugepagesFrom reads hugepage counters from a meminfo-formatted file
//
// HugePages_Total and HugePages_Free are page counts; they are converted to
// KB using Hugepagesize.
//
// Returns:
//   - *HugepageInfo: Hugepage information
//   - error: Read error
func DetectHugepagesFrom(path string) (*HugepageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	info := &HugepageInfo{SystemPageSize: unix.Getpagesize()}
	var totalPages, freePages int64

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		key := strings.TrimSuffix(fields[0], ":")
		value, _ := strconv.ParseInt(fields[1], 10, 64)

		switch key {
		case "HugePages_Total":
			totalPages = value
		case "HugePages_Free":
			freePages = value
		case "Hugepagesize":
			if len(fields) >= 3 {
				info.HugepageSize = fields[1] + fields[2]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if info.HugepageSize != "" {
		sizeStr := strings.TrimSpace(strings.TrimSuffix(strings.ToLower(info.HugepageSize), "kb"))
		if pageKB, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			info.TotalKB = totalPages * pageKB
			info.FreeKB = freePages * pageKB
		}
	}
	info.Available = info.TotalKB > 0

	klog.V(2).Infof("Hugepages: available=%v total=%dKB free=%dKB size=%s",
		info.Available, info.TotalKB, info.FreeKB, info.HugepageSize)
	return info, nil
}
