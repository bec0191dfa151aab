//go:build !linux

package eal

import (
	"fmt"
	"runtime"
)

// DefaultMeminfoPath is unused outside Linux
const DefaultMeminfoPath = ""

// HugepageInfo describes the hugepage pool of the host
type HugepageInfo struct {
	Available      bool   `json:"available"`
	TotalKB        int64  `json:"totalKB"`
	FreeKB         int64  `json:"freeKB"`
	HugepageSize   string `json:"hugepageSize"`
	SystemPageSize int    `json:"systemPageSize"`
}

// DetectHugepages returns an error on non-Linux platforms
func DetectHugepages() (*HugepageInfo, error) {
	return nil, fmt.Errorf("hugepages are not supported on %s", runtime.GOOS)
}

// DetectHugepagesFrom returns an error on non-Linux platforms
func DetectHugepagesFrom(path string) (*HugepageInfo, error) {
	return DetectHugepages()
}
