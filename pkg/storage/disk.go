// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsage of the filesystem holding a path, in bytes.
type DiskUsage struct {
	Total   uint64
	Free    uint64
	Percent int
}

// Formatted returns free space in human readable form.
func (d DiskUsage) Formatted() string {
	return humanize.Bytes(d.Free)
}

type usageFunc func(string) (*disk.UsageStat, error)

// DiskFree returns usage of the filesystem holding path.
// If path does not exist the closest existing parent is used.
func DiskFree(path string) (DiskUsage, error) {
	return diskFree(disk.Usage, path)
}

func diskFree(usage usageFunc, path string) (DiskUsage, error) {
	dir, err := existingParent(path)
	if err != nil {
		return DiskUsage{}, err
	}

	stat, err := usage(dir)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage %v: %w", dir, err)
	}
	return DiskUsage{
		Total:   stat.Total,
		Free:    stat.Free,
		Percent: int(stat.UsedPercent),
	}, nil
}

func existingParent(path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no existing parent: %w", os.ErrNotExist)
		}
		path = parent
	}
}

// Shortfall returns how many bytes are missing to store
// required bytes, zero if there is enough free space.
func (d DiskUsage) Shortfall(required uint64) uint64 {
	if required <= d.Free {
		return 0
	}
	return required - d.Free
}
