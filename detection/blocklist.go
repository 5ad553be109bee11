// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBlocklist returns USB devices that are never treated as targets even
// when they match. Format: VID:PID in hexadecimal (case-insensitive).
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked checks if a USB device is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))

	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// ParseVIDPID parses "1fc9:000c" or "0x1fc9:0x000c" into USB IDs.
func ParseVIDPID(s string) (vid, pid uint16, err error) {
	left, right, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid VID:PID %q", s)
	}
	v, err := parseID(left)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id in %q: %w", s, err)
	}
	p, err := parseID(right)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id in %q: %w", s, err)
	}
	return v, p, nil
}

func parseID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by ParseVIDPID
	}
	return uint16(n), nil
}

// IsPathIgnored checks if a device path should be ignored.
// Supports exact path matching and normalized path comparison.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath || normalizedDevice == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

// normalizedPath normalizes a device path for comparison. USB paths are
// "bus:address" and may carry leading zeros ("001:004").
func normalizedPath(path string) string {
	if bus, addr, ok := strings.Cut(path, ":"); ok {
		b, errB := strconv.Atoi(bus)
		a, errA := strconv.Atoi(addr)
		if errB == nil && errA == nil {
			return fmt.Sprintf("%d:%d", b, a)
		}
	}
	return strings.ToLower(filepath.Clean(path))
}
