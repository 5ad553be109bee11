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

// Package detection finds NXP devices sitting in USB DFU mode. Transport
// specific detectors register themselves on import; detection/usb provides
// the libusb one.
package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - VID:PID matched but descriptors could not be read
	Low Confidence = iota
	// Medium confidence - VID:PID matched, no DFU interface seen
	Medium
	// High confidence - VID:PID matched and a DFU interface is present
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected device
type DeviceInfo struct {
	// Additional metadata (e.g., "vidpid", "serial")
	Metadata map[string]string
	// Transport type, e.g. "usb"
	Transport string
	// Connection path in "bus:address" form
	Path string
	// Human-readable device name
	Name string
	// Bus number and device address
	Bus     int
	Address int
	// USB IDs
	VendorID  uint16
	ProductID uint16
	// Detection confidence level
	Confidence Confidence
}

// VIDPID returns the USB IDs in "VVVV:PPPP" form.
func (d DeviceInfo) VIDPID() string {
	return FormatVIDPID(d.VendorID, d.ProductID)
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device %s at %s (confidence: %s)", d.Transport, d.VIDPID(), d.Path, d.Confidence)
}

// FormatVIDPID formats USB IDs as "VVVV:PPPP".
func FormatVIDPID(vid, pid uint16) string {
	return fmt.Sprintf("%04X:%04X", vid, pid)
}

// DefaultMatch is the VID:PID an LPC part enumerates with in USB DFU boot mode.
const DefaultMatch = "1FC9:000C"

// Options configures the detection behavior
type Options struct {
	// VID:PID pairs to look for (empty = DefaultMatch)
	Match []string
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["1:4"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Enable result caching. Off by default: the target re-enumerates at a
	// new address between update phases.
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Match:     []string{DefaultMatch},
		Timeout:   5 * time.Second,
		Blocklist: DefaultBlocklist(),
		CacheTTL:  2 * time.Second,
	}
}

// IsMatched reports whether vidpid is one of the requested devices.
func (o *Options) IsMatched(vidpid string) bool {
	match := o.Match
	if len(match) == 0 {
		match = []string{DefaultMatch}
	}
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, m := range match {
		if strings.ToUpper(strings.TrimSpace(m)) == vidpid {
			return true
		}
	}
	return false
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no matching devices were detected
	ErrNoDevicesFound = errors.New("no NXP DFU devices found")
	// ErrMultipleDevices indicates more than one candidate was detected
	ErrMultipleDevices = errors.New("more than one NXP DFU device found, connect only one")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform indicates the platform doesn't support this detection method
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

// registry holds all registered detectors
var registry []Detector

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

// getDetectors returns detectors filtered by transport types
func getDetectors(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}

	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every selected detector in parallel and merges the results.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, detector := range detectors {
		go func(d Detector) {
			results <- runSingleDetector(ctx, d, opts)
		}(detector)
	}
	return collectDetectionResults(ctx, results, len(detectors))
}

// Single returns the one matching device. Zero or several candidates are
// both errors; flashing the wrong board is worse than flashing none.
func Single(ctx context.Context, opts *Options) (DeviceInfo, error) {
	devices, err := DetectAll(ctx, opts)
	if err != nil {
		return DeviceInfo{}, err
	}
	switch len(devices) {
	case 0:
		return DeviceInfo{}, ErrNoDevicesFound
	case 1:
		return devices[0], nil
	default:
		paths := make([]string, len(devices))
		for i, d := range devices {
			paths[i] = d.Path
		}
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrMultipleDevices, strings.Join(paths, ", "))
	}
}

// runSingleDetector performs detection for a single detector
func runSingleDetector(ctx context.Context, detector Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, found := getCached(detector.Transport(), opts.CacheTTL); found {
			// cached results bypassed Detect, so filter them again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := detector.Detect(ctx, opts)
	if err != nil && ctx.Err() != nil {
		return detectionResult{err: ErrDetectionTimeout}
	}
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}
	devices = filterDevices(devices, opts)

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(detector.Transport(), devices)
		} else {
			clearCacheForTransport(detector.Transport())
		}
	}

	return detectionResult{devices: devices}
}

// collectDetectionResults gathers results from all detector goroutines
func collectDetectionResults(
	ctx context.Context,
	results chan detectionResult,
	numDetectors int,
) ([]DeviceInfo, error) {
	var allDevices []DeviceInfo
	var errs []error

	for range numDetectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				allDevices = append(allDevices, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(allDevices) > 0 {
		return allDevices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

// filterDevices applies Match, IgnorePaths and Blocklist to a device list.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	var filtered []DeviceInfo
	for _, device := range devices {
		vidpid := device.VIDPID()
		if !opts.IsMatched(vidpid) {
			continue
		}
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
