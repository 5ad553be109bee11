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

package nxpdfu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/detection"
)

// TransportFactory is a function type for creating transports from a path
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// DeviceDetector finds exactly one candidate device.
type DeviceDetector func(ctx context.Context, opts *detection.Options) (detection.DeviceInfo, error)

// ConnectOption represents a functional option for Connect
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for device connection
type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         DeviceDetector
	detectionOptions       *detection.Options
	engineOptions          []Option
	timeout                time.Duration
	autoDetect             bool
	connectionRetries      int
}

// WithAutoDetection finds the device by VID:PID instead of using a path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDetectionOptions overrides the detection options used for auto-detection
func WithDetectionOptions(opts detection.Options) ConnectOption {
	return func(c *connectConfig) error {
		c.detectionOptions = &opts
		return nil
	}
}

// WithSessionOptions adds DFU engine options to the session Connect opens
func WithSessionOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.engineOptions = append(c.engineOptions, opts...)
		return nil
	}
}

// WithConnectTimeout bounds opening and binding the device
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector for auto-detection
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		timeout:           30 * time.Second,
		connectionRetries: 3,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

// OpenTransport opens the device at path, or the single auto-detected device.
//
// Example usage:
//
//	// Auto-detect the one NXP DFU device on the bus
//	t, err := nxpdfu.OpenTransport(ctx, "", nxpdfu.WithAutoDetection(),
//	    nxpdfu.WithTransportFromDeviceFactory(usb.NewFromDevice))
func OpenTransport(ctx context.Context, path string, opts ...ConnectOption) (Transport, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}
	return createTransport(ctx, path, config)
}

func createTransport(ctx context.Context, path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(ctx, config)
	}
	return createManualTransport(path, config.transportFactory)
}

// createManualTransport handles creation of transport for a specific path
func createManualTransport(path string, factory TransportFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}

	return transport, nil
}

// createAutoDetectedTransport requires exactly one candidate device.
func createAutoDetectedTransport(ctx context.Context, config *connectConfig) (Transport, error) {
	opts := detection.DefaultOptions()
	if config.detectionOptions != nil {
		opts = *config.detectionOptions
	}

	detector := config.deviceDetector
	if detector == nil {
		detector = detection.Single
	}

	device, err := detector(ctx, &opts)
	if err != nil {
		return nil, discoveryError(err)
	}
	Debugf("detected %s", device)

	if config.transportDeviceFactory == nil {
		return nil, errors.New("transport device factory not provided")
	}
	return config.transportDeviceFactory(device)
}

// discoveryError maps detection errors onto the root sentinels.
func discoveryError(err error) error {
	switch {
	case errors.Is(err, detection.ErrNoDevicesFound):
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	case errors.Is(err, detection.ErrMultipleDevices):
		return fmt.Errorf("%w: %w", ErrMultipleDevices, err)
	default:
		return fmt.Errorf("failed to detect devices: %w", err)
	}
}

// Connect opens the device and binds a Session on it. Binding is retried on
// transient transfer errors; the device often needs a moment after
// enumeration before it answers descriptor requests reliably.
func Connect(ctx context.Context, path string, opts ...ConnectOption) (*Session, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}
	if config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.timeout)
		defer cancel()
	}

	transport, err := createTransport(ctx, path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	retryConfig := &RetryConfig{
		MaxAttempts:       config.connectionRetries,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      10 * time.Second,
	}

	var session *Session
	err = RetryWithConfig(ctx, retryConfig, func() error {
		var err error
		session, err = NewSession(ctx, transport, config.engineOptions...)
		return err
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to bind device after %d attempts: %w", config.connectionRetries, err)
	}
	return session, nil
}

// NewConnector returns a Connector for an Updater that opens path, or the
// auto-detected device, every time it is called.
func NewConnector(path string, opts ...ConnectOption) (Connector, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Transport, error) {
		return createTransport(ctx, path, config)
	}, nil
}
