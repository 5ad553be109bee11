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

// Package console follows the target's debug UART while it is being
// flashed. The secondary loader and the freshly programmed firmware both
// print there, which is often the only clue when a phase fails.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-nxpdfu"
	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

const (
	// DefaultBaudRate matches the NXP loaders' debug output.
	DefaultBaudRate = 115200
	// readTimeout bounds each blocking read so Run notices cancellation.
	readTimeout = 100 * time.Millisecond
	// maxLineLength flushes a line that never sees a newline.
	maxLineLength = 512
)

// Port is the part of serial.Port the monitor uses.
type Port interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// LineFunc receives one line of console output without its line ending.
type LineFunc func(line string)

// Monitor reads lines from a target console.
type Monitor struct {
	port    Port
	name    string
	partial []byte
	mu      syncutil.Mutex
	closed  bool
}

// Open opens the serial port at baud, 8N1.
func Open(name string, baud int) (*Monitor, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console port %s: %w", name, err)
	}
	m, err := New(port, name)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return m, nil
}

// New wraps an already open port.
func New(port Port, name string) (*Monitor, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set console read timeout: %w", err)
	}
	return &Monitor{port: port, name: name}, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Name returns the port name.
func (m *Monitor) Name() string {
	return m.name
}

// Run reads until ctx ends or the port fails, calling fn for every complete
// line. A partial line is flushed on return.
func (m *Monitor) Run(ctx context.Context, fn LineFunc) error {
	buf := make([]byte, 256)
	defer m.flush(fn)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := m.port.Read(buf)
		if n > 0 {
			m.feed(buf[:n], fn)
		}
		if err != nil {
			if m.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("console %s: %w", m.name, err)
		}
		if n == 0 && m.isClosed() {
			return nil
		}
	}
}

func (m *Monitor) feed(data []byte, fn LineFunc) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			m.partial = append(m.partial, data...)
			if len(m.partial) >= maxLineLength {
				m.flush(fn)
			}
			return
		}
		m.partial = append(m.partial, data[:i]...)
		m.flush(fn)
		data = data[i+1:]
	}
}

func (m *Monitor) flush(fn LineFunc) {
	if len(m.partial) == 0 {
		return
	}
	line := string(bytes.TrimRight(m.partial, "\r"))
	m.partial = m.partial[:0]
	fn(line)
}

func (m *Monitor) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close closes the port, which ends Run.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.port.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close console %s: %w", m.name, err)
	}
	return nil
}

// DebugLines returns a LineFunc that writes each line to the nxpdfu debug log.
func DebugLines(prefix string) LineFunc {
	return func(line string) {
		nxpdfu.Debugf("%s%s", prefix, line)
	}
}
