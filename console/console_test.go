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

package console

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort hands out queued chunks; with nothing queued it behaves like a
// serial read timeout and returns 0, nil.
type fakePort struct {
	readErr    error
	timeoutErr error
	chunks     [][]byte
	timeout    time.Duration
	mu         sync.Mutex
	closed     bool
}

func (p *fakePort) push(chunks ...string) {
	p.mu.Lock()
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks[0] = p.chunks[0][n:]
		if len(p.chunks[0]) == 0 {
			p.chunks = p.chunks[1:]
		}
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return p.timeoutErr
}

func (p *fakePort) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks) == 0
}

type lineCollector struct {
	lines []string
	mu    sync.Mutex
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *lineCollector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestNew(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	m, err := New(port, "/dev/ttyUSB1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", m.Name())
	assert.Equal(t, readTimeout, port.timeout)

	_, err = New(&fakePort{timeoutErr: errors.New("unsupported")}, "x")
	require.Error(t, err)
}

func TestMonitor_Lines(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	port.push("LPC loader v1.2\r\n", "erasing", " sector 0\r", "\nprogram ok\n", "tail")
	m, err := New(port, "test")
	require.NoError(t, err)

	var got lineCollector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, got.add) }()

	require.Eventually(t, port.drained, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"LPC loader v1.2", "erasing sector 0", "program ok", "tail"}, got.get())
}

func TestMonitor_LongLineFlushed(t *testing.T) {
	t.Parallel()

	m := &Monitor{}
	var got lineCollector
	long := make([]byte, maxLineLength+10)
	for i := range long {
		long[i] = 'x'
	}
	m.feed(long, got.add)

	lines := got.get()
	require.Len(t, lines, 1)
	assert.Len(t, lines[0], maxLineLength+10)
}

func TestMonitor_CloseEndsRun(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	m, err := New(port, "test")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), func(string) {}) }()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestMonitor_ReadError(t *testing.T) {
	t.Parallel()

	broken := errors.New("device disconnected")
	m, err := New(&fakePort{readErr: broken}, "/dev/ttyACM0")
	require.NoError(t, err)

	err = m.Run(context.Background(), func(string) {})
	require.ErrorIs(t, err, broken)
	assert.Contains(t, err.Error(), "/dev/ttyACM0")
}
