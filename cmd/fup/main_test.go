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

package main

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nxpdfu"
)

func TestMainWithExitCode_Usage(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, mainWithExitCode([]string{"-s", "loader.bin"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "both -s and -b are required")

	stderr.Reset()
	assert.Equal(t, exitOK, mainWithExitCode([]string{"-help"}, &stdout, &stderr))
}

func TestMainWithExitCode_MissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := mainWithExitCode([]string{
		"-s", filepath.Join(dir, "nope.bin"),
		"-b", filepath.Join(dir, "app.bin"),
	}, &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr.String(), "open secondary loader")
}

func TestDescribeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("phase 1: %w", nxpdfu.ErrMultipleDevices), want: "only ONE device"},
		{err: fmt.Errorf("phase 2: %w", nxpdfu.ErrDeviceNotFound), want: "No device is connected"},
		{err: &nxpdfu.VerificationError{Size: 4}, want: "secondary loader"},
		{err: errors.New("plain"), want: "plain"},
	}
	for _, tt := range tests {
		assert.Contains(t, describeError(tt.err), tt.want)
	}
}

func TestProgressPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &progressPrinter{out: &out}

	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseSecondary, Done: 2048})
	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseReconnect})
	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseProgram, Done: 0, Total: 1000})
	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseProgram, Done: 50, Total: 1000})
	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseProgram, Done: 500, Total: 1000})
	p.report(nxpdfu.Progress{Phase: nxpdfu.PhaseProgram, Done: 1000, Total: 1000})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 6)
	assert.Equal(t, "Phase: secondary loader", string(lines[0]))
	assert.Contains(t, string(lines[1]), "Waiting for the secondary loader")
	assert.Equal(t, "Phase: program", string(lines[2]))
	assert.Contains(t, string(lines[3]), "0/1000 bytes (0%)")
	assert.Contains(t, string(lines[4]), "500/1000 bytes (50%)")
	assert.Contains(t, string(lines[5]), "(100%)")
}
