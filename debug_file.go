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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Session log state
var (
	sessionLogFile *os.File
	sessionLogPath string
	sessionLogger  *zerolog.Logger
)

// InitSessionLog creates a JSON session log in dir (the current directory when
// empty). Every debug line is written there whether or not console debug
// output is enabled. Returns the log file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	if sessionLogFile != nil {
		return sessionLogPath, nil
	}

	filename := fmt.Sprintf("nxpdfu_%s.log", time.Now().Format("20060102_150405"))
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	logFile, err := os.Create(filename) //nolint:gosec // filename is constructed internally
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	logger := zerolog.New(logFile).Level(zerolog.DebugLevel)
	sessionLogFile = logFile
	sessionLogPath = filename
	sessionLogger = &logger

	writeSessionHeader(&logger)
	return filename, nil
}

// CloseSessionLog closes the current session log file.
func CloseSessionLog() error {
	if sessionLogFile == nil {
		return nil
	}
	sessionLogger.Info().Time("ended", time.Now()).Msg("session ended")

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogger = nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	return sessionLogPath
}

// writeSessionHeader records metadata about the run as the first event.
func writeSessionHeader(logger *zerolog.Logger) {
	event := logger.Info().
		Time("started", time.Now()).
		Int("pid", os.Getpid()).
		Str("os", runtime.GOOS+"/"+runtime.GOARCH).
		Str("go", runtime.Version()).
		Str("cmdline", strings.Join(os.Args, " "))
	if exe, err := os.Executable(); err == nil {
		event = event.Str("executable", exe)
	}
	event.Msg("nxpdfu session log")
}
