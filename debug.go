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
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// debugEnabled controls whether debug lines reach the console. The session
// log, when open, receives them regardless.
var debugEnabled = false

var consoleLogger = newConsoleLogger(os.Stderr)

func init() {
	if os.Getenv("NXPDFU_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

func newConsoleLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05.000",
	}
	return zerolog.New(output).With().Timestamp().Str("component", "nxpdfu").Logger()
}

// SetDebugOutput redirects console debug output, mainly for tests.
func SetDebugOutput(w io.Writer) {
	consoleLogger = newConsoleLogger(w)
}

func logDebug(message string) {
	if sessionLogger != nil {
		sessionLogger.Debug().Time("t", time.Now()).Msg(message)
	}
	if debugEnabled {
		consoleLogger.Debug().Msg(message)
	}
}

// Debugf logs a formatted debug line.
func Debugf(format string, args ...any) {
	logDebug(fmt.Sprintf(format, args...))
}

// Debugln logs its operands separated by spaces.
func Debugln(args ...any) {
	logDebug(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled
}
