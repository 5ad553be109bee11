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
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ZaparooProject/go-nxpdfu"
	"github.com/ZaparooProject/go-nxpdfu/console"
	"github.com/ZaparooProject/go-nxpdfu/detection"
)

var errUsage = errors.New("usage")

type config struct {
	execute        *uint32
	secondary      string
	image          string
	device         string
	logDir         string
	console        string
	ispPin         string
	resetPin       string
	match          []string
	consoleBaud    int
	verifyAttempts int
	settleDelay    time.Duration
	verbose        bool
	debug          bool
}

func defaultConfig() config {
	return config{
		match:          []string{detection.DefaultMatch},
		consoleBaud:    console.DefaultBaudRate,
		verifyAttempts: nxpdfu.DefaultVerifyAttempts,
		settleDelay:    nxpdfu.DefaultSettleDelay,
	}
}

// fileConfig is the TOML layout of -config. Every key is optional; flags
// given on the command line win over the file.
type fileConfig struct {
	SecondaryLoader string   `toml:"secondary_loader"`
	Image           string   `toml:"image"`
	Device          string   `toml:"device"`
	Match           []string `toml:"match"`
	LogDir          string   `toml:"log_dir"`
	Console         string   `toml:"console"`
	ConsoleBaud     int      `toml:"console_baud"`
	ISPPin          string   `toml:"isp_pin"`
	ResetPin        string   `toml:"reset_pin"`
	Execute         string   `toml:"execute"`
	SettleDelay     string   `toml:"settle_delay"`
	VerifyAttempts  int      `toml:"verify_attempts"`
	Verbose         bool     `toml:"verbose"`
	Debug           bool     `toml:"debug"`
}

func loadConfigFile(path string, cfg *config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("secondary_loader") {
		cfg.secondary = strings.TrimSpace(raw.SecondaryLoader)
	}
	if meta.IsDefined("image") {
		cfg.image = strings.TrimSpace(raw.Image)
	}
	if meta.IsDefined("device") {
		cfg.device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("match") {
		cfg.match = normalizeMatch(raw.Match)
	}
	if meta.IsDefined("log_dir") {
		cfg.logDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("console") {
		cfg.console = strings.TrimSpace(raw.Console)
	}
	if meta.IsDefined("console_baud") {
		cfg.consoleBaud = raw.ConsoleBaud
	}
	if meta.IsDefined("isp_pin") {
		cfg.ispPin = strings.TrimSpace(raw.ISPPin)
	}
	if meta.IsDefined("reset_pin") {
		cfg.resetPin = strings.TrimSpace(raw.ResetPin)
	}
	if meta.IsDefined("execute") {
		addr, err := parseAddress(raw.Execute)
		if err != nil {
			return fmt.Errorf("parse execute: %w", err)
		}
		cfg.execute = &addr
	}
	if meta.IsDefined("settle_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SettleDelay))
		if err != nil {
			return fmt.Errorf("parse settle_delay: %w", err)
		}
		cfg.settleDelay = d
	}
	if meta.IsDefined("verify_attempts") {
		cfg.verifyAttempts = raw.VerifyAttempts
	}
	if meta.IsDefined("verbose") {
		cfg.verbose = raw.Verbose
	}
	if meta.IsDefined("debug") {
		cfg.debug = raw.Debug
	}
	return nil
}

// parseArgs builds the run configuration from defaults, the optional config
// file and the flags that were actually given, in that order.
func parseArgs(args []string, stderr io.Writer) (config, error) {
	fs := flag.NewFlagSet("fup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: fup -s secloader -b bin [OPTIONS]")
		_, _ = fmt.Fprintln(stderr, "Do a USB-DFU firmware update of an NXP Cortex-M processor")
		_, _ = fmt.Fprintln(stderr)
		_, _ = fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	var (
		secondary, image, device, logDir string
		consolePort, ispPin, resetPin    string
		configPath, execute, match       string
		verifyAttempts                   int
		settleDelay                      time.Duration
		verbose, debug                   bool
	)
	fs.StringVar(&secondary, "s", "", "filename of the secondary loader")
	fs.StringVar(&image, "b", "", "filename of the bin flash image")
	fs.BoolVar(&verbose, "v", false, "tell me what's happening during the update")
	fs.BoolVar(&debug, "d", false, "more debugging output (implies -v)")
	fs.StringVar(&configPath, "config", "", "TOML config file")
	fs.StringVar(&device, "device", "", "USB device as bus:address (auto-detect if empty)")
	fs.StringVar(&match, "match", detection.DefaultMatch, "comma separated VID:PID list for auto-detection")
	fs.StringVar(&logDir, "log", "", "directory for a session log file")
	fs.StringVar(&consolePort, "console", "", "serial port of the target debug console")
	fs.StringVar(&ispPin, "isp-pin", "", "GPIO driving the target ISP line")
	fs.StringVar(&resetPin, "reset-pin", "", "GPIO driving the target RESET line")
	fs.StringVar(&execute, "execute", "", "start code at this address instead of resetting")
	fs.IntVar(&verifyAttempts, "verify-attempts", nxpdfu.DefaultVerifyAttempts,
		"erase/program/verify passes before giving up")
	fs.DurationVar(&settleDelay, "settle", nxpdfu.DefaultSettleDelay, "wait between the two update phases")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return config{}, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	cfg := defaultConfig()
	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return config{}, err
		}
	}

	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			cfg.secondary = secondary
		case "b":
			cfg.image = image
		case "v":
			cfg.verbose = verbose
		case "d":
			cfg.debug = debug
		case "device":
			cfg.device = device
		case "match":
			cfg.match = normalizeMatch(strings.Split(match, ","))
		case "log":
			cfg.logDir = logDir
		case "console":
			cfg.console = consolePort
		case "isp-pin":
			cfg.ispPin = ispPin
		case "reset-pin":
			cfg.resetPin = resetPin
		case "execute":
			addr, err := parseAddress(execute)
			if err != nil {
				visitErr = fmt.Errorf("parse -execute: %w", err)
				return
			}
			cfg.execute = &addr
		case "verify-attempts":
			cfg.verifyAttempts = verifyAttempts
		case "settle":
			cfg.settleDelay = settleDelay
		}
	})
	if visitErr != nil {
		return config{}, visitErr
	}

	if cfg.debug {
		cfg.verbose = true
	}
	if err := cfg.validate(); err != nil {
		fs.Usage()
		return config{}, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch {
	case c.secondary == "" || c.image == "":
		return fmt.Errorf("%w: both -s and -b are required", errUsage)
	case (c.ispPin == "") != (c.resetPin == ""):
		return fmt.Errorf("%w: -isp-pin and -reset-pin go together", errUsage)
	case c.verifyAttempts < 1:
		return fmt.Errorf("%w: -verify-attempts must be at least 1", errUsage)
	case c.settleDelay < 0:
		return fmt.Errorf("%w: -settle must not be negative", errUsage)
	}
	return nil
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func normalizeMatch(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if v := strings.ToUpper(strings.TrimSpace(m)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
