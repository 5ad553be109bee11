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

// Command fup updates the firmware of an NXP Cortex-M part over USB DFU.
//
// Phase 1 downloads a secondary loader into the boot ROM; phase 2 talks to
// that loader to erase, program and verify the main image, then resets the
// target.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/go-nxpdfu"
	"github.com/ZaparooProject/go-nxpdfu/bootmode"
	"github.com/ZaparooProject/go-nxpdfu/console"
	"github.com/ZaparooProject/go-nxpdfu/detection"
	_ "github.com/ZaparooProject/go-nxpdfu/detection/usb"
	"github.com/ZaparooProject/go-nxpdfu/transport/usb"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// newTransport opens the device at a bus:address path.
func newTransport(path string) (nxpdfu.Transport, error) {
	t, err := usb.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device %s: %w", path, err)
	}
	return t, nil
}

// newTransportFromDevice opens an auto-detected device.
func newTransportFromDevice(device detection.DeviceInfo) (nxpdfu.Transport, error) {
	t, err := usb.NewFromDevice(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device %s: %w", device.Path, err)
	}
	return t, nil
}

func connectOptions(cfg *config) []nxpdfu.ConnectOption {
	if cfg.device != "" {
		return []nxpdfu.ConnectOption{nxpdfu.WithTransportFactory(newTransport)}
	}
	opts := detection.DefaultOptions()
	opts.Match = cfg.match
	opts.Transports = []string{"usb"}
	return []nxpdfu.ConnectOption{
		nxpdfu.WithAutoDetection(),
		nxpdfu.WithDetectionOptions(opts),
		nxpdfu.WithTransportFromDeviceFactory(newTransportFromDevice),
	}
}

// progressPrinter prints one line per phase change and per 10% step.
type progressPrinter struct {
	out     io.Writer
	phase   nxpdfu.Phase
	percent int
	started bool
}

func (p *progressPrinter) report(pr nxpdfu.Progress) {
	if !p.started || pr.Phase != p.phase {
		p.started, p.phase, p.percent = true, pr.Phase, -1
		if pr.Phase == nxpdfu.PhaseReconnect {
			_, _ = fmt.Fprintln(p.out, "Waiting for the secondary loader to enumerate ...")
			return
		}
		_, _ = fmt.Fprintf(p.out, "Phase: %s\n", pr.Phase)
	}
	if pr.Total <= 0 {
		return
	}
	pct := pr.Done * 100 / pr.Total
	if p.percent < 0 || pct/10 != p.percent/10 {
		p.percent = pct
		_, _ = fmt.Fprintf(p.out, "  %s: %d/%d bytes (%d%%)\n", pr.Phase, pr.Done, pr.Total, pct)
	}
}

func startConsole(ctx context.Context, cfg *config, stderr io.Writer) (func(), error) {
	m, err := console.Open(cfg.console, cfg.consoleBaud)
	if err != nil {
		return nil, err
	}
	lines := console.DebugLines("target: ")
	if cfg.verbose {
		lines = func(line string) { _, _ = fmt.Fprintf(stderr, "[target] %s\n", line) }
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Run(ctx, lines); err != nil {
			nxpdfu.Debugf("console stopped: %v", err)
		}
	}()
	return func() {
		_ = m.Close()
		<-done
	}, nil
}

func enterBootMode(ctx context.Context, cfg *config) (*bootmode.Jig, error) {
	jig, err := bootmode.Open(cfg.ispPin, cfg.resetPin, bootmode.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := jig.EnterISP(ctx); err != nil {
		_ = jig.Release()
		return nil, fmt.Errorf("enter ISP mode: %w", err)
	}
	return jig, nil
}

func run(ctx context.Context, cfg *config, stdout, stderr io.Writer) error {
	if cfg.logDir != "" {
		path, err := nxpdfu.InitSessionLog(cfg.logDir)
		if err != nil {
			return err
		}
		defer func() { _ = nxpdfu.CloseSessionLog() }()
		if cfg.verbose {
			_, _ = fmt.Fprintf(stdout, "Session log: %s\n", path)
		}
	}

	secondary, err := os.Open(cfg.secondary)
	if err != nil {
		return fmt.Errorf("open secondary loader: %w", err)
	}
	defer func() { _ = secondary.Close() }()
	image, err := os.Open(cfg.image)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = image.Close() }()

	if cfg.console != "" {
		stop, err := startConsole(ctx, cfg, stderr)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.ispPin != "" {
		jig, err := enterBootMode(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = jig.Release() }()
	}

	connector, err := nxpdfu.NewConnector(cfg.device, connectOptions(cfg)...)
	if err != nil {
		return err
	}

	opts := []nxpdfu.UpdateOption{
		nxpdfu.WithSettleDelay(cfg.settleDelay),
		nxpdfu.WithVerifyAttempts(cfg.verifyAttempts),
	}
	if cfg.verbose {
		p := &progressPrinter{out: stdout}
		opts = append(opts, nxpdfu.WithProgress(p.report))
	}
	if cfg.execute != nil {
		opts = append(opts, nxpdfu.WithExecute(*cfg.execute))
	}
	updater, err := nxpdfu.NewUpdater(connector, opts...)
	if err != nil {
		return err
	}

	if err := updater.Run(ctx, secondary, image); err != nil {
		return err
	}
	if cfg.verbose {
		_, _ = fmt.Fprintln(stdout, "Update complete")
	}
	return nil
}

// describeError adds a hint for the failures an operator can act on.
func describeError(err error) string {
	switch {
	case errors.Is(err, nxpdfu.ErrMultipleDevices):
		return fmt.Sprintf("%v\nMake sure only ONE device is connected to this machine!", err)
	case errors.Is(err, nxpdfu.ErrDeviceNotFound):
		return fmt.Sprintf("%v\nNo device is connected to this machine!", err)
	case errors.Is(err, nxpdfu.ErrVerificationMismatch):
		return fmt.Sprintf("%v\nThe target was left running the secondary loader.", err)
	}
	if te := nxpdfu.GetTrace(err); te != nil && nxpdfu.DebugEnabled() {
		return fmt.Sprintf("%v\n%s", err, te.FormatTrace())
	}
	return err.Error()
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "fup: %v\n", err)
		return exitUsage
	}
	if cfg.debug {
		nxpdfu.SetDebugEnabled(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, stdout, stderr); err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintln(stderr, "fup: interrupted")
			return exitFailed
		}
		_, _ = fmt.Fprintf(stderr, "fup: %s\n", describeError(err))
		return exitFailed
	}
	return exitOK
}
