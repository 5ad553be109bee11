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
	"io"
	"time"
)

// Session owns one USB connection to the target: the transport handle, its
// interface binding and both protocol engines. The device re-enumerates
// between phases, so each phase runs on a fresh Session.
type Session struct {
	transport Transport
	dfu       *DFU
	vendor    *Vendor
	progress  ProgressFunc
}

// NewSession binds the DFU interface behind transport and builds the engines.
// The session takes ownership of transport.
func NewSession(ctx context.Context, transport Transport, opts ...Option) (*Session, error) {
	binding, err := BindInterface(ctx, transport, opts...)
	if err != nil {
		return nil, err
	}
	dfu, err := NewDFU(transport, binding, opts...)
	if err != nil {
		return nil, err
	}
	vendor, err := NewVendor(dfu, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{transport: transport, dfu: dfu, vendor: vendor}, nil
}

// DFU returns the class engine
func (s *Session) DFU() *DFU {
	return s.dfu
}

// Vendor returns the vendor protocol client
func (s *Session) Vendor() *Vendor {
	return s.vendor
}

// Binding returns the interface binding of this connection
func (s *Session) Binding() Binding {
	return s.dfu.Binding()
}

// SetProgress installs a progress callback for every phase run on s.
func (s *Session) SetProgress(fn ProgressFunc) {
	s.progress = fn
	s.vendor.SetProgress(fn)
}

func (s *Session) report(phase Phase, done, total int) {
	if s.progress != nil {
		s.progress(Progress{Phase: phase, Done: done, Total: total})
	}
}

// Close releases the transport
func (s *Session) Close() error {
	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// LoadSecondary downloads a secondary loader image with plain DFU and waits
// for manifestation to start. It returns the number of image bytes sent.
//
// The device usually drops off the bus once it has validated the image, so a
// failing GETSTATUS during the manifestation wait means it is gone and the
// phase succeeded.
func (s *Session) LoadSecondary(ctx context.Context, r io.Reader) (int, error) {
	if err := s.dfu.MakeIdle(ctx, false); err != nil {
		return 0, fmt.Errorf("prepare device: %w", err)
	}
	s.dfu.ResetTransaction()

	chunk := make([]byte, s.dfu.TransferSize())
	total := 0
	for {
		n, err := io.ReadFull(r, chunk)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return total, fmt.Errorf("read secondary loader: %w", err)
		}
		if n == 0 {
			break
		}
		if err := s.dfu.downloadFull(ctx, chunk[:n]); err != nil {
			return total, fmt.Errorf("download block at +0x%X: %w", total, err)
		}
		if err := s.dfu.WaitIdle(ctx); err != nil {
			return total, fmt.Errorf("download block at +0x%X: %w", total, err)
		}
		total += n
		Debugf("secondary loader: %d bytes sent", total)
		s.report(PhaseSecondary, total, 0)
	}

	if err := s.dfu.downloadFull(ctx, nil); err != nil {
		return total, fmt.Errorf("final block: %w", err)
	}
	return total, s.waitManifest(ctx)
}

func (s *Session) waitManifest(ctx context.Context) error {
	return poll(ctx, s.dfu.config.ManifestPoll, "manifest", func() (bool, time.Duration, error) {
		var st Status
		if err := s.dfu.GetStatus(ctx, &st); err != nil {
			if ctx.Err() != nil {
				return false, 0, ctx.Err()
			}
			Debugf("manifest: device left the bus: %v", err)
			return true, 0, nil
		}
		switch st.State {
		case StateManifestSync:
			return false, 0, nil
		case StateError:
			return false, 0, &DFUStatusError{Op: "manifest", Status: st}
		default:
			Debugf("manifest: %s", st)
			return true, 0, nil
		}
	})
}

// Program erases the flash, streams image to addr and reads it back. A
// mismatch returns *VerificationError and leaves the device un-reset so
// Program can be called again on the same session.
func (s *Session) Program(ctx context.Context, image io.ReadSeeker, addr uint32) error {
	size, err := imageSize(image)
	if err != nil {
		return err
	}

	s.report(PhaseErase, 0, 0)
	if err := s.vendor.EraseAll(ctx); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind image: %w", err)
	}
	sent, err := s.vendor.ProgramStream(ctx, image, addr, size)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	if sent != int(size) {
		Debugf("program: device stopped streaming after %d of %d bytes", sent, size)
	}

	res, err := s.vendor.Verify(ctx, image, addr)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return res.Err()
}

// FlashSettings controls the vendor phase run by Session.Flash.
type FlashSettings struct {
	// ExecuteAddress, when set, starts the image there instead of resetting.
	ExecuteAddress *uint32
	// VerifyAttempts is how many erase/program/verify passes are made
	// before a readback mismatch is reported. Values below 1 mean 1.
	VerifyAttempts int
	// BaseAddress is where the image is programmed.
	BaseAddress uint32
}

// FlashImage runs the vendor phase with one verify attempt, programming at
// address 0 and resetting the target afterwards.
func (s *Session) FlashImage(ctx context.Context, image io.ReadSeeker) error {
	return s.Flash(ctx, image, FlashSettings{VerifyAttempts: 1})
}

// Flash runs the whole vendor phase: debug off, then erase/program/verify
// passes until the readback matches or fs.VerifyAttempts is spent, then
// reset or execute. The device is never reset while the image is not
// verified.
func (s *Session) Flash(ctx context.Context, image io.ReadSeeker, fs FlashSettings) error {
	if err := s.vendor.SetDebug(ctx, 0, 0); err != nil {
		return fmt.Errorf("set debug: %w", err)
	}

	attempts := max(fs.VerifyAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := s.Program(ctx, image, fs.BaseAddress)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVerificationMismatch) || attempt >= attempts {
			return err
		}
		Debugf("verify attempt %d/%d failed: %v", attempt, attempts, err)
	}

	s.report(PhaseReset, 0, 0)
	if fs.ExecuteAddress != nil {
		return s.vendor.Execute(ctx, *fs.ExecuteAddress)
	}
	return s.vendor.Reset(ctx)
}

func imageSize(image io.Seeker) (uint32, error) {
	end, err := image.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("size image: %w", err)
	}
	if end > int64(^uint32(0)) {
		return 0, fmt.Errorf("%w: image is %d bytes", ErrSizeViolation, end)
	}
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind image: %w", err)
	}
	return uint32(end), nil
}
