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
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math"
)

// VerifyResult holds the digests compared by Verify.
type VerifyResult struct {
	ImageDigest  []byte
	DeviceDigest []byte
	Size         int
	Address      uint32
}

// Match reports whether the device contents equal the image.
func (r VerifyResult) Match() bool {
	return bytes.Equal(r.ImageDigest, r.DeviceDigest)
}

// Err returns a *VerificationError for a mismatch, nil otherwise.
func (r VerifyResult) Err() error {
	if r.Match() {
		return nil
	}
	return &VerificationError{
		Address:      r.Address,
		Size:         r.Size,
		ImageDigest:  r.ImageDigest,
		DeviceDigest: r.DeviceDigest,
	}
}

// imageDigest hashes all of r from the start and returns the digest and length.
func imageDigest(r io.ReadSeeker) (digest []byte, size int64, err error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewind image: %w", err)
	}
	h := sha256.New()
	size, err = io.Copy(h, r)
	if err != nil {
		return nil, 0, fmt.Errorf("hash image: %w", err)
	}
	return h.Sum(nil), size, nil
}

// Verify reads back as many bytes as r holds from addr and compares digests.
// Reading back a different number of bytes than the image holds is a
// protocol violation, not a mismatch. An empty image matches without any
// transfer.
func (v *Vendor) Verify(ctx context.Context, r io.ReadSeeker, addr uint32) (VerifyResult, error) {
	want, size, err := imageDigest(r)
	if err != nil {
		return VerifyResult{}, err
	}
	if size > math.MaxUint32 {
		return VerifyResult{}, fmt.Errorf("%w: image is %d bytes", ErrSizeViolation, size)
	}

	if size == 0 {
		return VerifyResult{ImageDigest: want, DeviceDigest: want, Address: addr}, nil
	}

	data, err := v.ReadRegion(ctx, nil, addr, uint32(size))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("readback: %w", err)
	}
	if int64(len(data)) != size {
		return VerifyResult{}, fmt.Errorf("%w: read back %d bytes, expected %d",
			ErrProtocolViolation, len(data), size)
	}

	got := sha256.Sum256(data)
	res := VerifyResult{
		ImageDigest:  want,
		DeviceDigest: got[:],
		Size:         int(size),
		Address:      addr,
	}
	Debugf("verify: image %x, device %x", res.ImageDigest, res.DeviceDigest)
	return res, nil
}

// VerifyRead reports whether the flash at addr holds exactly the content of r.
func (v *Vendor) VerifyRead(ctx context.Context, r io.ReadSeeker, addr uint32) (bool, error) {
	res, err := v.Verify(ctx, r, addr)
	if err != nil {
		return false, err
	}
	return res.Match(), nil
}
