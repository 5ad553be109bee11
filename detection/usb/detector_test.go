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

package usb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nxpdfu/detection"
)

func fakeEnumerator(descs []deviceDesc, err error) func(context.Context) ([]deviceDesc, error) {
	return func(context.Context) ([]deviceDesc, error) {
		return descs, err
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	bus := []deviceDesc{
		{bus: 1, address: 2, vendorID: 0x046D, productID: 0xC52B},
		{bus: 1, address: 7, vendorID: 0x1FC9, productID: 0x000C, hasDFU: true},
		{bus: 2, address: 3, vendorID: 0x1FC9, productID: 0x000C},
	}

	t.Run("Default_Match", func(t *testing.T) {
		t.Parallel()

		d := &detector{enumerate: fakeEnumerator(bus, nil)}
		opts := detection.DefaultOptions()
		devices, err := d.Detect(context.Background(), &opts)
		require.NoError(t, err)
		require.Len(t, devices, 2)

		assert.Equal(t, "1:7", devices[0].Path)
		assert.Equal(t, detection.High, devices[0].Confidence)
		assert.Equal(t, "1FC9:000C", devices[0].Metadata["vidpid"])
		assert.Equal(t, "usb", devices[0].Transport)

		assert.Equal(t, "2:3", devices[1].Path)
		assert.Equal(t, detection.Medium, devices[1].Confidence)
	})

	t.Run("Custom_Match", func(t *testing.T) {
		t.Parallel()

		d := &detector{enumerate: fakeEnumerator(bus, nil)}
		opts := detection.Options{Match: []string{"046d:c52b"}}
		devices, err := d.Detect(context.Background(), &opts)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "1:2", devices[0].Path)
	})

	t.Run("No_Match", func(t *testing.T) {
		t.Parallel()

		d := &detector{enumerate: fakeEnumerator(bus[:1], nil)}
		opts := detection.DefaultOptions()
		_, err := d.Detect(context.Background(), &opts)
		require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	})

	t.Run("Enumeration_Error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("libusb unavailable")
		d := &detector{enumerate: fakeEnumerator(nil, boom)}
		opts := detection.DefaultOptions()
		_, err := d.Detect(context.Background(), &opts)
		require.ErrorIs(t, err, boom)
	})
}

func TestTransport(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "usb", New().Transport())
}
