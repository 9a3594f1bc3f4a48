// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4"
)

// lz4BlockSize fits a typical device tree in one or two blocks.
const lz4BlockSize = 64 << 10

// LZ4 implements Compressor for the LZ4 frame format. Frames it writes
// record the size of the device tree they hold.
type LZ4 struct{}

// Name returns the type of compression employed.
func (c *LZ4) Name() string {
	return "LZ4"
}

// Decode decodes an LZ4 frame and checks the recorded content size.
func (c *LZ4) Decode(encodedData []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(encodedData))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if r.Size != 0 && r.Size != uint64(len(out)) {
		return nil, fmt.Errorf("lz4 frame holds %d bytes, header says %d", len(out), r.Size)
	}
	return out, nil
}

// Encode writes decodedData as a single LZ4 frame.
func (c *LZ4) Encode(decodedData []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	w.Header = lz4.Header{
		BlockMaxSize:  lz4BlockSize,
		BlockChecksum: true,
		Size:          uint64(len(decodedData)),
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
