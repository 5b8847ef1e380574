// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compress returns p DEFLATE-compressed at the default level.
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := fw.Write(p); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush deflate writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a DEFLATE stream produced by Compress.
func Decompress(p []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(p))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}
