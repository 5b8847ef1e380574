// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package wire implements the ARMT report encoding: named segment frames,
// payload compression and the HTTP header names used by the agent.
//
// A report payload is a concatenation of frames:
//
//	uint8 nameLength | uint32 dataLength (little-endian) | name | data
//
// The frame stream is DEFLATE-compressed before transmission. The signature
// carried in the X-ARMT-SIG header covers the uncompressed frame stream.
package wire
