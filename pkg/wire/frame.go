// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// MaxNameLength is the longest segment name that fits the 8-bit length prefix.
	MaxNameLength = math.MaxUint8

	// MaxDataLength is the largest segment body that fits the 32-bit length prefix.
	MaxDataLength = math.MaxUint32

	frameHeaderSize = 1 + 4
)

var (
	ErrNameTooLong = errors.New("segment name exceeds 255 bytes")
	ErrDataTooLong = errors.New("segment data exceeds 4 GiB")
	ErrTruncated   = errors.New("truncated segment frame")
)

// Segment is one named unit of collected data.
type Segment struct {
	Name string
	Data []byte
}

// FrameSize returns the encoded size of a segment frame.
func FrameSize(name string, data []byte) int {
	return frameHeaderSize + len(name) + len(data)
}

// AppendFrame appends the frame for (name, data) to dst and returns the
// extended slice.
func AppendFrame(dst []byte, name string, data []byte) ([]byte, error) {
	if len(name) > MaxNameLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	if uint64(len(data)) > MaxDataLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(data))
	}

	dst = append(dst, uint8(len(name)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	dst = append(dst, name...)
	dst = append(dst, data...)
	return dst, nil
}

// Encode packs segments into a frame stream, preserving their order.
func Encode(segments []Segment) ([]byte, error) {
	size := 0
	for _, s := range segments {
		size += FrameSize(s.Name, s.Data)
	}

	buf := make([]byte, 0, size)
	for _, s := range segments {
		var err error
		buf, err = AppendFrame(buf, s.Name, s.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode segment %q: %w", s.Name, err)
		}
	}
	return buf, nil
}

// Decode unpacks a frame stream into segments in stream order. The returned
// segments alias payload.
func Decode(payload []byte) ([]Segment, error) {
	var segments []Segment
	for off := 0; off < len(payload); {
		if len(payload)-off < frameHeaderSize {
			return nil, fmt.Errorf("%w: header at offset %d", ErrTruncated, off)
		}
		nameLen := int(payload[off])
		dataLen := uint64(binary.LittleEndian.Uint32(payload[off+1 : off+frameHeaderSize]))
		off += frameHeaderSize

		if uint64(len(payload)-off) < uint64(nameLen)+dataLen {
			return nil, fmt.Errorf("%w: body at offset %d", ErrTruncated, off)
		}
		name := string(payload[off : off+nameLen])
		off += nameLen
		data := payload[off : off+int(dataLen)]
		off += int(dataLen)

		segments = append(segments, Segment{Name: name, Data: data})
	}
	return segments, nil
}

// Reader reads frames one at a time from a stream.
type Reader struct {
	r   io.Reader
	hdr [frameHeaderSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next segment, or io.EOF when the stream ends cleanly on a
// frame boundary.
func (fr *Reader) Next() (Segment, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Segment{}, ErrTruncated
		}
		return Segment{}, err
	}

	nameLen := int(fr.hdr[0])
	dataLen := binary.LittleEndian.Uint32(fr.hdr[1:])

	body := make([]byte, nameLen+int(dataLen))
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Segment{}, ErrTruncated
		}
		return Segment{}, err
	}
	return Segment{Name: string(body[:nameLen]), Data: body[nameLen:]}, nil
}
