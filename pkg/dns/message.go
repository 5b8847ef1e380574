// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package dns implements a minimal IPv4 stub resolver: raw query/response
// packets over UDP, an ordered resolver list and a TTL-honoring answer cache.
package dns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DNS constants
const (
	TypeA   = 1
	ClassIN = 1

	FlagQR = 1 << 15
	FlagAA = 1 << 10
	FlagTC = 1 << 9
	FlagRD = 1 << 8
	FlagRA = 1 << 7

	OpcodeQuery = 0

	RcodeSuccess  = 0
	RcodeServFail = 2
	RcodeNXDomain = 3

	headerSize = 12
	maxLabel   = 63
	maxName    = 255

	// maxPointerJumps bounds name decompression so that a malicious pointer
	// loop cannot spin forever.
	maxPointerJumps = 32
)

var (
	ErrShortMessage = errors.New("dns message too short")
	ErrInvalidName  = errors.New("invalid domain name")
	ErrPointerLoop  = errors.New("dns name compression loop")
)

type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Response reports whether the QR bit is set.
func (h Header) Response() bool { return h.Flags&FlagQR != 0 }

// Rcode returns the 4-bit response code.
func (h Header) Rcode() int { return int(h.Flags & 0xF) }

type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Record is a parsed resource record. Data holds the raw RDATA.
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte
}

// IPv4 returns the dotted-quad form of an A record, or "" for anything else.
func (r Record) IPv4() string {
	if r.Type != TypeA || r.Class != ClassIN || len(r.Data) != net.IPv4len {
		return ""
	}
	return net.IP(r.Data).String()
}

type Message struct {
	Header    Header
	Questions []Question
	Answers   []Record
}

// IPv4Records returns the A/IN answers in answer order.
func (m *Message) IPv4Records() []Record {
	var out []Record
	for _, rr := range m.Answers {
		if rr.IPv4() != "" {
			out = append(out, rr)
		}
	}
	return out
}

// BuildQuery constructs a standard recursive query for the A record of name.
func BuildQuery(id uint16, name string) ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+len(name)+6)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], OpcodeQuery<<11|FlagRD)
	binary.BigEndian.PutUint16(buf[4:6], 1) // QDCOUNT

	buf, err := appendName(buf, name)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, TypeA)
	buf = binary.BigEndian.AppendUint16(buf, ClassIN)
	return buf, nil
}

func appendName(buf []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name)+2 > maxName {
		return nil, fmt.Errorf("%w: %q is too long", ErrInvalidName, name)
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > maxLabel {
			return nil, fmt.Errorf("%w: bad label in %q", ErrInvalidName, name)
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0), nil
}

// ParseMessage decodes the header, questions and answer section of msg.
// Authority and additional sections are ignored.
func ParseMessage(msg []byte) (*Message, error) {
	if len(msg) < headerSize {
		return nil, ErrShortMessage
	}

	m := &Message{
		Header: Header{
			ID:      binary.BigEndian.Uint16(msg[0:2]),
			Flags:   binary.BigEndian.Uint16(msg[2:4]),
			QDCount: binary.BigEndian.Uint16(msg[4:6]),
			ANCount: binary.BigEndian.Uint16(msg[6:8]),
			NSCount: binary.BigEndian.Uint16(msg[8:10]),
			ARCount: binary.BigEndian.Uint16(msg[10:12]),
		},
	}

	off := headerSize
	for i := 0; i < int(m.Header.QDCount); i++ {
		name, next, err := readName(msg, off)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		if len(msg) < next+4 {
			return nil, fmt.Errorf("question %d: %w", i, ErrShortMessage)
		}
		m.Questions = append(m.Questions, Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(msg[next : next+2]),
			Class: binary.BigEndian.Uint16(msg[next+2 : next+4]),
		})
		off = next + 4
	}

	for i := 0; i < int(m.Header.ANCount); i++ {
		name, next, err := readName(msg, off)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		if len(msg) < next+10 {
			return nil, fmt.Errorf("answer %d: %w", i, ErrShortMessage)
		}
		rr := Record{
			Name:  name,
			Type:  binary.BigEndian.Uint16(msg[next : next+2]),
			Class: binary.BigEndian.Uint16(msg[next+2 : next+4]),
			TTL:   binary.BigEndian.Uint32(msg[next+4 : next+8]),
		}
		rdlen := int(binary.BigEndian.Uint16(msg[next+8 : next+10]))
		next += 10
		if len(msg) < next+rdlen {
			return nil, fmt.Errorf("answer %d rdata: %w", i, ErrShortMessage)
		}
		rr.Data = msg[next : next+rdlen]
		m.Answers = append(m.Answers, rr)
		off = next + rdlen
	}

	return m, nil
}

// readName decodes the (possibly compressed) name starting at off. It returns
// the name without a trailing dot and the offset just past the name in the
// original position.
func readName(msg []byte, off int) (string, int, error) {
	var labels []string
	end := -1
	jumps := 0
	length := 0

	for {
		if off >= len(msg) {
			return "", 0, ErrShortMessage
		}
		b := int(msg[off])
		switch b & 0xC0 {
		case 0x00:
			if b == 0 {
				if end < 0 {
					end = off + 1
				}
				return strings.Join(labels, "."), end, nil
			}
			if off+1+b > len(msg) {
				return "", 0, ErrShortMessage
			}
			length += b + 1
			if length > maxName {
				return "", 0, fmt.Errorf("%w: name too long", ErrInvalidName)
			}
			labels = append(labels, string(msg[off+1:off+1+b]))
			off += 1 + b
		case 0xC0:
			if off+2 > len(msg) {
				return "", 0, ErrShortMessage
			}
			if end < 0 {
				end = off + 2
			}
			jumps++
			if jumps > maxPointerJumps {
				return "", 0, ErrPointerLoop
			}
			off = int(binary.BigEndian.Uint16(msg[off:off+2]) & 0x3FFF)
		default:
			return "", 0, fmt.Errorf("%w: reserved label type 0x%02x", ErrInvalidName, b&0xC0)
		}
	}
}
