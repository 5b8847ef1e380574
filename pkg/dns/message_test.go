// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dns

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	query, err := BuildQuery(0xBEEF, "report.example.com.")
	require.NoError(t, err)

	assert.Equal(t, uint16(0xBEEF), binary.BigEndian.Uint16(query[0:2]))
	assert.Equal(t, uint16(FlagRD), binary.BigEndian.Uint16(query[2:4]), "standard query with recursion desired")
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(query[4:6]))

	msg, err := ParseMessage(query)
	require.NoError(t, err)
	require.Len(t, msg.Questions, 1)
	assert.Equal(t, Question{Name: "report.example.com", Type: TypeA, Class: ClassIN}, msg.Questions[0])
	assert.False(t, msg.Header.Response())
}

func TestBuildQuery_InvalidNames(t *testing.T) {
	tests := []string{
		"",
		".",
		"a..b",
		strings.Repeat("x", 64) + ".com",
		strings.Repeat("abcdefg.", 40) + "com",
	}
	for _, name := range tests {
		_, err := BuildQuery(1, name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestParseMessage_Answers(t *testing.T) {
	query, err := BuildQuery(7, "example.com")
	require.NoError(t, err)

	msg, err := ParseMessage(buildReply(query, RcodeSuccess, 300, "192.0.2.1", "192.0.2.2"))
	require.NoError(t, err)

	assert.True(t, msg.Header.Response())
	assert.Equal(t, RcodeSuccess, msg.Header.Rcode())
	require.Len(t, msg.Answers, 2)

	records := msg.IPv4Records()
	require.Len(t, records, 2)
	assert.Equal(t, "example.com", records[0].Name, "compression pointer resolves to the question name")
	assert.Equal(t, "192.0.2.1", records[0].IPv4())
	assert.Equal(t, "192.0.2.2", records[1].IPv4())
	assert.Equal(t, uint32(300), records[0].TTL)
}

func TestParseMessage_SkipsNonARecords(t *testing.T) {
	query, err := BuildQuery(7, "www.example.com")
	require.NoError(t, err)

	reply := buildReply(query, RcodeSuccess, 60)
	binary.BigEndian.PutUint16(reply[6:8], 2)

	// CNAME www.example.com -> host.example.com, "host" label followed by a
	// pointer to "example.com" at offset 16.
	reply = append(reply, 0xC0, 0x0C)
	reply = binary.BigEndian.AppendUint16(reply, 5) // CNAME
	reply = binary.BigEndian.AppendUint16(reply, ClassIN)
	reply = binary.BigEndian.AppendUint32(reply, 60)
	reply = binary.BigEndian.AppendUint16(reply, 7)
	cnameOffset := len(reply)
	reply = append(reply, 4, 'h', 'o', 's', 't', 0xC0, 16)

	// A record owned by the CNAME target.
	reply = append(reply, 0xC0|byte(cnameOffset>>8), byte(cnameOffset))
	reply = binary.BigEndian.AppendUint16(reply, TypeA)
	reply = binary.BigEndian.AppendUint16(reply, ClassIN)
	reply = binary.BigEndian.AppendUint32(reply, 120)
	reply = binary.BigEndian.AppendUint16(reply, 4)
	reply = append(reply, 198, 51, 100, 7)

	msg, err := ParseMessage(reply)
	require.NoError(t, err)
	require.Len(t, msg.Answers, 2)

	records := msg.IPv4Records()
	require.Len(t, records, 1)
	assert.Equal(t, "host.example.com", records[0].Name)
	assert.Equal(t, "198.51.100.7", records[0].IPv4())
}

func TestParseMessage_PointerLoop(t *testing.T) {
	msg := make([]byte, headerSize)
	binary.BigEndian.PutUint16(msg[4:6], 1)
	// Question name is a pointer to itself.
	msg = append(msg, 0xC0, headerSize, 0, 1, 0, 1)

	_, err := ParseMessage(msg)
	assert.ErrorIs(t, err, ErrPointerLoop)
}

func TestParseMessage_Truncated(t *testing.T) {
	query, err := BuildQuery(7, "example.com")
	require.NoError(t, err)
	reply := buildReply(query, RcodeSuccess, 60, "192.0.2.1")

	for _, cut := range []int{0, 5, headerSize + 3, len(reply) - 1} {
		_, err := ParseMessage(reply[:cut])
		assert.ErrorIs(t, err, ErrShortMessage, "cut at %d", cut)
	}
}
