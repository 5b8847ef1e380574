// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dns

import (
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeServer is an in-process UDP resolver. handler returns the reply for a
// query, or nil to stay silent.
type fakeServer struct {
	conn    *net.UDPConn
	queries atomic.Int32
}

func newFakeServer(t *testing.T, handler func(query []byte) []byte) *fakeServer {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	s := &fakeServer{conn: conn}
	go func() {
		buf := make([]byte, 512)
		for {
			n, client, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			s.queries.Add(1)
			query := append([]byte(nil), buf[:n]...)
			if reply := handler(query); reply != nil {
				_, _ = conn.WriteToUDP(reply, client)
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return s
}

func (s *fakeServer) Addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeServer) Queries() int {
	return int(s.queries.Load())
}

// buildReply answers query with the given rcode and one A record per ip,
// each carrying ttl. Answer names use a compression pointer to the question.
func buildReply(query []byte, rcode uint16, ttl uint32, ips ...string) []byte {
	reply := make([]byte, headerSize)
	copy(reply[0:2], query[0:2])
	binary.BigEndian.PutUint16(reply[2:4], FlagQR|FlagRD|FlagRA|rcode)
	binary.BigEndian.PutUint16(reply[4:6], 1)
	binary.BigEndian.PutUint16(reply[6:8], uint16(len(ips)))

	reply = append(reply, query[headerSize:]...)
	for _, ip := range ips {
		reply = append(reply, 0xC0, 0x0C)
		reply = binary.BigEndian.AppendUint16(reply, TypeA)
		reply = binary.BigEndian.AppendUint16(reply, ClassIN)
		reply = binary.BigEndian.AppendUint32(reply, ttl)
		reply = binary.BigEndian.AppendUint16(reply, 4)
		reply = append(reply, net.ParseIP(ip).To4()...)
	}
	return reply
}
