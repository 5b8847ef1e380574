// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package report

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/armt/internal/identity"
	"github.com/antimetal/armt/internal/transport"
	"github.com/antimetal/armt/pkg/wire"
)

type loopbackResolver struct{}

func (loopbackResolver) GetIPv4(context.Context, string) []string {
	return []string{"127.0.0.1"}
}

// collectionServer verifies signatures the way the server side does and
// answers 202 for valid reports and 401 otherwise.
func collectionServer(t *testing.T, received chan<- []wire.Segment) *httptest.Server {
	t.Helper()
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payload, err := wire.Decompress(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := identity.Verify(r.Header.Get(wire.HeaderPublicKey), payload, r.Header.Get(wire.HeaderSignature)); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		segments, err := wire.Decode(payload)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- segments
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBuilder_EndToEnd(t *testing.T) {
	received := make(chan []wire.Segment, 2)
	server := collectionServer(t, received)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := transport.NewClient(loopbackResolver{}, transport.WithLogger(testr.New(t)))
	require.NoError(t, err)
	key, err := identity.Generate(1024)
	require.NoError(t, err)

	b, err := NewBuilder(testr.New(t), Config{
		Host:      "localhost",
		Port:      port,
		Hostname:  "db01",
		Signer:    key,
		Transport: client,
	})
	require.NoError(t, err)

	auth, err := b.Authenticate(context.Background())
	require.NoError(t, err)
	require.True(t, auth.Accepted())
	assert.Empty(t, <-received)

	b.AppendSegment("A", staticCollector("hello"))
	b.AppendSegment("B", staticCollector("world"))
	result, err := b.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, []wire.Segment{
		{Name: "A", Data: []byte("hello")},
		{Name: "B", Data: []byte("world")},
	}, <-received)
}

func TestBuilder_EndToEndServerDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	client, err := transport.NewClient(loopbackResolver{})
	require.NoError(t, err)
	key, err := identity.Generate(1024)
	require.NoError(t, err)

	b, err := NewBuilder(testr.New(t), Config{Host: "localhost", Port: port, Signer: key, Transport: client})
	require.NoError(t, err)

	_, err = b.Authenticate(context.Background())
	assert.Error(t, err)
}
