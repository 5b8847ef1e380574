// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package report aggregates collector outputs into signed, compressed
// reports and transmits them to the collection server.
package report

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/armt/internal/transport"
	"github.com/antimetal/armt/pkg/wire"
)

// Signer provides the agent identity used to authenticate reports.
type Signer interface {
	PublicKey() string
	Sign(payload []byte) (string, error)
}

// Transport delivers one request to the collection server.
type Transport interface {
	Post(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Result describes the outcome of a Send or Authenticate call that did not
// fail at the transport level.
type Result struct {
	// Sent is false when there was nothing to report and no request was made.
	Sent       bool
	StatusCode int
	Segments   int
	// PayloadSize is the uncompressed frame stream size in bytes.
	PayloadSize int
	// BodySize is the compressed request body size in bytes.
	BodySize int
}

// Accepted reports whether the server accepted the message.
func (r Result) Accepted() bool {
	return r.Sent && r.StatusCode == wire.StatusAccepted
}

// Config contains configuration for the message builder
type Config struct {
	// Host is the collection server host name or IP address.
	Host string
	// Port is the collection server port.
	Port int
	// Hostname identifies this agent in the X-ARMT-HOST header.
	Hostname  string
	Signer    Signer
	Transport Transport
}

// Builder holds the named segments pending for the current reporting cycle.
type Builder struct {
	logger    logr.Logger
	host      string
	port      int
	hostname  string
	signer    Signer
	transport Transport

	mu       sync.Mutex
	segments map[string]Collector
}

func NewBuilder(logger logr.Logger, config Config) (*Builder, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("server host is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", config.Port)
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	return &Builder{
		logger:    logger.WithName("report"),
		host:      config.Host,
		port:      config.Port,
		hostname:  config.Hostname,
		signer:    config.Signer,
		transport: config.Transport,
		segments:  make(map[string]Collector),
	}, nil
}

// AppendSegment registers collector under name, replacing any collector
// already pending under the same name. Names longer than 255 bytes cannot
// be framed and cause a panic.
func (b *Builder) AppendSegment(name string, collector Collector) {
	if len(name) > wire.MaxNameLength {
		panic(fmt.Sprintf("report: segment name %q exceeds %d bytes", name, wire.MaxNameLength))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments[name] = collector
}

// Reset drops all pending segments.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.segments)
}

// Pending returns the names of the pending segments in transmission order.
func (b *Builder) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.segments))
	for name := range b.segments {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Send runs every pending collector in name order and transmits the
// successful outputs as one report. Failed collectors are skipped. When no
// collector succeeds, Send returns without contacting the server.
//
// A non-nil error means the request could not be delivered; the report is
// dropped, never retried.
func (b *Builder) Send(ctx context.Context) (Result, error) {
	payload, count := b.collect(ctx)
	if count == 0 {
		b.logger.V(1).Info("nothing to report")
		return Result{}, nil
	}
	return b.transmit(ctx, payload, count)
}

// Authenticate sends the zero-segment AUTH message. Unlike Send it always
// contacts the server.
func (b *Builder) Authenticate(ctx context.Context) (Result, error) {
	return b.transmit(ctx, nil, 0)
}

func (b *Builder) collect(ctx context.Context) ([]byte, int) {
	b.mu.Lock()
	names := make([]string, 0, len(b.segments))
	collectors := make(map[string]Collector, len(b.segments))
	for name, c := range b.segments {
		names = append(names, name)
		collectors[name] = c
	}
	b.mu.Unlock()
	slices.Sort(names)

	var payload []byte
	count := 0
	for _, name := range names {
		start := time.Now()

		var out bytes.Buffer
		if err := collectors[name].Collect(ctx, &out); err != nil {
			b.logger.V(1).Info("collector failed, segment skipped", "segment", name, "error", err.Error())
			continue
		}

		framed, err := wire.AppendFrame(payload, name, out.Bytes())
		if err != nil {
			b.logger.Error(err, "segment cannot be framed, skipped", "segment", name)
			continue
		}
		payload = framed
		count++

		b.logger.V(2).Info("collected segment",
			"segment", name,
			"bytes", out.Len(),
			"duration", time.Since(start))
	}
	return payload, count
}

func (b *Builder) transmit(ctx context.Context, payload []byte, count int) (Result, error) {
	body, err := wire.Compress(payload)
	if err != nil {
		return Result{}, err
	}

	signature, err := b.signer.Sign(payload)
	if err != nil {
		return Result{}, err
	}

	header := make(http.Header)
	header.Set(wire.HeaderHost, b.hostname)
	header.Set(wire.HeaderPublicKey, b.signer.PublicKey())
	header.Set(wire.HeaderSignature, signature)

	resp, err := b.transport.Post(ctx, &transport.Request{
		Host:   b.host,
		Port:   b.port,
		Path:   wire.ReportPath,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to deliver report to %s:%d: %w", b.host, b.port, err)
	}

	result := Result{
		Sent:        true,
		StatusCode:  resp.StatusCode,
		Segments:    count,
		PayloadSize: len(payload),
		BodySize:    len(body),
	}
	b.logger.V(1).Info("report delivered",
		"status", resp.StatusCode,
		"segments", count,
		"payloadBytes", len(payload),
		"bodyBytes", len(body),
		"localIP", resp.LocalIP)
	return result, nil
}
