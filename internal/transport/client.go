// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package transport delivers reports to the collection server over HTTPS.
//
// Each request opens a fresh TLS connection, writes a single HTTP/1.1
// request and reads the response before closing the connection. Server
// certificates are not verified: reports are authenticated by their RSA
// signature, not by the channel.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/antimetal/armt/pkg/wire"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	maxResponseBody = 1 << 20
)

var ErrNoAddress = errors.New("host did not resolve to any IPv4 address")

// Resolver maps a host name to IPv4 addresses. An empty result means
// resolution failed.
type Resolver interface {
	GetIPv4(ctx context.Context, host string) []string
}

// Request is one report delivery.
type Request struct {
	Host   string
	Port   int
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the server's answer to a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// LocalIP is the local address of the connection that carried the
	// request; it is also sent to the server in the X-ARMT-IP header.
	LocalIP    string
	RemoteAddr string
}

type Client struct {
	logger         logr.Logger
	resolver       Resolver
	dialTimeout    time.Duration
	requestTimeout time.Duration
	tlsConfig      *tls.Config
}

type Option func(*Client)

func WithLogger(logger logr.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithRequestTimeout bounds writing the request and reading the response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithTLSConfig replaces the default TLS client configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

func NewClient(resolver Resolver, opts ...Option) (*Client, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	c := &Client{
		logger:         logr.Discard(),
		resolver:       resolver,
		dialTimeout:    DefaultDialTimeout,
		requestTimeout: DefaultRequestTimeout,
		tlsConfig: &tls.Config{
			// Reports carry their own RSA signature; the server certificate
			// is typically self-signed.
			InsecureSkipVerify: true, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
			NextProtos:         []string{"http/1.1"},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithName("transport")
	return c, nil
}

// Post delivers req and returns the server response. It makes exactly one
// request; the only retries are connection attempts across the addresses
// the host resolves to.
func (c *Client) Post(ctx context.Context, req *Request) (*Response, error) {
	addrs := c.resolver.GetIPv4(ctx, req.Host)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Host, ErrNoAddress)
	}

	conn, err := c.dial(ctx, req.Host, addrs, req.Port)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(c.requestTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	localIP, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return nil, fmt.Errorf("failed to determine local address: %w", err)
	}

	httpReq, err := c.newHTTPRequest(ctx, req, localIP)
	if err != nil {
		return nil, err
	}

	if err := httpReq.Write(conn); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", ctxErr(ctx, err))
	}

	httpResp, err := http.ReadResponse(bufio.NewReader(conn), httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", ctxErr(ctx, err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", ctxErr(ctx, err))
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		LocalIP:    localIP,
		RemoteAddr: conn.RemoteAddr().String(),
	}, nil
}

func (c *Client) dial(ctx context.Context, host string, addrs []string, port int) (net.Conn, error) {
	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" && net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.dialTimeout},
		Config:    cfg,
	}

	var errs []error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(port))
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			c.logger.V(2).Info("connected", "host", host, "address", target)
			return conn, nil
		}
		c.logger.V(1).Info("connection attempt failed", "host", host, "address", target, "error", err.Error())
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to connect to %s:%d: %w", host, port, errors.Join(errs...))
}

func (c *Client) newHTTPRequest(ctx context.Context, req *Request, localIP string) (*http.Request, error) {
	path := req.Path
	if path == "" {
		path = "/"
	}
	url := "https://" + net.JoinHostPort(req.Host, strconv.Itoa(req.Port)) + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Host = req.Host
	if req.Port != 443 {
		httpReq.Host = net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	}
	httpReq.Close = true

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("User-Agent", wire.UserAgent)
	header.Set("Accept", wire.Accept)
	header.Set("Content-Type", wire.ContentType)
	header["Accept-Encoding"] = []string{""}
	header.Set(wire.HeaderIP, localIP)
	httpReq.Header = header

	return httpReq, nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
