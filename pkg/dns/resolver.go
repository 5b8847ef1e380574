// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dns

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

const (
	DefaultPort    = "53"
	DefaultTimeout = 5 * time.Second

	maxUDPSize = 65535
)

var (
	ErrNoResolvers   = errors.New("no resolvers configured")
	ErrNotResponse   = errors.New("reply is not a dns response")
	ErrServerFailure = errors.New("resolver returned an error code")
)

// Resolver resolves hostnames to IPv4 addresses against an ordered list of
// resolvers and caches answers for their TTL.
type Resolver struct {
	mu      sync.Mutex
	servers []string

	cache   *Cache
	clock   clock.PassiveClock
	timeout time.Duration
	logger  logr.Logger
}

type Option func(*Resolver)

func WithLogger(logger logr.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithClock sets the clock used to compute and check record expiry.
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Resolver) {
		r.clock = clk
	}
}

// WithTimeout sets the per-resolver send/receive deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func WithResolvers(addrs ...string) Option {
	return func(r *Resolver) {
		for _, addr := range addrs {
			r.addResolver(addr)
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		clock:   clock.RealClock{},
		timeout: DefaultTimeout,
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithName("dns")
	r.cache = NewCache(r.clock)
	return r
}

// AddResolver appends addr ("ip" or "ip:port") to the resolver list unless
// it is already present.
func (r *Resolver) AddResolver(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addResolver(addr)
}

func (r *Resolver) addResolver(addr string) {
	addr = normalizeServer(addr)
	if slices.Contains(r.servers, addr) {
		return
	}
	r.servers = append(r.servers, addr)
}

// Resolvers returns the configured resolver addresses in query order.
func (r *Resolver) Resolvers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.servers)
}

// Cache exposes the answer cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// GetIPv4 returns the IPv4 addresses of host. Live cached answers are
// returned without network access; otherwise the resolvers are queried.
// An empty result means resolution failed. IP literals resolve to themselves.
func (r *Resolver) GetIPv4(ctx context.Context, host string) []string {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return nil
		}
		return []string{ip.String()}
	}

	if addrs, ok := r.cache.Get(host); ok {
		r.logger.V(2).Info("cache hit", "host", host, "addresses", addrs)
		return addrs
	}

	entries, err := r.Lookup(ctx, host)
	if err != nil {
		r.logger.Error(err, "dns resolution failed", "host", host)
		return nil
	}
	r.cache.Set(host, entries)

	addrs := make([]string, len(entries))
	for i, e := range entries {
		addrs[i] = e.IPv4
	}
	return addrs
}

// Lookup queries the resolvers in order and returns the A records of the
// first valid response. It does not consult or update the cache.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]Entry, error) {
	servers := r.Resolvers()
	if len(servers) == 0 {
		return nil, ErrNoResolvers
	}

	id, err := randomID()
	if err != nil {
		return nil, err
	}
	query, err := BuildQuery(id, host)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := r.exchange(ctx, server, query, id)
		if err != nil {
			r.logger.V(1).Info("resolver failed", "server", server, "host", host, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}

		now := r.clock.Now()
		var entries []Entry
		for _, rr := range msg.IPv4Records() {
			entries = append(entries, Entry{
				IPv4:     rr.IPv4(),
				ExpireAt: now.Add(time.Duration(rr.TTL) * time.Second),
			})
		}
		r.logger.V(1).Info("resolved", "server", server, "host", host, "records", len(entries))
		if len(entries) == 0 {
			return nil, fmt.Errorf("%s: no A records for %s", server, host)
		}
		return entries, nil
	}

	return nil, fmt.Errorf("all resolvers failed for %s: %w", host, errors.Join(errs...))
}

func (r *Resolver) exchange(ctx context.Context, server string, query []byte, id uint16) (*Message, error) {
	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("failed to send query: %w", err)
	}

	buf := make([]byte, maxUDPSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to receive reply: %w", err)
		}

		msg, err := ParseMessage(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("failed to parse reply: %w", err)
		}
		if msg.Header.ID != id {
			// Stray or spoofed datagram; keep waiting for ours.
			continue
		}
		if !msg.Header.Response() {
			return nil, ErrNotResponse
		}
		if rcode := msg.Header.Rcode(); rcode != RcodeSuccess {
			return nil, fmt.Errorf("%w: rcode %d", ErrServerFailure, rcode)
		}
		return msg, nil
	}
}

func randomID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate query id: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func normalizeServer(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultPort)
}
