// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package endpoints describes the collection server the agent reports to.
package endpoints

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const DefaultPort = 443

var ErrUsage = errors.New("usage: armt [flags] <host> [port]")

// Server is the collection server address.
type Server struct {
	Host string
	Port int
}

// Address returns host:port.
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Server) String() string { return s.Address() }

// ParseArgs reads the positional arguments <host> [port]. The port
// defaults to 443.
func ParseArgs(args []string) (Server, error) {
	if len(args) < 1 || len(args) > 2 {
		return Server{}, ErrUsage
	}

	host := strings.TrimSpace(args[0])
	if host == "" {
		return Server{}, fmt.Errorf("%w: empty host", ErrUsage)
	}

	port := DefaultPort
	if len(args) == 2 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p < 1 || p > 65535 {
			return Server{}, fmt.Errorf("%w: invalid port %q", ErrUsage, args[1])
		}
		port = p
	}

	return Server{Host: host, Port: port}, nil
}
