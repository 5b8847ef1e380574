// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dns

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// ParseResolvConf returns the nameserver addresses listed in a
// resolv.conf(5) formatted stream, in file order. Non-IP entries are ignored.
func ParseResolvConf(r io.Reader) ([]string, error) {
	var servers []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		// Strip a zone suffix such as fe80::1%eth0 before validating.
		addr, _, _ := strings.Cut(fields[1], "%")
		if net.ParseIP(addr) == nil {
			continue
		}
		servers = append(servers, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resolv.conf: %w", err)
	}
	return servers, nil
}

// LoadResolvConf reads the nameservers from the file at path.
func LoadResolvConf(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseResolvConf(f)
}
