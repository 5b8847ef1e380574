// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diskcheck

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MDArray is one software RAID array from /proc/mdstat.
type MDArray struct {
	Name        string   `cbor:"name"`
	State       string   `cbor:"state"`
	Personality string   `cbor:"personality,omitempty"`
	Members     []string `cbor:"members"`
	Failed      []string `cbor:"failed,omitempty"`
	// Status is the member map, for example "UU_".
	Status   string `cbor:"status,omitempty"`
	Degraded bool   `cbor:"degraded"`
}

func (c *Collector) mdArrays() ([]MDArray, error) {
	path := filepath.Join(c.paths.Proc, "mdstat")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return parseMDStat(f)
}

// parseMDStat parses the /proc/mdstat format:
//
//	md1 : active raid5 sdc1[2](F) sdd1[1] sde1[0]
//	      2096128 blocks super 1.2 level 5, 512k chunk, algorithm 2 [3/2] [UU_]
func parseMDStat(r io.Reader) ([]MDArray, error) {
	var arrays []MDArray
	var current *MDArray

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			current = nil
			continue
		}

		if strings.HasPrefix(fields[0], "md") && len(fields) >= 3 && fields[1] == ":" {
			arrays = append(arrays, parseArrayLine(fields))
			current = &arrays[len(arrays)-1]
			continue
		}

		if current == nil {
			continue
		}
		for _, field := range fields {
			if isMemberMap(field) {
				current.Status = strings.Trim(field, "[]")
				if strings.Contains(current.Status, "_") {
					current.Degraded = true
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mdstat: %w", err)
	}
	return arrays, nil
}

func parseArrayLine(fields []string) MDArray {
	array := MDArray{Name: fields[0], State: fields[2]}

	rest := fields[3:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "(") {
		rest = rest[1:]
	}
	if array.State == "active" && len(rest) > 0 && !strings.Contains(rest[0], "[") {
		array.Personality = rest[0]
		rest = rest[1:]
	}

	for _, member := range rest {
		name, _, ok := strings.Cut(member, "[")
		if !ok {
			continue
		}
		array.Members = append(array.Members, name)
		if strings.HasSuffix(member, "(F)") {
			array.Failed = append(array.Failed, name)
			array.Degraded = true
		}
	}
	return array
}

func isMemberMap(field string) bool {
	if len(field) < 3 || field[0] != '[' || field[len(field)-1] != ']' {
		return false
	}
	for _, ch := range field[1 : len(field)-1] {
		if ch != 'U' && ch != '_' {
			return false
		}
	}
	return true
}
