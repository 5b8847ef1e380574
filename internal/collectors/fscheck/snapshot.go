// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package fscheck

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/antimetal/armt/pkg/wire"
)

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Entry is the fingerprint of one regular file.
type Entry struct {
	Path string
	Sum  [md5.Size]byte
}

// Encode serializes entries as repeated [u16-LE pathLen][path][16-byte MD5]
// records and compresses the result. Entries with paths longer than 65535
// bytes are left out.
func Encode(entries []Entry) ([]byte, error) {
	var raw []byte
	for _, e := range entries {
		if len(e.Path) > math.MaxUint16 {
			continue
		}
		raw = binary.LittleEndian.AppendUint16(raw, uint16(len(e.Path)))
		raw = append(raw, e.Path...)
		raw = append(raw, e.Sum[:]...)
	}
	return wire.Compress(raw)
}

// Decode reverses Encode.
func Decode(data []byte) ([]Entry, error) {
	raw, err := wire.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	var entries []Entry
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, fmt.Errorf("%w: truncated record header", ErrCorruptSnapshot)
		}
		n := int(binary.LittleEndian.Uint16(raw))
		raw = raw[2:]
		if len(raw) < n+md5.Size {
			return nil, fmt.Errorf("%w: truncated record", ErrCorruptSnapshot)
		}
		e := Entry{Path: string(raw[:n])}
		copy(e.Sum[:], raw[n:n+md5.Size])
		entries = append(entries, e)
		raw = raw[n+md5.Size:]
	}
	return entries, nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. A missing file
// yields no entries and no error.
func LoadSnapshot(path string) ([]Entry, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// SaveSnapshot atomically replaces the snapshot at path with data.
func SaveSnapshot(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Diff is the difference between two snapshots.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare returns what changed from prev to cur. Both must be sorted by
// path.
func Compare(prev, cur []Entry) Diff {
	var d Diff
	i, j := 0, 0
	for i < len(prev) && j < len(cur) {
		switch {
		case prev[i].Path < cur[j].Path:
			d.Removed = append(d.Removed, prev[i].Path)
			i++
		case prev[i].Path > cur[j].Path:
			d.Added = append(d.Added, cur[j].Path)
			j++
		default:
			if prev[i].Sum != cur[j].Sum {
				d.Changed = append(d.Changed, cur[j].Path)
			}
			i++
			j++
		}
	}
	for ; i < len(prev); i++ {
		d.Removed = append(d.Removed, prev[i].Path)
	}
	for ; j < len(cur); j++ {
		d.Added = append(d.Added, cur[j].Path)
	}
	return d
}
