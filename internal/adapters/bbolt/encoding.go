// Binary encoding for index values.
//
// The names bucket maps a symbol name to the set of files declaring it, stored
// as a compact path list (little-endian):
//
//	pathCount: uint32
//	per path:
//	  pathLen: uint16
//	  path:    [pathLen]byte
//
// Symbol outlines are gob-encoded; file metadata stays JSON so it can be
// inspected with bbolt tooling.
package bbolt

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"
)

// encodePaths encodes a path set in sorted order for deterministic output.
// A single buffer is pre-allocated to avoid repeated growth.
func encodePaths(paths map[string]struct{}) ([]byte, error) {
	sorted := make([]string, 0, len(paths))
	totalSize := 4
	for p := range paths {
		sorted = append(sorted, p)
		totalSize += 2 + len(p)
	}
	sort.Strings(sorted)

	buf := make([]byte, totalSize)
	offset := 0
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(sorted)))
	offset += 4

	for _, p := range sorted {
		if len(p) > 65535 {
			return nil, fmt.Errorf("path too long: %d bytes", len(p))
		}
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(p)))
		offset += 2
		copy(buf[offset:], p)
		offset += len(p)
	}
	return buf, nil
}

// decodePaths decodes a path list. Every read is bounds-checked to avoid
// panics on corrupt data.
func decodePaths(data []byte) (map[string]struct{}, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("path list too short: %d bytes", len(data))
	}
	offset := 0
	count := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	paths := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("truncated at path %d length (offset %d)", i, offset)
		}
		n := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if offset+n > len(data) {
			return nil, fmt.Errorf("truncated at path %d (offset %d, need %d)", i, offset, n)
		}
		paths[string(data[offset:offset+n])] = struct{}{}
		offset += n
	}
	return paths, nil
}

// encodeGob encodes a value using gob. Used for symbol outlines, which are
// read back whole and never queried in place.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob decodes gob-encoded data into target. Target must be a pointer.
func decodeGob(data []byte, target interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(target)
}
