// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/text/encoding/unicode"
)

// OpenImage memory-maps path and decodes it as a JSON-encoded Image,
// avoiding a full read()-and-copy for what can be a multi-megabyte
// program image. The returned closer must be called once the caller is
// done; it unmaps the file.
func OpenImage(path string) (*Image, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		data.Unmap()
		f.Close()
		return nil, nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	closer := func() error {
		unmapErr := data.Unmap()
		closeErr := f.Close()
		if unmapErr != nil {
			return unmapErr
		}
		return closeErr
	}
	return &img, closer, nil
}

// DecodeUserStringHeap decodes the on-disk user-string heap format some
// program image producers emit: a flat run of length-prefixed UTF-16LE
// entries, the same representation as ECMA-335's #US metadata stream.
// Image producers that already emit plain Go strings in Image.Strings
// don't need this; it exists for producers carrying the heap in its
// original wire encoding.
func DecodeUserStringHeap(raw []byte) ([]string, error) {
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	var out []string
	i := 0
	for i < len(raw) {
		if i+4 > len(raw) {
			return nil, fmt.Errorf("nanoimage: truncated user-string heap entry at offset %d", i)
		}
		length := binary.LittleEndian.Uint32(raw[i : i+4])
		i += 4
		if i+int(length) > len(raw) {
			return nil, fmt.Errorf("nanoimage: user-string heap entry at offset %d exceeds heap bounds", i)
		}
		utf16Bytes := raw[i : i+int(length)]
		i += int(length)
		decoded, err := decoder.Bytes(utf16Bytes)
		if err != nil {
			return nil, fmt.Errorf("nanoimage: decoding user-string heap entry at offset %d: %w", i, err)
		}
		out = append(out, string(decoded))
	}
	return out, nil
}
