package asar

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
)

// maxHeaderSize bounds the header allocation for corrupt containers.
const maxHeaderSize = 256 << 20

var (
	ErrInvalidHeader = errors.New("invalid asar header")
	ErrTooManyLinks  = errors.New("too many levels of links")
)

// Entry is a node of the header tree. Directories carry Files, links carry
// Link and everything else is a regular file.
type Entry struct {
	Files      map[string]*Entry `json:"files,omitempty"`
	Size       int64             `json:"size,omitempty"`
	Offset     string            `json:"offset,omitempty"`
	Unpacked   bool              `json:"unpacked,omitempty"`
	Executable bool              `json:"executable,omitempty"`
	Link       string            `json:"link,omitempty"`
}

func (e *Entry) IsDir() bool  { return e.Files != nil }
func (e *Entry) IsLink() bool { return e.Link != "" }

// offset parses the decimal offset string. Unpacked entries have none.
func (e *Entry) offset() (int64, error) {
	if e.Offset == "" {
		return 0, nil
	}
	off, err := strconv.ParseInt(e.Offset, 10, 64)
	if err != nil || off < 0 {
		return 0, fmt.Errorf("%w: bad offset %q", ErrInvalidHeader, e.Offset)
	}
	return off, nil
}

// Names returns the sorted child names of a directory entry.
func (e *Entry) Names() []string {
	return slices.Sorted(maps.Keys(e.Files))
}

// MarshalJSON writes the minimal form for each entry kind so that empty
// directories keep their files object and zero sized files keep their size.
func (e *Entry) MarshalJSON() ([]byte, error) {
	switch {
	case e.IsDir():
		return json.Marshal(struct {
			Files map[string]*Entry `json:"files"`
		}{e.Files})
	case e.IsLink():
		return json.Marshal(struct {
			Link string `json:"link"`
		}{e.Link})
	}
	return json.Marshal(struct {
		Size       int64  `json:"size"`
		Offset     string `json:"offset,omitempty"`
		Unpacked   bool   `json:"unpacked,omitempty"`
		Executable bool   `json:"executable,omitempty"`
	}{e.Size, e.Offset, e.Unpacked, e.Executable})
}

// readHeader parses the header tree at the start of r and returns it along
// with the absolute offset at which member data starts.
func readHeader(r io.ReaderAt) (*Entry, int64, error) {
	var sizePickle [8]byte
	if _, err := r.ReadAt(sizePickle[:], 0); err != nil {
		return nil, 0, fmt.Errorf("%w: reading size pickle: %v", ErrInvalidHeader, err)
	}
	if binary.LittleEndian.Uint32(sizePickle[0:4]) != 4 {
		return nil, 0, fmt.Errorf("%w: bad size pickle", ErrInvalidHeader)
	}
	headerSize := binary.LittleEndian.Uint32(sizePickle[4:8])
	if headerSize < 8 || headerSize > maxHeaderSize {
		return nil, 0, fmt.Errorf("%w: header size %d", ErrInvalidHeader, headerSize)
	}

	header := make([]byte, headerSize)
	if n, err := r.ReadAt(header, 8); n != len(header) {
		return nil, 0, fmt.Errorf("%w: reading header: %v", ErrInvalidHeader, err)
	}
	jsonLen := binary.LittleEndian.Uint32(header[4:8])
	if uint64(jsonLen)+8 > uint64(headerSize) {
		return nil, 0, fmt.Errorf("%w: string length %d exceeds header", ErrInvalidHeader, jsonLen)
	}

	var root Entry
	if err := json.Unmarshal(header[8:8+jsonLen], &root); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if !root.IsDir() {
		return nil, 0, fmt.Errorf("%w: root is not a directory", ErrInvalidHeader)
	}
	return &root, 8 + int64(headerSize), nil
}

// encodeHeader is the inverse of readHeader.
func encodeHeader(root *Entry) ([]byte, error) {
	js, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	pad := (4 - len(js)%4) % 4
	payload := 4 + len(js) + pad

	header := make([]byte, 4+payload)
	binary.LittleEndian.PutUint32(header[0:4], uint32(payload))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(js)))
	copy(header[8:], js)

	out := make([]byte, 8, 8+len(header))
	binary.LittleEndian.PutUint32(out[0:4], 4)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(header)))
	return append(out, header...), nil
}
