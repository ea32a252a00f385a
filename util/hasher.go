package util

import (
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
	"github.com/taigrr/colorhash"
)

// DigestChunkSize is the size of each positional read made by HashReaderAt.
const DigestChunkSize = 8 * 1024

// DigestLength is the length of an encoded SHA-512 digest.
var DigestLength = base64.StdEncoding.EncodedLen(sha512.Size)

// BucketCount is the number of directories BucketFor spreads names over.
const BucketCount = 1000

// Digest accumulates bytes and produces a base64 encoded SHA-512 sum.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: sha512.New()}
}

// Write adds p to the digest. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the base64 encoding of the digest of everything written so far.
func (d *Digest) Sum() string {
	return base64.StdEncoding.EncodeToString(d.h.Sum(nil))
}

// HashReaderAt digests r from offset zero until EOF using DigestChunkSize
// positional reads.
func HashReaderAt(r io.ReaderAt) (string, error) {
	d := NewDigest()
	buf := make([]byte, DigestChunkSize)
	var off int64
	for {
		n, err := r.ReadAt(buf, off)
		if n > 0 {
			d.Write(buf[:n])
			off += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return d.Sum(), nil
		}
		if err != nil {
			return "", fmt.Errorf("reading at offset %d: %w", off, err)
		}
		if n == 0 {
			return "", ErrShortRead
		}
	}
}

// GetHash digests everything read from r.
func GetHash(r io.Reader) (string, error) {
	d := NewDigest()
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return d.Sum(), nil
}

// GetFileHash digests the file at path on fsys.
func GetFileHash(fsys afero.Fs, path string) (string, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", ErrExpectedFile
	}
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, err := HashReaderAt(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hash, nil
}

// BucketFor maps name to one of BucketCount directory names.
func BucketFor(name string) string {
	return fmt.Sprintf("%03d", colorhash.HashString(name)%BucketCount)
}
