package asarfs

import (
	"errors"
	"fmt"
	"maps"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/util"
)

// MinChecksums is the smallest acceptable expected-checksum table.
const MinChecksums = 2

// BuiltinChecksums is a JSON integrity document compiled into the binary,
// usually through -ldflags "-X". Its entries take precedence over the
// external source. Release builds refuse to verify without it.
var BuiltinChecksums = ""

var (
	ErrNoIntegritySource = errors.New("no integrity source configured")
	ErrNoBuiltin         = errors.New("no built-in checksums compiled in")
)

// IntegritySource supplies the raw integrity document.
type IntegritySource interface {
	Integrity() ([]byte, error)
}

// FileSource reads the integrity document from a file.
type FileSource struct {
	Fs   afero.Fs
	Path string
}

func (s FileSource) Integrity() ([]byte, error) {
	data, err := afero.ReadFile(s.Fs, s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading integrity from %s: %w", s.Path, err)
	}
	return data, nil
}

// BytesSource is an in-memory integrity document.
type BytesSource []byte

func (s BytesSource) Integrity() ([]byte, error) { return s, nil }

// ParseIntegrity reads the "checksums" object of an integrity document. Keys
// are file basenames and values base64 SHA-512 digests.
func ParseIntegrity(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	// Basenames contain dots, so the key path delimiter must not be one.
	k := koanf.New("/")
	if err := k.Load(rawbytes.Provider(raw), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("parsing integrity document: %w", err)
	}
	return k.StringMap("checksums"), nil
}

// MergeChecksums overlays builtin on external.
func MergeChecksums(external, builtin map[string]string) map[string]string {
	merged := make(map[string]string, len(external)+len(builtin))
	maps.Copy(merged, external)
	maps.Copy(merged, builtin)
	return merged
}

// loadChecksums builds the expected table or the failure that must be
// reported for it.
func loadChecksums(src IntegritySource, builtin string, requireBuiltin bool) (map[string]string, *IntegrityFailure) {
	if requireBuiltin && builtin == "" {
		return nil, damagedApp("", ErrNoBuiltin.Error())
	}
	if src == nil {
		return nil, damagedApp("", ErrNoIntegritySource.Error())
	}
	raw, err := src.Integrity()
	if err != nil {
		return nil, damagedApp("", fmt.Sprintf("integrity source unavailable: %v", err))
	}
	external, err := ParseIntegrity(raw)
	if err != nil {
		return nil, damagedApp("", err.Error())
	}
	compiled, err := ParseIntegrity([]byte(builtin))
	if err != nil {
		return nil, damagedApp("", fmt.Sprintf("built-in checksums: %v", err))
	}
	merged := MergeChecksums(external, compiled)
	if len(merged) < MinChecksums {
		return nil, damagedApp("", fmt.Sprintf("%d checksums configured, at least %d required", len(merged), MinChecksums))
	}
	for name, sum := range merged {
		if len(sum) != util.DigestLength {
			log.Warn().Str("file", name).Msg("checksum is not a base64 SHA-512 digest and can never match")
		}
	}
	return merged, nil
}
