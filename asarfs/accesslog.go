package asarfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// accessLog appends "<offset>: <inner path>" lines for every packed read,
// one file per archive basename in the temporary directory.
type accessLog struct {
	base   afero.Fs
	dir    string
	suffix string

	mu    sync.Mutex
	files map[string]afero.File
}

func newAccessLog(base afero.Fs, dir, suffix string) *accessLog {
	return &accessLog{base: base, dir: dir, suffix: suffix, files: make(map[string]afero.File)}
}

// AccessLogPath is where reads from archive are logged.
func AccessLogPath(dir, archive, suffix string) string {
	name := strings.TrimSuffix(filepath.Base(archive), suffix)
	return filepath.Join(dir, name+"-access-log.txt")
}

func (l *accessLog) record(archive, inner string, offset int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.files[archive]
	if !ok {
		p := AccessLogPath(l.dir, archive, l.suffix)
		var err error
		f, err = l.base.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Warn().Err(err).Str("log", p).Msg("cannot open access log")
			return
		}
		log.Info().Str("archive", archive).Str("log", p).Msg("logging archive reads")
		l.files[archive] = f
	}
	if _, err := fmt.Fprintf(f, "%d: %s\n", offset, inner); err != nil {
		log.Warn().Err(err).Str("archive", archive).Msg("cannot write access log")
	}
}

func (l *accessLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for archive, f := range l.files {
		errs = append(errs, f.Close())
		delete(l.files, archive)
	}
	return errors.Join(errs...)
}
