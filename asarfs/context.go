package asarfs

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/asar"
	"github.com/dendrascience/asarfs/util"
	"github.com/dendrascience/asarfs/version"
)

// Options configures NewContext. The zero value serves .asar archives with
// integrity checking enabled and no integrity source, which makes the first
// tracked access fatal.
type Options struct {
	Suffix string
	// NoAsar disables archive interpretation. Callers resolve process roles
	// with DisabledFor before setting it.
	NoAsar   bool
	LogReads bool

	Integrity IntegritySource
	// Builtin overrides BuiltinChecksums.
	Builtin string
	// RequireBuiltin makes a missing built-in table fatal. Release builds
	// always require it.
	RequireBuiltin bool
	SkipIntegrity  bool
	Workers       int

	// TempDir holds copied out members and access logs.
	TempDir string
	Opener  Opener
	Inodes  util.InodeCounter
	Process Process
	Now     func() time.Time
}

// Context owns the registry, the verifier and the stat synthesis state of one
// overlay. Create it with NewContext and release it with Shutdown.
type Context struct {
	base       afero.Fs
	suffix     string
	tempDir    string
	logReads   bool
	classifier *Classifier
	registry   *Registry
	verifier   *Verifier
	inodes     util.InodeCounter
	process    Process
	fakeTime   time.Time
	uid, gid   uint32

	fatal        chan *IntegrityFailure
	shutdownOnce sync.Once
	shutdownErr  error
}

// ArchiveOpener opens asar containers from fsys.
func ArchiveOpener(fsys afero.Fs, tempDir string) Opener {
	return OpenerFunc(func(path string) (Archive, error) {
		a, err := asar.Open(fsys, path, asar.WithTempDir(tempDir))
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}

// NewContext builds a context over base.
func NewContext(base afero.Fs, opts Options) *Context {
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Opener == nil {
		opts.Opener = ArchiveOpener(base, opts.TempDir)
	}
	if opts.Inodes == nil {
		opts.Inodes = util.ProcessInodes()
	}
	if opts.Process == nil {
		opts.Process = OSProcess{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Builtin == "" {
		opts.Builtin = BuiltinChecksums
	}

	c := &Context{
		base:       base,
		suffix:     opts.Suffix,
		tempDir:    opts.TempDir,
		logReads:   opts.LogReads,
		classifier: NewClassifier(opts.Suffix, opts.NoAsar),
		inodes:     opts.Inodes,
		process:    opts.Process,
		fakeTime:   opts.Now(),
		uid:        currentID(os.Getuid()),
		gid:        currentID(os.Getgid()),
		fatal:      make(chan *IntegrityFailure, 1),
	}
	c.verifier = NewVerifier(VerifierConfig{
		Fs:       base,
		Source:   opts.Integrity,
		Builtin:        opts.Builtin,
		RequireBuiltin: opts.RequireBuiltin || version.IsRelease(),
		Suffix:         opts.Suffix,
		Workers:        opts.Workers,
		Disabled:       opts.SkipIntegrity,
		Report:         c.report,
	})
	c.registry = NewRegistry(opts.Opener, func(path string, a Archive) error {
		_, err := c.verifier.schedule(path, a)
		return err
	})
	if opts.NoAsar {
		log.Info().Msg("archive support disabled")
	}
	return c
}

func currentID(id int) uint32 {
	if id < 0 {
		return 0
	}
	return uint32(id)
}

func (c *Context) report(f *IntegrityFailure) {
	select {
	case c.fatal <- f:
	default:
	}
}

// Fatal delivers the first integrity failure of the context.
func (c *Context) Fatal() <-chan *IntegrityFailure { return c.fatal }

func (c *Context) Classifier() *Classifier { return c.classifier }
func (c *Context) Registry() *Registry     { return c.registry }
func (c *Context) Verifier() *Verifier     { return c.verifier }

// FakeTime is the timestamp given to archive members.
func (c *Context) FakeTime() time.Time { return c.fakeTime }

// track schedules the check every pass-through path gets.
func (c *Context) track(path string) {
	c.verifier.Verify(path, nil)
}

// Shutdown stops new archive opens, waits for queued checks and then closes
// every archive. It is safe to call more than once.
func (c *Context) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.registry.Stop()
		c.verifier.Close()
		c.shutdownErr = c.registry.Shutdown()
		log.Debug().Msg("archive context shut down")
	})
	return c.shutdownErr
}
