package asarfs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/dendrascience/asarfs/util"
)

// State is the verification state of a basename.
type State int

const (
	Unchecked State = iota
	Checking
	Verified
	Rejected
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Verified:
		return "verified"
	case Rejected:
		return "rejected"
	}
	return "unchecked"
}

// DefaultWorkers is the verifier pool size when none is configured.
const DefaultWorkers = 2

// VerifierConfig configures NewVerifier.
type VerifierConfig struct {
	Fs      afero.Fs
	Source  IntegritySource
	Builtin string
	// RequireBuiltin fails the table load when Builtin is empty.
	RequireBuiltin bool
	Suffix         string
	Workers        int
	// Disabled turns every check into a no-op.
	Disabled bool
	// Report receives every fatal failure. It must not block.
	Report func(*IntegrityFailure)
}

type verifyTask struct {
	path    string
	archive Archive
	done    chan error
}

// Verifier checks digests of tracked basenames on a pool of workers.
type Verifier struct {
	cfg VerifierConfig

	loadOnce  sync.Once
	checksums map[string]string
	loadErr   *IntegrityFailure

	mu     sync.Mutex
	states map[string]State
	flight singleflight.Group

	// queueMu guards the task list, the pending count and closed.
	queueMu sync.Mutex
	work    *sync.Cond
	drained *sync.Cond
	tasks   []verifyTask
	pending int
	closed  bool
	workers sync.WaitGroup
}

// NewVerifier starts the worker pool. Close stops it.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	v := &Verifier{
		cfg:    cfg,
		states: make(map[string]State),
	}
	v.work = sync.NewCond(&v.queueMu)
	v.drained = sync.NewCond(&v.queueMu)
	for range cfg.Workers {
		v.workers.Add(1)
		go v.run()
	}
	return v
}

func (v *Verifier) run() {
	defer v.workers.Done()
	for {
		task, ok := v.next()
		if !ok {
			return
		}
		task.done <- v.check(task.path, task.archive)
		close(task.done)
		v.finish()
	}
}

// next blocks until a task is queued. It reports false once the verifier is
// closed and the list is empty.
func (v *Verifier) next() (verifyTask, bool) {
	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	for len(v.tasks) == 0 && !v.closed {
		v.work.Wait()
	}
	if len(v.tasks) == 0 {
		return verifyTask{}, false
	}
	task := v.tasks[0]
	v.tasks[0] = verifyTask{}
	v.tasks = v.tasks[1:]
	return task, true
}

func (v *Verifier) finish() {
	v.queueMu.Lock()
	v.pending--
	if v.pending == 0 {
		v.drained.Broadcast()
	}
	v.queueMu.Unlock()
}

// Verify schedules a check of path and returns immediately. archive, when
// set, is the open handle whose container descriptor should be digested.
// The returned channel yields the outcome once and is then closed.
func (v *Verifier) Verify(path string, archive Archive) <-chan error {
	done, err := v.schedule(path, archive)
	if err != nil {
		failed := make(chan error, 1)
		failed <- err
		close(failed)
		return failed
	}
	return done
}

// schedule queues a check without waiting. It fails with ErrShutdown once
// the verifier is closed and a check would have been needed.
func (v *Verifier) schedule(path string, archive Archive) (chan error, error) {
	done := make(chan error, 1)
	if v.cfg.Disabled || v.settled(path) {
		close(done)
		return done, nil
	}

	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	if v.closed {
		return nil, ErrShutdown
	}
	v.tasks = append(v.tasks, verifyTask{path: path, archive: archive, done: done})
	v.pending++
	v.work.Signal()
	return done, nil
}

// settled reports whether a check of path is known to be a no-op without
// touching the queue.
func (v *Verifier) settled(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.checksums == nil {
		return false
	}
	base := filepath.Base(path)
	if st := v.states[base]; st == Verified || st == Rejected {
		return true
	}
	_, tracked := v.checksums[base]
	return !tracked && !strings.HasSuffix(base, v.cfg.Suffix)
}

// Wait blocks until every scheduled check has finished.
func (v *Verifier) Wait() {
	v.queueMu.Lock()
	defer v.queueMu.Unlock()
	for v.pending > 0 {
		v.drained.Wait()
	}
}

// State returns the state of basename.
func (v *Verifier) State(basename string) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[basename]
}

func (v *Verifier) setState(basename string, st State) {
	v.mu.Lock()
	v.states[basename] = st
	v.mu.Unlock()
}

// Close stops accepting checks, lets the workers finish the queued ones and
// waits for them.
func (v *Verifier) Close() {
	v.queueMu.Lock()
	if v.closed {
		v.queueMu.Unlock()
		return
	}
	v.closed = true
	v.work.Broadcast()
	v.queueMu.Unlock()
	v.workers.Wait()
}

func (v *Verifier) load() (map[string]string, *IntegrityFailure) {
	v.loadOnce.Do(func() {
		checksums, err := loadChecksums(v.cfg.Source, v.cfg.Builtin, v.cfg.RequireBuiltin)
		v.mu.Lock()
		v.checksums, v.loadErr = checksums, err
		v.mu.Unlock()
		if err == nil {
			log.Debug().Int("checksums", len(checksums)).Msg("loaded integrity checksums")
		}
	})
	return v.checksums, v.loadErr
}

func (v *Verifier) check(path string, archive Archive) error {
	checksums, failure := v.load()
	if failure != nil {
		return v.fail(failure)
	}

	base := filepath.Base(path)
	expected, tracked := checksums[base]
	if !tracked {
		if strings.HasSuffix(base, v.cfg.Suffix) {
			return v.fail(damagedApp(path, "checksum not specified"))
		}
		return nil
	}

	_, err, _ := v.flight.Do(base, func() (any, error) {
		switch v.State(base) {
		case Verified, Rejected:
			return nil, nil
		}
		v.setState(base, Checking)

		actual, err := v.digest(path, archive)
		if err != nil {
			v.setState(base, Unchecked)
			return nil, fmt.Errorf("hashing %s: %w", path, err)
		}
		if actual != expected {
			v.setState(base, Rejected)
			return nil, v.fail(&IntegrityFailure{
				Code:     CodeDamagedFile,
				Path:     path,
				Expected: expected,
				Actual:   actual,
			})
		}
		v.setState(base, Verified)
		log.Debug().Str("path", path).Msg("integrity verified")
		return nil, nil
	})
	return err
}

func (v *Verifier) digest(path string, archive Archive) (string, error) {
	if archive != nil {
		r, err := archive.File()
		if err != nil {
			return "", err
		}
		return util.HashReaderAt(r)
	}
	f, err := v.cfg.Fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return util.HashReaderAt(f)
}

func (v *Verifier) fail(f *IntegrityFailure) error {
	log.Error().Str("code", f.Code).Str("path", f.Path).Msg(f.Error())
	if v.cfg.Report != nil {
		v.cfg.Report(f)
	}
	return f
}

