package asarfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/asar"
	"github.com/dendrascience/asarfs/util"
)

func TestStatMember(t *testing.T) {
	f, _ := newTestFS(t, Options{Inodes: util.NewCounter(100)})

	fi, err := f.Stat(appArchive + "/main.js")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	st, ok := fi.Sys().(*Stats)
	if !ok {
		t.Fatalf("Sys() = %T, want *Stats", fi.Sys())
	}
	if fi.Name() != "main.js" || fi.Size() != int64(len("console.log('hi')")) || fi.IsDir() {
		t.Errorf("Stat() = name %s size %d dir %v", fi.Name(), fi.Size(), fi.IsDir())
	}
	if st.Dev != 1 || st.Nlink != 1 || st.RawMode != 33188 || st.Ino != 101 {
		t.Errorf("Stats = %+v", st)
	}
	if !st.IsFile() || fi.Mode() != 0o644 {
		t.Errorf("Mode() = %v, IsFile() = %v", fi.Mode(), st.IsFile())
	}
	for name, ts := range map[string]time.Time{"atime": st.Atime, "mtime": st.Mtime, "ctime": st.Ctime, "birthtime": st.Birthtime} {
		if !ts.Equal(fixedTime) {
			t.Errorf("%s = %v, want %v", name, ts, fixedTime)
		}
	}
	if st.Uid != currentID(os.Getuid()) || st.Gid != currentID(os.Getgid()) {
		t.Errorf("uid/gid = %d/%d", st.Uid, st.Gid)
	}

	again, _ := f.Lstat(appArchive + "/main.js")
	if ino := again.Sys().(*Stats).Ino; ino != 102 {
		t.Errorf("second stat inode = %d, want 102", ino)
	}
}

func TestStatDirectories(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	for _, p := range []string{appArchive, appArchive + "/", appArchive + "/lib", appArchive + "/assets"} {
		fi, err := f.Stat(p)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", p, err)
		}
		if !fi.IsDir() || fi.Mode()&fs.ModeDir == 0 {
			t.Errorf("Stat(%s) is not a directory", p)
		}
	}
	fi, isLstat, err := f.LstatIfPossible(appArchive + "/lib")
	if err != nil || !isLstat || !fi.IsDir() {
		t.Errorf("LstatIfPossible() = %v, %v, %v", fi, isLstat, err)
	}
}

func TestErrors(t *testing.T) {
	f, _ := newTestFS(t, Options{})

	_, err := f.Stat(appArchive + "/missing.js")
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("Stat(missing) error = %v, want *Error", err)
	}
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing member error %v does not match not-found", err)
	}
	if aerr.Code() != "ENOENT" || aerr.Errno() != -2 || aerr.Path != "missing.js" || aerr.Archive != appArchive {
		t.Errorf("Error = %+v code %s errno %d", aerr, aerr.Code(), aerr.Errno())
	}

	_, err = f.Stat(bogusArchive + "/main.js")
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("Stat(invalid archive) error = %v, want ErrInvalidArchive", err)
	}
	if !strings.Contains(err.Error(), "Invalid package "+bogusArchive) {
		t.Errorf("invalid archive message = %q", err)
	}

	_, err = f.ReadDirNames(appArchive + "/main.js")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadDirNames(file) error = %v, want ErrNotFound", err)
	}
}

func TestExists(t *testing.T) {
	f, fsys := newTestFS(t, Options{})
	afero.WriteFile(fsys, "/etc/hosts", []byte("x"), 0o644)
	tests := map[string]bool{
		appArchive:                    true,
		appArchive + "/lib/util.js":   true,
		appArchive + "/native.node":   true,
		appArchive + "/nope":          false,
		bogusArchive + "/main.js":     false,
		"/etc/hosts":                  true,
		"/etc/missing":                false,
	}
	for p, want := range tests {
		if got := f.Exists(p); got != want {
			t.Errorf("Exists(%s) = %v, want %v", p, got, want)
		}
	}
	if _, ok := f.StatNoError(bogusArchive + "/x"); ok {
		t.Error("StatNoError() succeeded inside an invalid archive")
	}
	if _, ok := f.StatNoError(appArchive + "/main.js"); !ok {
		t.Error("StatNoError() failed for a member")
	}
}

func TestReadFile(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	tests := map[string]string{
		appArchive + "/main.js":     "console.log('hi')",
		appArchive + "/lib/util.js": "module.exports = 1",
		appArchive + "/native.node": "NATIVE",
	}
	for p, want := range tests {
		got, err := f.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", p, err)
		}
		if string(got) != want {
			t.Errorf("ReadFile(%s) = %q, want %q", p, got, want)
		}
	}
	if _, err := f.ReadFile(appArchive + "/lib"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile(dir) error = %v, want ErrNotFound", err)
	}

	r, err := f.OpenReader(appArchive + "/lib/util.js")
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "module.exports = 1" {
		t.Errorf("OpenReader() contents = %q", got)
	}
}

func TestZeroSizeReadSkipsDescriptor(t *testing.T) {
	fsys := afero.NewMemMapFs()
	packApp(t, fsys)
	opener := &spyOpener{inner: ArchiveOpener(fsys, "/tmp")}
	ctx := NewContext(fsys, Options{SkipIntegrity: true, Opener: opener, TempDir: "/tmp"})
	defer ctx.Shutdown()
	f := Install(fsys, ctx)

	got, err := f.ReadFile(appArchive + "/empty.js")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ReadFile() = %#v, want empty", got)
	}
	r, err := f.OpenReader(appArchive + "/empty.js")
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	if data, _ := io.ReadAll(r); len(data) != 0 {
		t.Errorf("OpenReader() = %q, want empty", data)
	}
	if n := opener.opened[0].files.Load(); n != 0 {
		t.Errorf("descriptor requested %d times for empty reads", n)
	}
}

func TestReadDirNames(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	got, err := f.ReadDirNames(appArchive)
	if err != nil {
		t.Fatalf("ReadDirNames() error = %v", err)
	}
	want := []string{"assets", "bin", "empty.js", "lib", "main.js", "native.node"}
	if !slices.Equal(got, want) {
		t.Errorf("ReadDirNames() = %v, want %v", got, want)
	}
}

func TestOpen(t *testing.T) {
	f, fsys := newTestFS(t, Options{})

	file, err := f.Open(appArchive + "/lib/util.js")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(file)
	file.Close()
	if string(data) != "module.exports = 1" {
		t.Errorf("Open() contents = %q", data)
	}
	if !strings.HasPrefix(file.Name(), "/tmp/asarfs-") {
		t.Errorf("copied member at %s, want under /tmp", file.Name())
	}
	if exists, _ := afero.Exists(fsys, file.Name()); !exists {
		t.Errorf("copy %s missing", file.Name())
	}

	dir, err := f.Open(appArchive + "/lib")
	if err != nil {
		t.Fatalf("Open(dir) error = %v", err)
	}
	names, err := dir.Readdirnames(-1)
	if err != nil || !slices.Equal(names, []string{"util.js"}) {
		t.Errorf("Readdirnames() = %v, %v", names, err)
	}

	if _, err := f.OpenFile(appArchive+"/main.js", os.O_RDWR, 0); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("OpenFile(O_RDWR) error = %v, want permission denied", err)
	}
	if _, err := f.Open(appArchive + "/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWritesRefused(t *testing.T) {
	f, fsys := newTestFS(t, Options{})
	member := appArchive + "/main.js"

	if err := f.Mkdir(appArchive+"/newdir", 0o755); !errors.Is(err, ErrNotADirectory) {
		t.Errorf("Mkdir() error = %v, want ErrNotADirectory", err)
	}
	var aerr *Error
	if err := f.MkdirAll(appArchive+"/a/b", 0o755); !errors.As(err, &aerr) || aerr.Errno() != -20 {
		t.Errorf("MkdirAll() error = %v, want ENOTDIR", err)
	}

	refused := map[string]error{}
	_, refused["create"] = f.Create(appArchive + "/new.js")
	refused["remove"] = f.Remove(member)
	refused["removeall"] = f.RemoveAll(appArchive + "/lib")
	refused["rename"] = f.Rename(member, "/tmp/main.js")
	refused["rename into"] = f.Rename("/etc/x", appArchive+"/x")
	refused["chmod"] = f.Chmod(member, 0o777)
	refused["chown"] = f.Chown(member, 0, 0)
	refused["chtimes"] = f.Chtimes(member, fixedTime, fixedTime)
	for op, err := range refused {
		if !errors.Is(err, ErrPermissionDenied) || !errors.Is(err, fs.ErrPermission) {
			t.Errorf("%s error = %v, want permission denied", op, err)
		}
	}

	if err := f.MkdirAll("/var/data", 0o755); err != nil {
		t.Errorf("MkdirAll() outside archives error = %v", err)
	}
	if exists, _ := afero.DirExists(fsys, "/var/data"); !exists {
		t.Error("MkdirAll() outside archives did not reach the base")
	}
}

func TestContainerPathWritable(t *testing.T) {
	f, _ := newTestFS(t, Options{})

	tests := []struct {
		name    string
		path    string
		flag    int
		refused bool
	}{
		{name: "container write only", path: appArchive, flag: os.O_WRONLY},
		{name: "container read write", path: appArchive, flag: os.O_RDWR},
		{name: "member write only", path: appArchive + "/main.js", flag: os.O_WRONLY, refused: true},
		{name: "member append", path: appArchive + "/main.js", flag: os.O_WRONLY | os.O_APPEND, refused: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := f.OpenFile(tt.path, tt.flag, 0)
			if tt.refused {
				if !errors.Is(err, fs.ErrPermission) {
					t.Errorf("OpenFile(%s) error = %v, want permission denied", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenFile(%s) error = %v", tt.path, err)
			}
			file.Close()
		})
	}

	if err := f.Chmod(appArchive, 0o644); err != nil {
		t.Errorf("Chmod(container) error = %v", err)
	}
}

func TestErrorMessageNamesArchive(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "member", err: &Error{Op: "open", Path: "main.js", Archive: appArchive, Err: ErrPermissionDenied}, want: "open main.js: EACCES, permission denied"},
		{name: "container", err: &Error{Op: "open", Archive: appArchive, Err: ErrPermissionDenied}, want: "open " + appArchive + ": EACCES, permission denied"},
		{name: "invalid container", err: &Error{Op: "stat", Archive: bogusArchive, Err: ErrInvalidArchive}, want: "stat " + bogusArchive + ": Invalid package " + bogusArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClosedArchiveIsNotMissing(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	member := appArchive + "/main.js"
	if _, err := f.ReadFile(member); err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	a, ok := f.Context().Registry().GetOrCreate(appArchive)
	if !ok {
		t.Fatal("archive not registered")
	}
	a.Close()

	tests := []struct {
		name string
		read func() error
	}{
		{name: "read file", read: func() error { _, err := f.ReadFile(member); return err }},
		{name: "open reader", read: func() error { _, err := f.OpenReader(member); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read()
			if !errors.Is(err, asar.ErrClosed) {
				t.Errorf("error = %v, want ErrClosed", err)
			}
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v reported as not found", err)
			}
		})
	}
}

func TestAccess(t *testing.T) {
	f, fsys := newTestFS(t, Options{})
	afero.WriteFile(fsys, "/etc/readonly", []byte("x"), 0o444)

	tests := []struct {
		path string
		mode uint32
		want error
	}{
		{path: appArchive + "/main.js", mode: AccessRead},
		{path: appArchive + "/main.js", mode: AccessExists},
		{path: appArchive + "/lib", mode: AccessRead},
		{path: appArchive + "/main.js", mode: AccessWrite, want: ErrPermissionDenied},
		{path: appArchive + "/missing", mode: AccessRead, want: ErrNotFound},
		{path: appArchive + "/native.node", mode: AccessWrite},
		{path: "/etc/readonly", mode: AccessRead},
		{path: "/etc/readonly", mode: AccessWrite, want: fs.ErrPermission},
	}
	for _, tt := range tests {
		err := f.Access(tt.path, tt.mode)
		if tt.want == nil && err != nil {
			t.Errorf("Access(%s, %d) error = %v", tt.path, tt.mode, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("Access(%s, %d) error = %v, want %v", tt.path, tt.mode, err, tt.want)
		}
	}
}

func TestRealpath(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	got, err := f.Realpath("/app/resources/../resources/app.asar/lib/util.js")
	if err != nil {
		t.Fatalf("Realpath() error = %v", err)
	}
	if want := filepath.Join(appArchive, "lib", "util.js"); got != want {
		t.Errorf("Realpath() = %s, want %s", got, want)
	}
	if _, err := f.Realpath(appArchive + "/nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Realpath(missing) error = %v", err)
	}
}

func TestModuleHelpers(t *testing.T) {
	f, fsys := newTestFS(t, Options{})
	afero.WriteFile(fsys, "/node_modules/x/index.js", []byte("x"), 0o644)

	stats := map[string]int{
		appArchive + "/main.js":    0,
		appArchive + "/lib":        1,
		appArchive:                 1,
		appArchive + "/nope.js":    -2,
		bogusArchive + "/index.js": -2,
		"/node_modules/x/index.js": 0,
		"/node_modules/x":          1,
		"/node_modules/y":          -2,
	}
	for p, want := range stats {
		if got := f.ModuleStat(p); got != want {
			t.Errorf("ModuleStat(%s) = %d, want %d", p, got, want)
		}
	}

	if src, ok := f.ReadModuleFile(appArchive + "/lib/util.js"); !ok || src != "module.exports = 1" {
		t.Errorf("ReadModuleFile() = %q, %v", src, ok)
	}
	if _, ok := f.ReadModuleFile(appArchive + "/nope.js"); ok {
		t.Error("ReadModuleFile(missing) succeeded")
	}
	if src, ok := f.ReadModuleFile("/node_modules/x/index.js"); !ok || src != "x" {
		t.Errorf("ReadModuleFile(base) = %q, %v", src, ok)
	}
}

func TestDisabled(t *testing.T) {
	f, _ := newTestFS(t, Options{NoAsar: true})

	fi, err := f.Stat(appArchive)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if fi.IsDir() {
		t.Error("archive reported as a directory while disabled")
	}
	_, err = f.ReadFile(appArchive + "/main.js")
	var aerr *Error
	if err == nil || errors.As(err, &aerr) {
		t.Errorf("ReadFile() while disabled error = %v, want a base error", err)
	}
	if f.Context().Registry().Len() != 0 {
		t.Error("archive opened while disabled")
	}
}

func TestSetNoAsar(t *testing.T) {
	f, _ := newTestFS(t, Options{})
	f.SetNoAsar(true)
	if f.Exists(appArchive + "/main.js") {
		t.Error("member visible after SetNoAsar(true)")
	}
	f.SetNoAsar(false)
	if !f.Exists(appArchive + "/main.js") {
		t.Error("member hidden after SetNoAsar(false)")
	}
}

func TestAccessLog(t *testing.T) {
	f, fsys := newTestFS(t, Options{LogReads: true})
	for range 2 {
		if _, err := f.ReadFile(appArchive + "/main.js"); err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
	}
	if _, err := f.ReadFile(appArchive + "/empty.js"); err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	a, _ := f.Context().Registry().GetOrCreate(appArchive)
	info, _ := a.FileInfo("main.js")
	f.Close()

	data, err := afero.ReadFile(fsys, "/tmp/app-access-log.txt")
	if err != nil {
		t.Fatalf("reading access log: %v", err)
	}
	line := strings.Repeat(strconv.FormatInt(info.Offset, 10)+": main.js\n", 2)
	if string(data) != line {
		t.Errorf("access log = %q, want %q", data, line)
	}
}

func TestExecAndLoad(t *testing.T) {
	proc := &fakeProcess{}
	f, fsys := newTestFS(t, Options{Process: proc})
	ctx := context.Background()

	if _, err := f.ExecFile(ctx, appArchive+"/bin/tool", "--version"); err != nil {
		t.Fatalf("ExecFile() error = %v", err)
	}
	if _, err := f.ExecFile(ctx, "/usr/bin/env"); err != nil {
		t.Fatalf("ExecFile() error = %v", err)
	}
	if len(proc.execed) != 2 || proc.execed[1] != "/usr/bin/env" {
		t.Fatalf("executed %v", proc.execed)
	}
	tool := proc.execed[0]
	fi, err := fsys.Stat(tool)
	if err != nil {
		t.Fatalf("copied tool missing: %v", err)
	}
	if fi.Mode().Perm()&0o111 == 0 {
		t.Errorf("copied tool mode = %v, want executable", fi.Mode())
	}

	cmd := "cat " + appArchive + "/main.js"
	if _, err := f.Exec(ctx, cmd); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(proc.commands) != 1 || proc.commands[0] != cmd {
		t.Errorf("Exec() ran %v, want the command unchanged", proc.commands)
	}

	if _, err := f.LoadNative(appArchive + "/native.node"); err != nil {
		t.Fatalf("LoadNative() error = %v", err)
	}
	if _, err := f.Dlopen("/usr/lib/libz.so"); err != nil {
		t.Fatalf("Dlopen() error = %v", err)
	}
	want := []string{filepath.Join(appArchive+".unpacked", "native.node"), "/usr/lib/libz.so"}
	if !slices.Equal(proc.loaded, want) {
		t.Errorf("loaded %v, want %v", proc.loaded, want)
	}

	if _, err := f.ExecFile(ctx, appArchive+"/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExecFile(missing) error = %v", err)
	}
}
