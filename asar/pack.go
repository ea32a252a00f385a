package asar

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrDestInsideSource = errors.New("destination is inside the source directory")

// PackOptions controls which members are left outside the container.
type PackOptions struct {
	// Unpack is matched against member base names.
	Unpack string
	// UnpackDir is matched against every ancestor directory of a member,
	// relative to the source root.
	UnpackDir string
}

func (o PackOptions) unpacked(rel string) bool {
	if o.Unpack != "" {
		if ok, _ := path.Match(o.Unpack, path.Base(rel)); ok {
			return true
		}
	}
	if o.UnpackDir != "" {
		for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
			if ok, _ := path.Match(o.UnpackDir, dir); ok {
				return true
			}
		}
	}
	return false
}

type member struct {
	src  string
	rel  string
	size int64
	mode os.FileMode
}

// Pack writes the tree under src into a new container at dest. Unpacked
// members are copied to dest+".unpacked".
func Pack(fsys afero.Fs, src, dest string, opts PackOptions) error {
	if rel, err := filepath.Rel(src, dest); err == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("packing %s into %s: %w", src, dest, ErrDestInsideSource)
	}

	root := &Entry{Files: map[string]*Entry{}}
	var packed, unpacked []member
	var offset int64

	err := afero.Walk(fsys, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		parent := directory(root, path.Dir(rel))
		name := path.Base(rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := linkTarget(fsys, src, p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("skipping link")
				return nil
			}
			parent.Files[name] = &Entry{Link: target}
		case info.IsDir():
			if _, ok := parent.Files[name]; !ok {
				parent.Files[name] = &Entry{Files: map[string]*Entry{}}
			}
		case info.Mode().IsRegular():
			e := &Entry{Size: info.Size(), Executable: info.Mode()&0o111 != 0}
			m := member{src: p, rel: rel, size: info.Size(), mode: info.Mode().Perm()}
			if opts.unpacked(rel) {
				e.Unpacked = true
				unpacked = append(unpacked, m)
			} else {
				e.Offset = strconv.FormatInt(offset, 10)
				offset += info.Size()
				packed = append(packed, m)
			}
			parent.Files[name] = e
		default:
			log.Debug().Str("path", p).Msg("skipping special file")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", src, err)
	}

	if err := writeContainer(fsys, dest, root, packed); err != nil {
		return err
	}
	for _, m := range unpacked {
		target := filepath.Join(dest+UnpackedSuffix, filepath.FromSlash(m.rel))
		if err := copyMember(fsys, m, target); err != nil {
			return err
		}
	}
	return nil
}

// directory returns the directory entry for dir, creating missing parents.
func directory(root *Entry, dir string) *Entry {
	node := root
	if dir == "." {
		return node
	}
	for _, part := range strings.Split(dir, "/") {
		child, ok := node.Files[part]
		if !ok || !child.IsDir() {
			child = &Entry{Files: map[string]*Entry{}}
			node.Files[part] = child
		}
		node = child
	}
	return node
}

// linkTarget returns the target of the link at p relative to src. Links that
// leave src cannot be represented.
func linkTarget(fsys afero.Fs, src, p string) (string, error) {
	lr, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", errors.New("filesystem cannot read links")
	}
	target, err := lr.ReadlinkIfPossible(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(p), target)
	}
	rel, err := filepath.Rel(src, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("link target %s is outside %s", target, src)
	}
	return filepath.ToSlash(rel), nil
}

func writeContainer(fsys afero.Fs, dest string, root *Entry, packed []member) error {
	header, err := encodeHeader(root)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := fsys.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("writing header of %s: %w", dest, err)
	}
	for _, m := range packed {
		in, err := fsys.Open(m.src)
		if err != nil {
			return err
		}
		_, err = io.CopyN(out, in, m.size)
		in.Close()
		if err != nil {
			return fmt.Errorf("packing %s: %w", m.src, err)
		}
	}
	return out.Close()
}

func copyMember(fsys afero.Fs, m member, target string) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	in, err := fsys.Open(m.src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, m.mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("unpacking %s: %w", m.src, err)
	}
	return out.Close()
}
