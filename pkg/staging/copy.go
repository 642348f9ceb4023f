package staging

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Copy stages src to dst on the local filesystem and returns the number of
// file bytes written.
//
// ModeItem removes any existing dst first so dst ends up identical to src.
// ModeContents requires src to be a directory and merges its entries into dst.
func Copy(src, dst string, mode Mode) (int64, error) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	if src == dst {
		return 0, nil
	}

	info, err := os.Lstat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	switch mode {
	case ModeContents:
		if !info.IsDir() {
			return 0, fmt.Errorf("contents mode needs a directory, %s is not one", src)
		}
	default:
		if err := os.RemoveAll(dst); err != nil {
			return 0, fmt.Errorf("clear destination: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create destination parent: %w", err)
	}

	if !info.IsDir() {
		return copyEntry(src, dst, info)
	}

	var total int64
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		n, err := copyEntry(p, filepath.Join(dst, rel), info)
		total += n
		return err
	})
	if err != nil {
		return total, fmt.Errorf("copy %s: %w", src, err)
	}
	return total, nil
}

func copyEntry(src, dst string, info fs.FileInfo) (int64, error) {
	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
			return 0, err
		}
		return 0, os.Chmod(dst, info.Mode().Perm()|0700)
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return 0, err
		}
		_ = os.Remove(dst)
		return 0, os.Symlink(target, dst)
	case info.Mode().IsRegular():
		return copyFile(src, dst, info.Mode().Perm())
	default:
		// sockets, devices and pipes are not staged
		return 0, nil
	}
}

func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, os.Chmod(dst, perm)
}
