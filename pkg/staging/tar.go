package staging

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Pack writes root to w as a tar stream. A directory is packed as its
// contents; a single file is packed under its base name.
func Pack(w io.Writer, root string) (int64, error) {
	tw := tar.NewWriter(w)

	info, err := os.Lstat(root)
	if err != nil {
		return 0, err
	}

	var total int64
	if !info.IsDir() {
		total, err = packEntry(tw, root, filepath.Base(root), info)
	} else {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == root {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			n, err := packEntry(tw, p, filepath.ToSlash(rel), info)
			total += n
			return err
		})
	}
	if err != nil {
		return total, fmt.Errorf("pack %s: %w", root, err)
	}
	return total, tw.Close()
}

func packEntry(tw *tar.Writer, p, name string, info fs.FileInfo) (int64, error) {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return 0, err
		}
		link = target
	} else if !info.IsDir() && !info.Mode().IsRegular() {
		return 0, nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return 0, err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(tw, f)
}

// Unpack extracts a tar stream below dst. Entries that would land outside dst
// are rejected, and nothing is ever written through a symlink, whether it
// came from the stream or already existed under dst.
func Unpack(r io.Reader, dst string) (int64, error) {
	tr := tar.NewReader(r)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return 0, err
	}
	root := filepath.Clean(dst)

	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return total, fmt.Errorf("tar entry %q escapes %s", hdr.Name, dst)
		}
		if target != root {
			if err := checkParents(root, target); err != nil {
				return total, fmt.Errorf("tar entry %q: %w", hdr.Name, err)
			}
		}

		mode := fs.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if target != root {
				if err := removeSymlink(target); err != nil {
					return total, err
				}
			}
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return total, err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return total, err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return total, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return total, err
			}
			if err := removeSymlink(target); err != nil {
				return total, err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
			if err != nil {
				return total, err
			}
			n, err := io.Copy(out, tr)
			total += n
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// checkParents fails if any existing directory between root and target is a
// symlink.
func checkParents(root, target string) error {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	cur := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("parent %s is a symlink", cur)
		}
	}
	return nil
}

// removeSymlink deletes target if it is a symlink so the next write creates
// a regular entry instead of following the link.
func removeSymlink(target string) error {
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	return os.Remove(target)
}
