package demmosaic

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// UniqueFilename returns filename if nothing exists there, otherwise the
// first of filename with _1, _2, ... inserted before the extension that does
// not exist. Nothing is reserved, so concurrent callers sharing a directory
// may receive the same name.
func UniqueFilename(filename string) (string, error) {
	return uniqueName(filename, func(candidate string) (bool, error) {
		switch _, err := os.Lstat(candidate); {
		case errors.Is(err, fs.ErrNotExist):
			return false, nil
		case err != nil:
			return false, err
		default:
			return true, nil
		}
	})
}

// uniqueName returns the first of name, then name with _1, _2, ... inserted
// before the extension, for which taken returns false.
func uniqueName(name string, taken func(string) (bool, error)) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		switch isTaken, err := taken(candidate); {
		case err != nil:
			return "", err
		case !isTaken:
			return candidate, nil
		}
		candidate = base + "_" + strconv.Itoa(i) + ext
	}
}

// Relocate moves filename into dir, which must already exist, using a unique
// name. It returns the new filename.
func Relocate(filename, dir string) (string, error) {
	switch fileInfo, err := os.Stat(dir); {
	case err != nil:
		return "", err
	case !fileInfo.IsDir():
		return "", &fs.PathError{Op: "relocate", Path: dir, Err: syscall.ENOTDIR}
	}

	dest, err := UniqueFilename(filepath.Join(dir, filepath.Base(filename)))
	if err != nil {
		return "", err
	}
	switch err := os.Rename(filename, dest); {
	case errors.Is(err, syscall.EXDEV):
		if err := copyFile(filename, dest); err != nil {
			return "", err
		}
		return dest, os.Remove(filename)
	case err != nil:
		return "", err
	default:
		return dest, nil
	}
}

// copyFile copies src to dest, removing dest on failure.
func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dest)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// removeDirContents removes every entry in dir, leaving dir itself in place.
// It continues after errors and returns them all joined.
func removeDirContents(dir string) error {
	dirEntries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	var errs []error
	for _, dirEntry := range dirEntries {
		if err := os.RemoveAll(filepath.Join(dir, dirEntry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
