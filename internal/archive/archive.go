// Package archive unpacks downloaded update payloads into an install
// directory.
//
// Only zip archives are recognised, by the case-sensitive ".zip" suffix.
// Any other payload is treated as already installed and returned as is.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"updraft/internal/debug"
	apperrors "updraft/internal/errors"
)

// Extension is the file suffix recognised as an archive.
const Extension = ".zip"

// IsArchive reports whether path names a recognised archive.
func IsArchive(path string) bool {
	return strings.HasSuffix(path, Extension)
}

// Unpack extracts archivePath into targetDir and returns the set of files
// written. Directory entries are created idempotently and existing files are
// overwritten; files in targetDir that the archive does not name are left
// alone. Entries that would resolve outside targetDir, lexically or through a
// symlink already present in it, fail the whole operation before anything is
// written.
//
// A path without the archive extension is returned as the only member of
// the set and nothing else happens.
func Unpack(archivePath, targetDir string, deleteAfter bool) (FileSet, error) {
	if !IsArchive(archivePath) {
		return NewFileSet(archivePath), nil
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeExtractionFailed, "resolve target directory", err)
	}

	//nolint:gosec // G304: archive path is the file we just downloaded
	r, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, apperrors.New(apperrors.CodeExtractionFailed,
			fmt.Sprintf("open archive %s: %v", archivePath, err), err)
	}

	files, err := extract(&r.Reader, root)
	if cerr := r.Close(); cerr != nil && err == nil {
		err = apperrors.New(apperrors.CodeExtractionFailed, "close archive", cerr)
	}
	if err != nil {
		return nil, err
	}

	if deleteAfter {
		if err := os.Remove(archivePath); err != nil {
			return nil, apperrors.New(apperrors.CodeExtractionFailed,
				fmt.Sprintf("delete archive %s: %v", archivePath, err), err)
		}
	}

	debug.Debugf("unpacked %s: %d files into %s", archivePath, files.Len(), root)
	return files, nil
}

func extract(r *zip.Reader, root string) (FileSet, error) {
	targets := make([]string, len(r.File))
	for i, f := range r.File {
		target, err := resolve(root, f.Name)
		if err != nil {
			return nil, err
		}
		if err := checkNoSymlinks(root, target, f.Name); err != nil {
			return nil, err
		}
		targets[i] = target
	}

	//nolint:gosec // G301: install directories need standard permissions
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, apperrors.New(apperrors.CodeExtractionFailed, "create target directory", err)
	}

	files := make(FileSet)
	for i, f := range r.File {
		target := targets[i]
		mode := f.Mode()

		switch {
		case mode.IsDir():
			//nolint:gosec // G301: install directories need standard permissions
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, apperrors.New(apperrors.CodeExtractionFailed,
					fmt.Sprintf("create directory %s: %v", target, err), err)
			}
		case mode&os.ModeSymlink != 0:
			debug.Warnf("skipping symlink entry %q", f.Name)
		default:
			if err := writeFile(f, target); err != nil {
				return nil, apperrors.New(apperrors.CodeExtractionFailed,
					fmt.Sprintf("extract %s: %v", f.Name, err), err)
			}
			files.Add(target)
		}
	}
	return files, nil
}

// resolve maps an entry name onto a path under root.
func resolve(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperrors.New(apperrors.CodePathTraversal,
			fmt.Sprintf("archive entry %q escapes target directory", name), nil)
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.New(apperrors.CodePathTraversal,
			fmt.Sprintf("archive entry %q escapes target directory", name), err)
	}
	return target, nil
}

// checkNoSymlinks rejects target when an existing path component below root,
// target included, is a symlink. Following one would write outside root.
func checkNoSymlinks(root, target, name string) error {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return apperrors.New(apperrors.CodePathTraversal,
			fmt.Sprintf("archive entry %q escapes target directory", name), err)
	}
	if rel == "." {
		return nil
	}

	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return apperrors.New(apperrors.CodeExtractionFailed,
				fmt.Sprintf("inspect %s: %v", cur, err), err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return apperrors.New(apperrors.CodePathTraversal,
				fmt.Sprintf("archive entry %q passes through symlink %s", name, cur), nil)
		}
	}
	return nil
}

func writeFile(f *zip.File, target string) error {
	//nolint:gosec // G301: install directories need standard permissions
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	//nolint:gosec // G304: target is confined to the install directory by resolve
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	//nolint:gosec // G110: payload size is bounded by the verified download
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
