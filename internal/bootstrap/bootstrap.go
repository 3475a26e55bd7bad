// Package bootstrap swaps a downloaded application file into place and
// restarts it. It runs outside the update pipeline: a launcher calls Promote
// before starting the application, so the file being replaced is not in use.
package bootstrap

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"updraft/internal/debug"
	apperrors "updraft/internal/errors"
)

// BackupSuffix is appended to the application file to name its backup.
const BackupSuffix = ".backup"

// BackupPath returns where Promote keeps the previous application file.
func BackupPath(appFile string) string {
	return appFile + BackupSuffix
}

// HasBackup reports whether a backup exists for appFile.
func HasBackup(appFile string) bool {
	_, err := os.Stat(BackupPath(appFile))
	return err == nil
}

// FindUpdate returns the first file in updateDir, in lexical order, whose
// name starts with the base name of appFile (without extension) and carries
// the same extension. It returns "" when there is none.
func FindUpdate(appFile, updateDir string) (string, error) {
	base := filepath.Base(appFile)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(updateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read update directory: %w", err)
	}

	appAbs, _ := filepath.Abs(appFile)
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem) || filepath.Ext(name) != ext {
			continue
		}
		if abs, _ := filepath.Abs(filepath.Join(updateDir, name)); abs == appAbs {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(updateDir, names[0]), nil
}

// Promote replaces appFile with the update found in updateDir. The previous
// file is kept at BackupPath and restored if the swap fails. When
// removeUpdate is set the update file is deleted afterwards. It returns the
// update that was promoted, or "" when there was nothing to do.
func Promote(appFile, updateDir string, removeUpdate bool) (string, error) {
	update, err := FindUpdate(appFile, updateDir)
	if err != nil {
		return "", apperrors.New(apperrors.CodePromotionFailed, err.Error(), err)
	}
	if update == "" {
		debug.Debugf("no update for %s in %s", appFile, updateDir)
		return "", nil
	}

	staging := appFile + ".new"
	if err := copyExecutable(update, staging); err != nil {
		_ = os.Remove(staging)
		return "", apperrors.New(apperrors.CodePromotionFailed,
			fmt.Sprintf("stage %s: %v", update, err), err)
	}

	backup := BackupPath(appFile)
	hadApp := false
	if _, err := os.Stat(appFile); err == nil {
		hadApp = true
		if err := os.Rename(appFile, backup); err != nil {
			_ = os.Remove(staging)
			return "", apperrors.New(apperrors.CodePromotionFailed,
				fmt.Sprintf("backup current file: %v", err), err)
		}
	}

	if err := os.Rename(staging, appFile); err != nil {
		_ = os.Remove(staging)
		if hadApp {
			// Attempt to restore backup
			_ = os.Rename(backup, appFile)
		}
		return "", apperrors.New(apperrors.CodePromotionFailed,
			fmt.Sprintf("install %s: %v", update, err), err)
	}

	if removeUpdate {
		if err := os.Remove(update); err != nil {
			debug.Warnf("remove promoted update %s: %v", update, err)
		}
	}
	debug.Infof("promoted %s to %s", update, appFile)
	return update, nil
}

// Rollback restores the file saved by the last Promote.
func Rollback(appFile string) error {
	backup := BackupPath(appFile)
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		return apperrors.New(apperrors.CodePromotionFailed,
			fmt.Sprintf("no backup found at %s", backup), err)
	}
	if err := os.Rename(backup, appFile); err != nil {
		return apperrors.New(apperrors.CodePromotionFailed,
			fmt.Sprintf("restore backup: %v", err), err)
	}
	return nil
}

// Relaunch starts appFile with args as a detached process and returns its
// PID. The caller is expected to exit afterwards.
func Relaunch(appFile string, args ...string) (int, error) {
	//nolint:gosec // G204: appFile is the application we just promoted
	cmd := exec.Command(appFile, args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("relaunch %s: %w", appFile, err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

func copyExecutable(src, dst string) error {
	//nolint:gosec // G304: src is a file found in the update directory
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G302,G304: application files need to be executable
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	//nolint:gosec // G302: Binary needs to be executable
	return os.Chmod(dst, 0755)
}
