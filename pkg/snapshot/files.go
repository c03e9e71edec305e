package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
)

func volumeFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if !e.Type().IsRegular() {
			return "", false
		}
		name := strings.ToLower(e.Name())
		if !strings.HasSuffix(name, ".nii") && !strings.HasSuffix(name, ".nii.gz") {
			return "", false
		}
		return filepath.Join(dir, e.Name()), true
	})
	sort.Strings(files)
	return files, nil
}

// ScanFiles lists the NIfTI scans in dir, leaving out viewer volumes.
func ScanFiles(dir, suffix string) ([]string, error) {
	files, err := volumeFiles(dir)
	if err != nil {
		return nil, err
	}
	return lo.Reject(files, func(f string, _ int) bool {
		return IsViewerFile(f, suffix)
	}), nil
}

// ViewerFiles lists the viewer volumes in dir.
func ViewerFiles(dir, suffix string) ([]string, error) {
	files, err := volumeFiles(dir)
	if err != nil {
		return nil, err
	}
	return lo.Filter(files, func(f string, _ int) bool {
		return IsViewerFile(f, suffix)
	}), nil
}

// Clean removes every viewer volume in dir so they are rebuilt on the next
// analysis. It returns the removed files.
func Clean(dir, suffix string) ([]string, error) {
	files, err := ViewerFiles(dir, suffix)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f)
	}
	return removed, errors.Join(errs...)
}
