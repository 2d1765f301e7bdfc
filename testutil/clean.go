package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir removes everything in the directory named by dirname except for
// any directory entries specified by keeps.
func CleanDir(dirname string, keeps []string) error {
	fis, err := os.ReadDir(dirname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	m := map[string]struct{}{}
	for _, k := range keeps {
		m[k] = struct{}{}
	}

	for _, fi := range fis {
		n := fi.Name()
		if _, found := m[n]; found {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, n))
		if err != nil {
			return err
		}
	}
	return nil
}

// DataDir returns a clean directory under testdata named name.
func DataDir(name string) (string, error) {
	dir := filepath.Join("testdata", name)
	err := CleanDir(dir, nil)
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0755)
}
