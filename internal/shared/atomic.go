package shared

import (
	"os"
	"path/filepath"
)

const dirPermissions = 0o755

// WriteFileAtomic writes data to a temporary file next to path, syncs it,
// and renames it over path. Readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LinkFileOnce publishes the file at tmpName under name unless name already
// exists. It reports whether tmpName became name. tmpName is always gone
// afterwards.
func LinkFileOnce(tmpName string, name string) (bool, error) {
	defer os.Remove(tmpName)
	if err := os.MkdirAll(filepath.Dir(name), dirPermissions); err != nil {
		return false, err
	}
	err := os.Link(tmpName, name)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	if _, statErr := os.Stat(name); statErr == nil {
		return false, nil
	}
	// Link is not supported everywhere; fall back to a rename.
	if err := os.Rename(tmpName, name); err != nil {
		return false, err
	}
	return true, nil
}
