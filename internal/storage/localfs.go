package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path on an NFS/SMB style mount. flock and
// SQLite locking are unreliable there, and so is the atomic rename the
// monitor store relies on.
var ErrNetworkFilesystem = errors.New("network filesystem")

// RequireLocal fails with ErrNetworkFilesystem when path, or the nearest
// ancestor that exists yet, lives on a network mount.
func RequireLocal(path string) error {
	return requireLocal(path, filesystemName)
}

func requireLocal(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return err
	}

	name, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem of %q: %w", existing, err)
	}
	if isRemote(name) {
		return fmt.Errorf("%w: %q is on %s", ErrNetworkFilesystem, path, name)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}

func isRemote(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nfs", "nfs4", "cifs", "smbfs", "smb2", "afpfs", "webdav", "9p", "fuse.sshfs":
		return true
	}
	return false
}
