package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errDetectUnsupported means the platform cannot report filesystem types.
var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

// flock(2) is advisory at best on these.
var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// checkLocalFilesystem rejects lock paths on network filesystems.
func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	dir, err := nearestExistingDir(path)
	if err != nil {
		return fmt.Errorf("resolve lock path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	if errors.Is(err, errDetectUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("lock path %q is on network filesystem %q; pid_file must be on local disk", path, fsType)
	}
	return nil
}

// nearestExistingDir walks up from the parent of path to the first directory
// that exists.
func nearestExistingDir(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	candidate := filepath.Dir(absPath)
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
