package upstream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrIncompleteDir is matched by IncompleteDirError.
var ErrIncompleteDir = errors.New("local dump directory is incomplete")

// IncompleteDirError lists the files a local directory is missing.
type IncompleteDirError struct {
	Dir     string
	Missing []string
}

func (e *IncompleteDirError) Error() string {
	const show = 5
	names := e.Missing
	suffix := ""
	if len(names) > show {
		suffix = fmt.Sprintf(" and %d more", len(names)-show)
		names = names[:show]
	}
	return fmt.Sprintf("%s: missing %s%s", e.Dir, strings.Join(names, ", "), suffix)
}

func (e *IncompleteDirError) Is(target error) bool {
	return target == ErrIncompleteDir
}

// CheckDir verifies that every named file exists in dir as a regular file.
func CheckDir(dir string, files []string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &IncompleteDirError{Dir: dir, Missing: files}
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	var missing []string
	for _, name := range files {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !fi.Mode().IsRegular() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &IncompleteDirError{Dir: dir, Missing: missing}
	}
	return nil
}
