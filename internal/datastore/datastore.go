// Package datastore manages the two directories every instance shares
// outside its own working tree: the save-file library and a generation-
// rotated file archive used for rotated logs and mod-settings backups.
//
// Grounded on original_source/src/data.rs (Data::get_saves_folder,
// Data::get_and_rotate_file, Data::get_file, Data::rotate_file), reworked
// into Go idiom: recursive rotation becomes an iterative loop, and
// directory creation follows the teacher's os.MkdirAll(..., 0o755) usage
// throughout internal/factorio/updater.go.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"factorio-instanced/internal/ferrors"
)

// Store roots the saves and files hierarchies at a single directory,
// e.g. "<root>/data".
type Store struct {
	root      string
	savesPath string
	filesPath string
}

// New creates the root, saves, and files directories if absent and
// returns a Store over them.
func New(root string) (*Store, error) {
	s := &Store{
		root:      root,
		savesPath: filepath.Join(root, "saves"),
		filesPath: filepath.Join(root, "files"),
	}

	for _, dir := range []string{s.root, s.savesPath, s.filesPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}

	return s, nil
}

// SavesFolder returns the path to a named save folder, failing with
// ErrNotAllowed if it does not exist. Save folders are provisioned
// externally: neither the data store nor the composer (which only
// symlinks to them) creates one.
func (s *Store) SavesFolder(name string) (string, error) {
	path := filepath.Join(s.savesPath, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("save folder %q not found: %w", name, ferrors.ErrNotAllowed)
	}
	return path, nil
}

// GetFile returns the path for instanceName/fileName under the files
// tree, creating the instance's subdirectory if needed. The file itself
// is neither created nor truncated.
func (s *Store) GetFile(instanceName, fileName string) (string, error) {
	instanceDir := filepath.Join(s.filesPath, instanceName)
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return "", fmt.Errorf("creating instance file directory %s: %w", instanceDir, err)
	}
	return filepath.Join(instanceDir, fileName), nil
}

// GetAndRotateFile returns the same path GetFile would, but first rotates
// any existing non-empty file through numbered backups file.0, file.1,
// ..., file.<amount> (at most amount+1 of them), deleting file.<amount>
// before the shift when the chain reaches it. Grounded on Data::rotate_file's
// recursive shift-then-rename, expressed here as an iterative walk from
// the oldest generation down to the newest.
func (s *Store) GetAndRotateFile(instanceName, fileName string, amount uint8) (string, error) {
	filePath, err := s.GetFile(instanceName, fileName)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return filePath, nil
		}
		return "", fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.Size() == 0 {
		return filePath, nil
	}

	if err := rotateGenerations(filePath, amount); err != nil {
		return "", err
	}

	if err := os.Rename(filePath, generationPath(filePath, 0)); err != nil {
		return "", fmt.Errorf("rotating %s into generation 0: %w", filePath, err)
	}

	return filePath, nil
}

// rotateGenerations walks the existing generation chain starting at 0 for
// as long as consecutive generations exist (stopping early at the first
// gap, matching Data::rotate_file's recursion-only-if-current-exists
// behavior), deletes the oldest generation once the chain reaches amount,
// then shifts every remaining generation up by one, highest first.
func rotateGenerations(filePath string, amount uint8) error {
	var chain []uint8
	for num := uint8(0); ; num++ {
		if _, err := os.Stat(generationPath(filePath, num)); err != nil {
			break
		}
		chain = append(chain, num)
		if num == amount {
			break
		}
	}
	if len(chain) == 0 {
		return nil
	}

	top := chain[len(chain)-1]
	if top == amount {
		if err := os.Remove(generationPath(filePath, top)); err != nil {
			return fmt.Errorf("removing oldest generation %s: %w", generationPath(filePath, top), err)
		}
		chain = chain[:len(chain)-1]
	}

	for i := len(chain) - 1; i >= 0; i-- {
		num := chain[i]
		current := generationPath(filePath, num)
		next := generationPath(filePath, num+1)
		if err := os.Rename(current, next); err != nil {
			return fmt.Errorf("rotating %s to %s: %w", current, next, err)
		}
	}
	return nil
}

func generationPath(filePath string, num uint8) string {
	return fmt.Sprintf("%s.%d", filePath, num)
}
