// Package files manages the per-user script folders. Every owner gets a
// directory under the configured root; all names handed to the store are
// validated so a request can never escape its owner's folder.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
	ErrTooLarge    = errors.New("file exceeds upload limit")
)

// Entry describes one file in an owner's folder.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store is the on-disk file sandbox.
type Store struct {
	root      string
	maxUpload int64
}

// NewStore creates the root directory if needed. maxUploadMB <= 0 defaults
// to 20 MB.
func NewStore(root string, maxUploadMB int) (*Store, error) {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving scripts root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scripts root: %w", err)
	}
	return &Store{root: abs, maxUpload: int64(maxUploadMB) << 20}, nil
}

// Dir returns the owner's folder, creating it on first use. It doubles as
// the working directory scripts are executed in.
func (s *Store) Dir(ownerID int64) (string, error) {
	dir := filepath.Join(s.root, strconv.FormatInt(ownerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating folder for owner %d: %w", ownerID, err)
	}
	return dir, nil
}

// Resolve validates name and returns its absolute path inside the owner's
// folder. Separators, parent references, and hidden names are rejected.
func (s *Store) Resolve(ownerID int64, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir, err := s.Dir(ownerID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Save writes the reader's content to the owner's folder, replacing any
// existing file. Content beyond the upload limit aborts the write and
// removes the partial file.
func (s *Store) Save(ownerID int64, name string, r io.Reader) (int64, error) {
	path, err := s.Resolve(ownerID, name)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", name, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxUpload+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}
	if n > s.maxUpload {
		os.Remove(path)
		return 0, fmt.Errorf("%w: %s", ErrTooLarge, name)
	}

	log.Debug().Int64("owner_id", ownerID).Str("file", name).Int64("bytes", n).Msg("file saved")
	return n, nil
}

// Open opens a file for reading. Callers close the returned file.
func (s *Store) Open(ownerID int64, name string) (*os.File, error) {
	path, err := s.Resolve(ownerID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// List returns the owner's files sorted by name. Subdirectories created by
// archive extraction are not listed.
func (s *Store) List(ownerID int64) ([]Entry, error) {
	dir, err := s.Dir(ownerID)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing folder for owner %d: %w", ownerID, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes a file and its companion run log, if any.
func (s *Store) Delete(ownerID int64, name string) error {
	path, err := s.Resolve(ownerID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("deleting %s: %w", name, err)
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	os.Remove(filepath.Join(filepath.Dir(path), stem+".log"))

	log.Debug().Int64("owner_id", ownerID).Str("file", name).Msg("file deleted")
	return nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return name == filepath.Base(name)
}
