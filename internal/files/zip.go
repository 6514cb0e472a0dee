package files

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrArchiveInvalid = errors.New("invalid archive")

const (
	maxArchiveEntries = 512
	maxArchiveBytes   = 256 << 20 // total uncompressed
)

// ExtractZip unpacks an uploaded archive into the owner's folder and
// returns the extracted file names. Relative subdirectories inside the
// archive are preserved; entries that would escape the folder, or archives
// over the entry/size caps, are rejected before anything is written.
func (s *Store) ExtractZip(ownerID int64, ra io.ReaderAt, size int64) ([]string, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveInvalid, err)
	}
	if len(zr.File) > maxArchiveEntries {
		return nil, fmt.Errorf("%w: %d entries exceeds limit", ErrArchiveInvalid, len(zr.File))
	}

	dir, err := s.Dir(ownerID)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, f := range zr.File {
		if !safeArchivePath(f.Name) {
			return nil, fmt.Errorf("%w: unsafe path %q", ErrArchiveInvalid, f.Name)
		}
		total += f.UncompressedSize64
		if total > maxArchiveBytes {
			return nil, fmt.Errorf("%w: uncompressed size exceeds limit", ErrArchiveInvalid)
		}
	}

	var names []string
	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return names, fmt.Errorf("creating archive dir: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return names, fmt.Errorf("creating archive dir: %w", err)
		}
		if err := extractEntry(f, target); err != nil {
			return names, err
		}
		names = append(names, f.Name)
	}

	log.Info().Int64("owner_id", ownerID).Int("files", len(names)).Msg("archive extracted")
	return names, nil
}

func extractEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	// LimitReader backstops a lying size header.
	_, err = io.Copy(dst, io.LimitReader(src, int64(f.UncompressedSize64)+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return nil
}

// safeArchivePath accepts relative slash-separated paths that stay inside
// the extraction root.
func safeArchivePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return false
	}
	if len(name) > 1 && name[1] == ':' { // windows drive prefix
		return false
	}
	for _, part := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}
