package trace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sentinel errors for trace opening.
var (
	// ErrBadInput reports a trace directory that cannot be analyzed:
	// non-existent path, missing metadata, or an empty directory.
	ErrBadInput = errors.New("bad trace input")

	// ErrNoDecoder reports that no event decoder has been registered.
	ErrNoDecoder = errors.New("no trace decoder registered")
)

// OpenFunc opens a trace directory and returns an event source over it.
type OpenFunc func(dir string) (Source, error)

var (
	decoderMu sync.RWMutex
	decoder   OpenFunc
)

// RegisterDecoder installs the event decoder used by Open. The decoder is an
// external collaborator; exactly one is expected per process.
func RegisterDecoder(open OpenFunc) {
	decoderMu.Lock()
	defer decoderMu.Unlock()

	decoder = open
}

// Open validates dir as a trace directory and opens it with the registered
// decoder.
func Open(dir string) (Source, error) {
	err := ValidateDir(dir)
	if err != nil {
		return nil, err
	}

	decoderMu.RLock()
	open := decoder
	decoderMu.RUnlock()

	if open == nil {
		return nil, ErrNoDecoder
	}

	return open(dir)
}

// ValidateDir checks that dir exists, is a directory, is non-empty, and
// contains a metadata file.
func ValidateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadInput, dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrBadInput, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadInput, dir, err)
	}

	if len(entries) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrBadInput, dir)
	}

	_, err = os.Stat(filepath.Join(dir, "metadata"))
	if err != nil {
		return fmt.Errorf("%w: %s has no metadata file", ErrBadInput, dir)
	}

	return nil
}
