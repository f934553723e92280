// Package splitter materializes a per-stream view of a trace directory, so
// that size-balanced chunks can target a single stream each.
package splitter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// ErrSetup reports an inability to prepare the stream-split working tree.
var ErrSetup = errors.New("stream split setup")

// metadataName is the shared metadata file every stream view links to.
const metadataName = "metadata"

// streamDirSuffix is appended to a stream file's name to form its
// single-stream directory.
const streamDirSuffix = ".d"

// StreamDir is one single-stream trace directory inside the working tree.
type StreamDir struct {
	// Name is the stream file's name.
	Name string

	// Dir is the single-stream trace directory, openable by the decoder.
	Dir string

	// IndexPath is the stream's packet index inside Dir.
	IndexPath string
}

// WorkingTree is the per-invocation working directory holding one
// single-stream trace directory per stream. It is created when partitioning
// starts and removed when the run finishes.
type WorkingTree struct {
	Root    string
	Streams []StreamDir
}

// Split builds the working tree for tracePath under the system temp
// directory:
//
//	<tmp>/<trace_name>_per_stream-<uuid>/
//	    <stream_file>.d/
//	        metadata                 (link)
//	        <stream_file>            (link)
//	        index/<stream_file>.idx  (link)
//
// Links fall back to copies; failing both is fatal.
func Split(tracePath string) (*WorkingTree, error) {
	err := trace.ValidateDir(tracePath)
	if err != nil {
		return nil, err
	}

	absTrace, err := filepath.Abs(tracePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	root := filepath.Join(os.TempDir(),
		fmt.Sprintf("%s_per_stream-%s", filepath.Base(absTrace), uuid.NewString()))

	mkErr := os.Mkdir(root, 0o755)
	if mkErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, mkErr)
	}

	wt := &WorkingTree{Root: root}

	buildErr := wt.populate(absTrace)
	if buildErr != nil {
		_ = wt.Remove()

		return nil, buildErr
	}

	return wt, nil
}

// populate creates one stream directory per stream file found in the trace.
func (wt *WorkingTree) populate(tracePath string) error {
	entries, err := os.ReadDir(tracePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}

	metadataPath := filepath.Join(tracePath, metadataName)

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == metadataName {
			continue
		}

		sd, streamErr := buildStreamDir(wt.Root, tracePath, metadataPath, entry.Name())
		if streamErr != nil {
			return streamErr
		}

		wt.Streams = append(wt.Streams, sd)
	}

	return nil
}

// buildStreamDir links one stream file, the shared metadata and the stream's
// packet index into a fresh single-stream directory.
func buildStreamDir(root, tracePath, metadataPath, name string) (StreamDir, error) {
	dir := filepath.Join(root, name+streamDirSuffix)

	err := os.MkdirAll(filepath.Join(dir, "index"), 0o755)
	if err != nil {
		return StreamDir{}, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	idxName := name + ".idx"

	links := [][2]string{
		{filepath.Join(tracePath, name), filepath.Join(dir, name)},
		{metadataPath, filepath.Join(dir, metadataName)},
		{filepath.Join(tracePath, "index", idxName), filepath.Join(dir, "index", idxName)},
	}

	for _, l := range links {
		linkErr := linkOrCopy(l[0], l[1])
		if linkErr != nil {
			return StreamDir{}, linkErr
		}
	}

	return StreamDir{
		Name:      name,
		Dir:       dir,
		IndexPath: filepath.Join(dir, "index", idxName),
	}, nil
}

// linkOrCopy hard-links src to dst, copying the file when linking is not
// supported by the filesystem.
func linkOrCopy(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		return nil
	}

	copyErr := copyFile(src, dst)
	if copyErr != nil {
		return fmt.Errorf("%w: link %s: %v; copy: %v", ErrSetup, dst, err, copyErr)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()

		return err
	}

	return out.Close()
}

// Remove deletes the working tree.
func (wt *WorkingTree) Remove() error {
	err := os.RemoveAll(wt.Root)
	if err != nil {
		return fmt.Errorf("remove working tree: %w", err)
	}

	return nil
}
