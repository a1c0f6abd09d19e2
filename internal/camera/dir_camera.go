package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"
)

// DirCamera replays previously photographed frames from a directory in
// filename order. Handy for re-running the stitcher over a recorded
// capture without the phone.
type DirCamera struct {
	paths []string

	mu   sync.Mutex
	next int
}

// NewDirCamera scans dir for PNG/JPEG files.
func NewDirCamera(dir string) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}

	return &DirCamera{paths: paths}, nil
}

// Capture returns the next recorded frame, or an error once the
// recording is exhausted.
func (c *DirCamera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.next >= len(c.paths) {
		c.mu.Unlock()
		return nil, fmt.Errorf("replay exhausted after %d frames", len(c.paths))
	}
	path := c.paths[c.next]
	c.next++
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}
