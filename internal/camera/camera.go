package camera

import (
	"context"
	"image"
)

// Camera is the capture collaborator. The session guarantees at most one
// Capture call is outstanding at any time; implementations must honor
// ctx cancellation so a stuck capture cannot starve the caller.
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
}
