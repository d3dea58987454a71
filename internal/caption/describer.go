package caption

import (
	"context"
	"fmt"

	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// ImageContext carries the encoded frames a vision model looks at.
type ImageContext struct {
	FirstCam1 []byte
	KeyCam1   []byte
	LastCam1  []byte
	FirstCam2 []byte
	KeyCam2   []byte
	LastCam2  []byte
	// Ext is the image file extension, used for the data URL media type.
	Ext string
}

// Request describes one window.
type Request struct {
	Kind      segment.Kind
	TaskLabel string
	Keyframe  int
	EpisodeID int
	Images    *ImageContext
}

// Describer produces a task label for a request.
type Describer interface {
	Describe(ctx context.Context, req Request) (string, error)
}

// ImageDescriber is implemented by describers that need frames attached to
// the request.
type ImageDescriber interface {
	Describer
	UsesImages() bool
}

// HealthChecker is implemented by describers backed by a remote service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FallbackLabel is used when a vision request fails.
func FallbackLabel(req Request) string {
	return fmt.Sprintf("%s object", req.Kind.ActionVerb())
}

func usesImages(d Describer) bool {
	img, ok := d.(ImageDescriber)
	return ok && img.UsesImages()
}
