// Package blob stores photo bytes and hands out download URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a path holds no object
var ErrNotFound = errors.New("blob not found")

// Store is the object storage contract used for photos
type Store interface {
	// Put uploads data under path with the given content type
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// URL returns a download URL for path
	URL(ctx context.Context, path string) (string, error)
	// Delete removes path
	Delete(ctx context.Context, path string) error
}

// ImagePath is where the full-size image of a photo lives
func ImagePath(coupleID, photoID string) string {
	return fmt.Sprintf("%s/%s.jpg", coupleID, photoID)
}

// ThumbnailPath is where the thumbnail of a photo lives
func ThumbnailPath(coupleID, photoID string) string {
	return fmt.Sprintf("%s/thumbnails/%s_thumb.jpg", coupleID, photoID)
}
