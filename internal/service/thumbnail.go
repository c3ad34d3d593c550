// Package service contains the business logic layer.
//
// This file implements avatar thumbnail generation for uploaded profile pictures.
package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// AvatarSize is the edge length of the square avatar thumbnail.
	AvatarSize = 256

	// AvatarJPEGQuality is the encoder quality used for thumbnails.
	AvatarJPEGQuality = 85

	// MaxAvatarUploadBytes bounds the raw upload before decoding.
	MaxAvatarUploadBytes = 5 << 20

	// maxAvatarSourcePixels rejects decompression bombs before resizing.
	maxAvatarSourcePixels = 40_000_000
)

// =============================================================================
// Interface Definition
// =============================================================================

// ThumbnailProcessor turns an uploaded image into a stored thumbnail.
type ThumbnailProcessor interface {
	// SquareThumbnail center-crops the image to a size x size square and
	// encodes it as JPEG. It returns the source dimensions.
	SquareThumbnail(data io.Reader, size int) ([]byte, int, int, error)
}

// =============================================================================
// Implementation
// =============================================================================

type imagingProcessor struct{}

var _ ThumbnailProcessor = (*imagingProcessor)(nil)

// NewImagingProcessor creates a thumbnail processor backed by the imaging library.
func NewImagingProcessor() ThumbnailProcessor {
	return &imagingProcessor{}
}

func (p *imagingProcessor) SquareThumbnail(data io.Reader, size int) ([]byte, int, int, error) {
	raw, err := io.ReadAll(io.LimitReader(data, MaxAvatarUploadBytes+1))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read image: %w", err)
	}
	if len(raw) > MaxAvatarUploadBytes {
		return nil, 0, 0, errImageTooLarge
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", errImageUnreadable, err)
	}
	if cfg.Width*cfg.Height > maxAvatarSourcePixels {
		return nil, 0, 0, errImageTooLarge
	}

	// AutoOrientation honors the EXIF rotation phones write.
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", errImageUnreadable, err)
	}
	bounds := img.Bounds()

	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(AvatarJPEGQuality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
