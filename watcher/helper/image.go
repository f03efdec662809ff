package helper

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"github.com/spance/capwatch/watcher/definitions"
)

const MIMETypeJPEG = "image/jpeg"

// ErrNoSurface is returned when there is no frame to capture from.
var ErrNoSurface = errors.New("no active video surface")

// CropSquare returns the largest square centred within bounds.
func CropSquare(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	size := min(w, h)
	x0 := bounds.Min.X + (w-size)/2
	y0 := bounds.Min.Y + (h-size)/2
	return image.Rect(x0, y0, x0+size, y0+size)
}

// CaptureSquare crops the centred square of img and scales it to size×size.
func CaptureSquare(img image.Image, size int) (*image.RGBA, image.Rectangle, error) {
	if img == nil {
		return nil, image.Rectangle{}, ErrNoSurface
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, image.Rectangle{}, ErrNoSurface
	}

	crop := CropSquare(bounds)
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)
	return dst, crop, nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CaptureSnapshot turns a live frame into the fixed-size JPEG sent to the classifier.
func CaptureSnapshot(img image.Image, size, quality int) (*definitions.Snapshot, error) {
	square, crop, err := CaptureSquare(img, size)
	if err != nil {
		return nil, err
	}
	data, err := EncodeJPEG(square, quality)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &definitions.Snapshot{
		Data:         data,
		MIMEType:     MIMETypeJPEG,
		Width:        size,
		Height:       size,
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		Crop:         crop,
		CapturedAt:   time.Now(),
	}, nil
}
