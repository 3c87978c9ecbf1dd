package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/clock"
)

const MimeJPEG = "image/jpeg"

// Artifact is one encoded screenshot, not yet persisted
type Artifact struct {
	Data          []byte
	MimeType      string
	Width         int
	Height        int
	Size          int64
	TakenAt       time.Time
	HasPermission bool
}

// Grabber returns the full primary screen
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

type CapturerOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// ScreenCapturer grabs the screen, fits it inside the configured bounds
// and encodes it as JPEG
type ScreenCapturer struct {
	grabber Grabber
	opts    CapturerOptions
	clock   clock.Clock
	logger  *zap.Logger
}

func NewScreenCapturer(grabber Grabber, opts CapturerOptions, clk clock.Clock, logger *zap.Logger) *ScreenCapturer {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 1920
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 1080
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 70
	}
	return &ScreenCapturer{grabber: grabber, opts: opts, clock: clk, logger: logger}
}

func (c *ScreenCapturer) Capture(ctx context.Context) (*Artifact, error) {
	takenAt := c.clock.Now()

	src, err := c.grabber.Grab(ctx)
	if err != nil {
		return nil, apperr.Capture(err)
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, apperr.Capture(fmt.Errorf("grabbed an empty image"))
	}

	img := src
	w, h := fitWithin(b.Dx(), b.Dy(), c.opts.MaxWidth, c.opts.MaxHeight)
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
		return nil, apperr.Capture(fmt.Errorf("failed to encode jpeg: %w", err))
	}

	c.logger.Debug("Screen captured",
		zap.Int("source_width", b.Dx()),
		zap.Int("source_height", b.Dy()),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("bytes", buf.Len()),
	)

	return &Artifact{
		Data:          buf.Bytes(),
		MimeType:      MimeJPEG,
		Width:         w,
		Height:        h,
		Size:          int64(buf.Len()),
		TakenAt:       takenAt,
		HasPermission: true,
	}, nil
}

// fitWithin scales w x h down to fit maxW x maxH keeping the aspect ratio.
// It never scales up.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	// compare w/maxW with h/maxH without floats
	if w*maxH >= h*maxW {
		nh := h * maxW / w
		if nh < 1 {
			nh = 1
		}
		return maxW, nh
	}
	nw := w * maxH / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxH
}
