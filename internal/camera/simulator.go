package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Simulator renders a placeholder JPEG for every fetch. With FailEvery > 0
// every FailEvery-th fetch reports ErrUnavailable.
type Simulator struct {
	Width     int
	Height    int
	FailEvery int

	mu      sync.Mutex
	fetches int
}

func NewSimulator(width, height, failEvery int) *Simulator {
	return &Simulator{Width: width, Height: height, FailEvery: failEvery}
}

func (s *Simulator) FetchLatestPhoto(ctx context.Context) (Image, error) {
	s.mu.Lock()
	s.fetches++
	n := s.fetches
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Image{}, errors.WithMessage(ErrFetchFailed, err.Error())
	}
	if s.FailEvery > 0 && n%s.FailEvery == 0 {
		return Image{}, errors.WithMessagef(ErrUnavailable, "simulated camera failure on fetch %d", n)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.render(n), &jpeg.Options{Quality: 80}); err != nil {
		return Image{}, errors.WithMessage(ErrFetchFailed, err.Error())
	}

	return Image{
		Name:        fmt.Sprintf("sim-%04d.jpg", n),
		ContentType: "image/jpeg",
		ModTime:     time.Now().UTC(),
		Data:        buf.Bytes(),
	}, nil
}

// render draws a gradient whose hue shifts with n, with a band marking the
// fetch number.
func (s *Simulator) render(n int) image.Image {
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 320
	}
	if h <= 0 {
		h = 240
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(n * 37)
	band := (n * 16) % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: uint8(x*255/w) + shift,
				G: uint8(y * 255 / h),
				B: 160 - shift/2,
				A: 255,
			}
			if x >= band && x < band+8 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
