package visual

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrCanvasBusy is returned when the canvas is already owned by a session.
var ErrCanvasBusy = errors.New("canvas already in use")

// Size is a frame geometry in pixels.
type Size struct {
	Width  int
	Height int
}

// Output presets. Portrait is the 9:16 handheld frame.
var (
	PresetLandscape = Size{Width: 1280, Height: 720}
	PresetPortrait  = Size{Width: 720, Height: 1280}
)

// Canvas is the process-wide drawing surface. At most one owner holds it
// at a time.
type Canvas struct {
	mu    sync.Mutex
	img   *image.RGBA
	owned bool
}

// NewCanvas creates an unowned canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Acquire takes ownership of the canvas, resized to size.
func (c *Canvas) Acquire(size Size) (*image.RGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", size.Width, size.Height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owned {
		return nil, ErrCanvasBusy
	}
	if c.img == nil || c.img.Rect.Dx() != size.Width || c.img.Rect.Dy() != size.Height {
		c.img = image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	}
	c.owned = true
	return c.img, nil
}

// Release gives the canvas back. Releasing an unowned canvas is a no-op.
func (c *Canvas) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned = false
}

// InUse reports whether the canvas is owned.
func (c *Canvas) InUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned
}
