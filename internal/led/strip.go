package led

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"periph.io/x/conn/v3/display"
)

// Strip abstracts one addressable LED chain.
type Strip interface {
	SetPixelColor(i int, c Color) error
	// Show pushes the pending buffer to hardware.
	Show() error
	// Clear blanks the buffer and pushes it.
	Clear() error
	NumPixels() int
	Close() error
}

// Buffer is a Strip that keeps a 1xN frame and draws it to a display.Drawer on Show.
type Buffer struct {
	mu         sync.Mutex
	drawer     display.Drawer
	pixels     []Color
	img        *image.NRGBA
	brightness float64
	limiter    *Limiter
	scaled     []color.NRGBA
	closer     func() error
}

func NewBuffer(n int, d display.Drawer, brightness float64) *Buffer {
	return &Buffer{
		drawer:     d,
		pixels:     make([]Color, n),
		img:        image.NewNRGBA(image.Rect(0, 0, n, 1)),
		brightness: brightness,
		scaled:     make([]color.NRGBA, n),
	}
}

// SetLimiter bounds the current drawn by every following Show.
func (b *Buffer) SetLimiter(l Limiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = &l
}

func (b *Buffer) NumPixels() int { return len(b.pixels) }

func (b *Buffer) SetPixelColor(i int, c Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.pixels) {
		return fmt.Errorf("led: pixel %d out of range [0,%d)", i, len(b.pixels))
	}
	b.pixels[i] = c
	return nil
}

// Pixel returns the buffered (unscaled) color at i.
func (b *Buffer) Pixel(i int) Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pixels[i]
}

// Snapshot copies the buffered colors.
func (b *Buffer) Snapshot() []Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Color(nil), b.pixels...)
}

func (b *Buffer) Show() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

func (b *Buffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pixels {
		b.pixels[i] = Black
	}
	return b.flush()
}

func (b *Buffer) flush() error {
	for i, c := range b.pixels {
		b.scaled[i] = c.Scale(b.brightness)
	}
	if b.limiter != nil {
		b.limiter.Apply(b.scaled)
	}
	for i, c := range b.scaled {
		b.img.SetNRGBA(i, 0, c)
	}
	if err := b.drawer.Draw(b.drawer.Bounds(), b.img, image.Point{}); err != nil {
		return fmt.Errorf("led: draw %s: %w", b.drawer, err)
	}
	return nil
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.drawer.Halt()
	if b.closer != nil {
		if cerr := b.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
