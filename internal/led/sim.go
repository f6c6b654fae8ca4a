package led

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Sim is an in-memory display.Drawer. It keeps the last frame and counts draws.
type Sim struct {
	mu     sync.Mutex
	n      int
	frame  *image.NRGBA
	frames int
}

func NewSim(n int) *Sim {
	return &Sim{n: n, frame: image.NewNRGBA(image.Rect(0, 0, n, 1))}
}

func (s *Sim) String() string { return "sim" }

func (s *Sim) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.frame, s.frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
	return nil
}

func (s *Sim) ColorModel() color.Model { return color.NRGBAModel }

func (s *Sim) Bounds() image.Rectangle { return image.Rect(0, 0, s.n, 1) }

func (s *Sim) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.frame, r, src, sp, draw.Src)
	s.frames++
	return nil
}

// At returns the last drawn color at strip index i.
func (s *Sim) At(i int) color.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.NRGBAAt(i, 0)
}

func (s *Sim) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
