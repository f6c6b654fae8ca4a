package led

import "image/color"

// Limiter keeps a frame inside a supply budget.
// WhiteCap bounds R+G+B of one pixel (0..765, zero disables).
// BudgetMA bounds the whole frame; ChanMA is the draw of one channel at 255.
// Above Knee*BudgetMA the frame is scaled down gradually.
type Limiter struct {
	WhiteCap int
	ChanMA   float64
	BudgetMA float64
	Knee     float64
}

// DefaultChanMA is a WS2812 channel at full scale.
const DefaultChanMA = 20

// Current estimates the draw of px in mA.
func (l Limiter) Current(px []color.NRGBA) float64 {
	cm := l.ChanMA
	if cm <= 0 {
		cm = DefaultChanMA
	}
	var total float64
	for _, c := range px {
		total += float64(int(c.R)+int(c.G)+int(c.B)) / 255 * cm
	}
	return total
}

func (l Limiter) Apply(px []color.NRGBA) {
	if l.WhiteCap > 0 {
		for i, c := range px {
			if s := int(c.R) + int(c.G) + int(c.B); s > l.WhiteCap {
				px[i] = scale(c, float64(l.WhiteCap)/float64(s))
			}
		}
	}
	if l.BudgetMA <= 0 {
		return
	}
	total := l.Current(px)
	if total <= 0 {
		return
	}
	knee := l.Knee
	if knee <= 0 || knee >= 1 {
		knee = 0.9
	}
	ratio := total / l.BudgetMA
	var s float64
	switch {
	case ratio <= knee:
		return
	case ratio <= 1:
		t := (ratio - knee) / (1 - knee)
		s = 1 - t*(1-l.BudgetMA/total)
	default:
		s = l.BudgetMA / total
	}
	for i, c := range px {
		px[i] = scale(c, s)
	}
}

func scale(c color.NRGBA, s float64) color.NRGBA {
	return color.NRGBA{
		R: uint8(float64(c.R) * s),
		G: uint8(float64(c.G) * s),
		B: uint8(float64(c.B) * s),
		A: c.A,
	}
}
