package compose

import (
	"errors"
	"fmt"
)

// ErrInvalidSurface is returned for non-positive surface dimensions.
var ErrInvalidSurface = errors.New("compose: surface dimensions must be positive")

// Surface is the fixed-resolution pixel target frames are composed onto
// before encoding. Each stitch run owns exactly one surface; it is never
// shared between runs.
type Surface struct {
	pix    []byte
	width  int
	height int
}

// NewSurface allocates a surface of the given output resolution.
func NewSurface(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSurface, width, height)
	}
	s := &Surface{
		pix:    make([]byte, RGBASize(width, height)),
		width:  width,
		height: height,
	}
	s.Clear()
	return s, nil
}

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.width }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.height }

// Pixels exposes the packed RGBA backing buffer for the encoder push.
// The slice is reused across frames; callers must not retain it.
func (s *Surface) Pixels() []byte { return s.pix }

// Clear fills the surface with opaque black. Every draw cycle starts from
// a cleared surface so stale pixels from the previous frame never bleed
// through partially transparent draws.
func (s *Surface) Clear() {
	for i := 0; i < len(s.pix); i += 4 {
		s.pix[i] = 0
		s.pix[i+1] = 0
		s.pix[i+2] = 0
		s.pix[i+3] = 0xFF
	}
}

// coverRegion returns the source rectangle that fills the destination
// completely while preserving aspect ratio: a relatively wider frame is
// center-cropped horizontally, a relatively taller one vertically.
func coverRegion(srcW, srcH, dstW, dstH int) (x, y, w, h int) {
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(dstW) / float64(dstH)

	switch {
	case srcAspect > dstAspect:
		w = int(float64(srcH) * dstAspect)
		if w < 1 {
			w = 1
		}
		return (srcW - w) / 2, 0, w, srcH
	case srcAspect < dstAspect:
		h = int(float64(srcW) / dstAspect)
		if h < 1 {
			h = 1
		}
		return 0, (srcH - h) / 2, srcW, h
	default:
		return 0, 0, srcW, srcH
	}
}

// DrawFrame composites a frame over the whole surface using cover scaling
// and the given opacity in [0,1]. Sampling is bilinear in 16.16 fixed
// point; blending is a straight source-over against the current contents.
func (s *Surface) DrawFrame(frame *Frame, opacity float64) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return
	}
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}

	srcX, srcY, srcW, srcH := coverRegion(frame.Width, frame.Height, s.width, s.height)

	// Opacity as an 8-bit blend factor.
	alpha := int(opacity*256 + 0.5)
	if alpha > 256 {
		alpha = 256
	}
	inv := 256 - alpha

	xRatio := (srcW << 16) / s.width
	yRatio := (srcH << 16) / s.height

	for y := 0; y < s.height; y++ {
		srcYFP := y * yRatio
		y0 := (srcYFP >> 16) + srcY
		yFrac := srcYFP & 0xFFFF
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		dstRow := y * s.width * 4
		row0 := y0 * frame.Stride
		row1 := y1 * frame.Stride

		for x := 0; x < s.width; x++ {
			srcXFP := x * xRatio
			x0 := (srcXFP >> 16) + srcX
			xFrac := srcXFP & 0xFFFF
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			o00 := row0 + x0*4
			o10 := row0 + x1*4
			o01 := row1 + x0*4
			o11 := row1 + x1*4
			di := dstRow + x*4

			for c := 0; c < 3; c++ {
				p00 := int(frame.Data[o00+c])
				p10 := int(frame.Data[o10+c])
				p01 := int(frame.Data[o01+c])
				p11 := int(frame.Data[o11+c])

				top := (p00*(0x10000-xFrac) + p10*xFrac) >> 16
				bottom := (p01*(0x10000-xFrac) + p11*xFrac) >> 16
				sample := (top*(0x10000-yFrac) + bottom*yFrac) >> 16

				s.pix[di+c] = byte((sample*alpha + int(s.pix[di+c])*inv) >> 8)
			}
			s.pix[di+3] = 0xFF
		}
	}
}

// DrawCrossfade renders one step of a cross-dissolve: the surface is
// cleared, the outgoing frame drawn at 1-eased(progress) and the incoming
// frame at eased(progress). A nil incoming frame dissolves to black, which
// is the degraded transition used when the next clip failed to load.
func (s *Surface) DrawCrossfade(outgoing, incoming *Frame, progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	eased := EaseInOut(progress)

	s.Clear()
	s.DrawFrame(outgoing, 1-eased)
	if incoming != nil {
		s.DrawFrame(incoming, eased)
	}
}

// EaseInOut is a quadratic ease-in-out curve. It keeps transitions from
// looking mechanical compared to a linear blend, and is symmetric:
// EaseInOut(0.5) == 0.5.
func EaseInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	u := -2*t + 2
	return 1 - u*u/2
}
