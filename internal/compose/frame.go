// Package compose provides the frame compositor: an off-screen RGBA surface
// with aspect-aware cover drawing and alpha-blended cross-dissolves.
package compose

// Frame is a raw packed-RGBA video frame as emitted by a decoder handle.
type Frame struct {
	// Data holds width*height*4 bytes in RGBA order.
	Data []byte
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
	// Stride is the row length in bytes; normally Width*4.
	Stride int
}

// RGBASize returns the buffer size needed for a packed RGBA frame.
func RGBASize(width, height int) int {
	return width * height * 4
}

// NewFrame allocates a zeroed frame with a tight stride.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]byte, RGBASize(width, height)),
		Width:  width,
		Height: height,
		Stride: width * 4,
	}
}

// Clone creates a deep copy of the frame. Use it when frame data must
// outlive the decoder's read buffer.
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Data:   make([]byte, len(f.Data)),
		Width:  f.Width,
		Height: f.Height,
		Stride: f.Stride,
	}
	copy(clone.Data, f.Data)
	return clone
}
