package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/clipforge/stitch-api/internal/compose"
)

// ErrDecoderClosed is returned when reading from a closed decoder.
var ErrDecoderClosed = errors.New("loader: decoder closed")

// Decoder is the decodable handle for one loaded asset: a long-lived
// ffmpeg process seeked to the clip's start offset, emitting raw RGBA
// frames at the run's frame rate on stdout. Frames are pulled one per tick
// by the render loop; pipe backpressure keeps decode memory bounded.
type Decoder struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frameCh chan *compose.Frame
	errCh   chan error
	stderr  bytes.Buffer

	width  int
	height int

	closeOnce sync.Once
	done      chan struct{}
}

// newDecoder spawns the decode process. startSeconds seeks into the source;
// fps resamples the source's native rate so exactly one frame is consumed
// per output tick. Frames keep the source resolution; cover scaling is the
// compositor's job.
func newDecoder(ctx context.Context, ffmpegPath, input string, startSeconds float64, width, height, fps int) (*Decoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("loader: decoder needs probed dimensions, got %dx%d", width, height)
	}

	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(startSeconds, 'f', 3, 64),
		"-i", input,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-an",
		"pipe:1",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(dctx, ffmpegPath, args...)

	d := &Decoder{
		cmd:     cmd,
		cancel:  cancel,
		frameCh: make(chan *compose.Frame, 2),
		errCh:   make(chan error, 1),
		width:   width,
		height:  height,
		done:    make(chan struct{}),
	}
	cmd.Stderr = &d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	go d.readLoop(stdout)
	return d, nil
}

// readLoop pulls full frames off the decode pipe until EOF or error.
func (d *Decoder) readLoop(stdout io.Reader) {
	defer close(d.frameCh)
	frameSize := compose.RGBASize(d.width, d.height)

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			waitErr := d.cmd.Wait()
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				if waitErr != nil && d.stderr.Len() > 0 {
					d.errCh <- fmt.Errorf("decoder exited: %w, stderr: %s", waitErr, d.stderr.String())
				} else {
					d.errCh <- io.EOF
				}
			default:
				d.errCh <- fmt.Errorf("read decoded frame: %w", err)
			}
			return
		}

		frame := &compose.Frame{
			Data:   buf,
			Width:  d.width,
			Height: d.height,
			Stride: d.width * 4,
		}
		select {
		case d.frameCh <- frame:
		case <-d.done:
			d.cancel()
			_ = d.cmd.Wait()
			return
		}
	}
}

// ReadFrame returns the next decoded frame, io.EOF once the clip's frames
// are exhausted, or the context error on cancellation.
func (d *Decoder) ReadFrame(ctx context.Context) (*compose.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrDecoderClosed
	case frame, ok := <-d.frameCh:
		if ok {
			return frame, nil
		}
		select {
		case err := <-d.errCh:
			return nil, err
		default:
			return nil, io.EOF
		}
	}
}

// Close stops the decode process and detaches the handle. Safe to call
// more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.cancel()
	})
	return nil
}
