package visual

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/image/draw"
)

// FrameSource describes what the compositor draws on every tick.
type FrameSource struct {
	// Background covers the canvas. Nil draws a black frame.
	Background image.Image
	// Watermark is drawn top-left at WatermarkOpacity. Nil skips it.
	Watermark image.Image

	Size             Size
	FPS              int
	WatermarkWidth   int
	WatermarkMargin  int
	WatermarkOpacity float64
}

// FrameSink consumes composed frames. The frame is reused on the next
// tick, so WriteVideo must not retain it.
type FrameSink interface {
	WriteVideo(frame *image.RGBA) error
}

// Loop is a running render loop.
type Loop struct {
	canvas *image.RGBA
	sink   FrameSink

	// pre-scaled layers, drawn every frame
	background *image.RGBA
	watermark  *image.RGBA
	wmRect     image.Rectangle
	wmMask     *image.Uniform

	frames   atomic.Int64
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// StartLoop begins drawing src onto canvas at src.FPS frames per second
// and hands each frame to sink.
func StartLoop(src FrameSource, canvas *image.RGBA, sink FrameSink, clk clock.Clock) (*Loop, error) {
	if canvas == nil {
		return nil, fmt.Errorf("no canvas")
	}
	if src.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", src.FPS)
	}
	if clk == nil {
		clk = clock.New()
	}

	l := &Loop{
		canvas: canvas,
		sink:   sink,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.prepare(src)

	interval := time.Second / time.Duration(src.FPS)
	ticker := clk.Ticker(interval)

	slog.Debug("Render loop started",
		"width", canvas.Rect.Dx(),
		"height", canvas.Rect.Dy(),
		"fps", src.FPS,
		"background", src.Background != nil,
		"watermark", src.Watermark != nil)

	go l.run(ticker)
	return l, nil
}

func (l *Loop) prepare(src FrameSource) {
	bounds := l.canvas.Bounds()

	l.background = image.NewRGBA(bounds)
	draw.Draw(l.background, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	if src.Background != nil {
		b := src.Background.Bounds()
		dr := Layout(b.Dx(), b.Dy(), bounds.Dx(), bounds.Dy())
		draw.CatmullRom.Scale(l.background, dr, src.Background, b, draw.Over, nil)
	}

	if src.Watermark != nil && src.WatermarkOpacity > 0 {
		b := src.Watermark.Bounds()
		l.wmRect = WatermarkRect(b.Dx(), b.Dy(), bounds.Dx(), src.WatermarkMargin, src.WatermarkWidth)
		if !l.wmRect.Empty() {
			l.watermark = image.NewRGBA(image.Rect(0, 0, l.wmRect.Dx(), l.wmRect.Dy()))
			draw.CatmullRom.Scale(l.watermark, l.watermark.Bounds(), src.Watermark, b, draw.Src, nil)
			l.wmMask = image.NewUniform(color.Alpha{A: uint8(min(src.WatermarkOpacity, 1) * 255)})
		}
	}
}

func (l *Loop) run(ticker *clock.Ticker) {
	defer close(l.done)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			// a tick and a stop can be ready together; stop wins
			select {
			case <-l.stop:
				return
			default:
			}
			if err := l.drawFrame(); err != nil {
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				slog.Error("Render loop stopped", "error", err, "frames", l.frames.Load())
				return
			}
		}
	}
}

func (l *Loop) drawFrame() error {
	bounds := l.canvas.Bounds()
	draw.Draw(l.canvas, bounds, l.background, bounds.Min, draw.Src)
	if l.watermark != nil {
		draw.DrawMask(l.canvas, l.wmRect, l.watermark, image.Point{}, l.wmMask, image.Point{}, draw.Over)
	}
	l.frames.Add(1)

	if l.sink == nil {
		return nil
	}
	if err := l.sink.WriteVideo(l.canvas); err != nil {
		return fmt.Errorf("failed to deliver frame: %w", err)
	}
	return nil
}

// Stop cancels the loop and waits for it to exit. No frame is drawn after
// Stop returns. Later calls are no-ops.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	<-l.done
}

// Done is closed once the loop has exited, after Stop or a sink error.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Frames returns the number of frames drawn so far.
func (l *Loop) Frames() int64 {
	return l.frames.Load()
}

// Err returns the sink error that ended the loop, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
