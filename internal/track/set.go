package track

import (
	"context"
	"image"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// SetRef is everything a capture session needs from the catalog.
type SetRef struct {
	Backing    Ref
	Reference  *Ref
	Background *ImageRef
	Watermark  *ImageRef
}

// Set holds the loaded session inputs. Optional members are nil when not
// requested or not loadable.
type Set struct {
	Backing    *Asset
	Reference  *Asset
	Background image.Image
	Watermark  image.Image
}

// LoadSet loads every input concurrently. Only the backing track is
// required: its failure cancels the other loads and is returned. The
// optional inputs degrade to nil with a warning.
func (l *Loader) LoadSet(ctx context.Context, ref SetRef) (*Set, error) {
	set := &Set{}
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()

	p.Go(func(ctx context.Context) error {
		a, err := l.Load(ctx, ref.Backing)
		if err != nil {
			return err
		}
		set.Backing = a
		return nil
	})
	if ref.Reference != nil {
		p.Go(func(ctx context.Context) error {
			a, err := l.Load(ctx, *ref.Reference)
			if err != nil {
				slog.Warn("Reference track unavailable, recording without it", "error", err)
				return nil
			}
			set.Reference = a
			return nil
		})
	}
	if ref.Background != nil {
		p.Go(func(ctx context.Context) error {
			img, err := l.LoadImage(ctx, *ref.Background)
			if err != nil {
				slog.Warn("Background image unavailable, drawing black frames", "error", err)
				return nil
			}
			set.Background = img
			return nil
		})
	}
	if ref.Watermark != nil {
		p.Go(func(ctx context.Context) error {
			img, err := l.LoadImage(ctx, *ref.Watermark)
			if err != nil {
				slog.Warn("Watermark unavailable", "error", err)
				return nil
			}
			set.Watermark = img
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}
