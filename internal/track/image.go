package track

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	_ "golang.org/x/image/webp"
)

// ImageRef identifies a still image: the background or the watermark.
type ImageRef struct {
	Name     string
	Location string
	Data     []byte
}

// LoadImage fetches and decodes a PNG, JPEG, GIF or WebP image.
func (l *Loader) LoadImage(ctx context.Context, ref ImageRef) (image.Image, error) {
	name := displayName(Ref{Name: ref.Name, Location: ref.Location})
	data, err := l.fetch(ctx, name, ref.Location, ref.Data)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, loadErr(UnsupportedFormat, name, err)
	}
	if err != nil {
		return nil, loadErr(DecodeFailure, name, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, loadErr(DecodeFailure, name, errors.New("empty image"))
	}
	slog.Debug("Image loaded", "image", name, "format", format, "width", b.Dx(), "height", b.Dy())
	return img, nil
}
