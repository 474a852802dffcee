package visual

import (
	"image"
	"math"
)

// referenceWidth is the canvas width at which watermark geometry is given
// verbatim; other widths scale proportionally.
const referenceWidth = 1280

// Layout returns where an image of imgW x imgH is drawn so that it covers
// a canvasW x canvasH canvas: scaled by max(cw/iw, ch/ih) and centred.
// The overflowing edges fall outside the canvas and are cropped.
func Layout(imgW, imgH, canvasW, canvasH int) image.Rectangle {
	if imgW <= 0 || imgH <= 0 {
		return image.Rect(0, 0, canvasW, canvasH)
	}
	scale := math.Max(float64(canvasW)/float64(imgW), float64(canvasH)/float64(imgH))
	dw := int(math.Round(float64(imgW) * scale))
	dh := int(math.Round(float64(imgH) * scale))
	x := (canvasW - dw) / 2
	y := (canvasH - dh) / 2
	return image.Rect(x, y, x+dw, y+dh)
}

// WatermarkRect places a watermark in the top-left corner. margin and
// width are given for a 1280-wide canvas; height keeps the aspect ratio.
func WatermarkRect(wmW, wmH, canvasW, margin, width int) image.Rectangle {
	if wmW <= 0 || wmH <= 0 || width <= 0 {
		return image.Rectangle{}
	}
	f := float64(canvasW) / referenceWidth
	m := int(math.Round(float64(margin) * f))
	w := int(math.Round(float64(width) * f))
	h := int(math.Round(float64(wmH) * float64(w) / float64(wmW)))
	return image.Rect(m, m, m+w, m+h)
}
