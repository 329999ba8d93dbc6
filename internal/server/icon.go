package server

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
)

// markerIconSize is the edge length of the served marker sprite.
const markerIconSize = 64

// markerIconOversample is the factor the dot is drawn at before being
// scaled down, which smooths the circle edge.
const markerIconOversample = 4

var (
	markerFill   = color.NRGBA{R: 0x1f, G: 0x6f, B: 0xeb, A: 0xff}
	markerBorder = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// renderMarkerIcon rasterizes the plaque marker dot and encodes it as
// lossless WebP for the map's symbol layer.
func renderMarkerIcon(size int) ([]byte, error) {
	big := size * markerIconOversample
	src := image.NewRGBA(image.Rect(0, 0, big, big))

	cx, cy := float64(big)/2, float64(big)/2
	outer := float64(big) / 2
	inner := outer * 0.78

	for y := 0; y < big; y++ {
		for x := 0; x < big; x++ {
			dx := float64(x) + 0.5 - cx
			dy := float64(y) + 0.5 - cy
			r2 := dx*dx + dy*dy

			switch {
			case r2 <= inner*inner:
				src.SetRGBA(x, y, rgba(markerFill))
			case r2 <= outer*outer:
				src.SetRGBA(x, y, rgba(markerBorder))
			}
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, dst, &webp.Options{Lossless: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rgba(c color.NRGBA) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}
