// Package imageproc provides the local background cutout used when no external removal engine is configured
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
)

// Options tune the cutout.
type Options struct {
	// Tolerance is the max RGB distance from the background colour, 0..441.
	Tolerance float64
	// MaxSide bounds the side of the image the mask is computed on. Bigger inputs are
	// downscaled for segmentation and the mask is scaled back.
	MaxSide int
	// Progress is called with (current, total) steps.
	Progress func(current, total int64)
}

const (
	DefaultTolerance = 40
	DefaultMaxSide   = 1024
)

// Cutout makes the background of the image transparent and returns it encoded as PNG.
// Background is everything connected to the image border whose colour is close to the
// dominant border colour.
func Cutout(r io.Reader, opts Options) (io.Reader, int64, error) {
	if r == nil {
		return nil, -1, errors.New("nil-reader provided to Cutout")
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = DefaultMaxSide
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(int64, int64) {}
	}

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to DEcode image in Cutout: %w", err)
	}
	orig := imaging.Clone(src)
	w, h := orig.Bounds().Dx(), orig.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, 0, errors.New("empty image provided to Cutout")
	}

	// маску считаем на уменьшенной копии
	small := orig
	if w > opts.MaxSide || h > opts.MaxSide {
		small = imaging.Fit(orig, opts.MaxSide, opts.MaxSide, imaging.Linear)
	}
	sh := int64(small.Bounds().Dy())
	total := sh + int64(h)

	mask := segment(small, opts.Tolerance, func(row int64) { progress(row, total) })

	var maskAt func(x, y int) uint8
	if small == orig {
		maskAt = func(x, y int) uint8 { return mask.GrayAt(x, y).Y }
	} else {
		big := imaging.Resize(mask, w, h, imaging.Linear)
		maskAt = func(x, y int) uint8 { return big.Pix[y*big.Stride+x*4] }
	}

	for y := 0; y < h; y++ {
		row := orig.Pix[y*orig.Stride : y*orig.Stride+w*4]
		for x := 0; x < w; x++ {
			a := uint32(row[x*4+3]) * uint32(maskAt(x, y)) / 255
			row[x*4+3] = uint8(a)
		}
		progress(sh+int64(y)+1, total)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, orig, imaging.PNG); err != nil {
		return nil, 0, fmt.Errorf("failed to ENcode result in Cutout: %w", err)
	}
	return &buf, int64(buf.Len()), nil
}

// segment returns a mask: 255 foreground, 0 background, 128 on the foreground edge.
func segment(img *image.NRGBA, tolerance float64, rowDone func(row int64)) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	bg := borderColor(img)
	tol2 := tolerance * tolerance

	near := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			near[y*w+x] = dist2(img.NRGBAAt(x, y), bg) <= tol2
		}
		rowDone(int64(y) + 1)
	}

	// заливка от краев по близким к фону пикселям
	isBg := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(i int) {
		if near[i] && !isBg[i] {
			isBg[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(i - 1)
		}
		if x < w-1 {
			push(i + 1)
		}
		if y > 0 {
			push(i - w)
		}
		if y < h-1 {
			push(i + w)
		}
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			switch {
			case isBg[i]:
				mask.Pix[y*mask.Stride+x] = 0
			case touchesBg(isBg, w, h, x, y):
				mask.Pix[y*mask.Stride+x] = 128
			default:
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	return mask
}

func touchesBg(isBg []bool, w, h, x, y int) bool {
	return (x > 0 && isBg[y*w+x-1]) ||
		(x < w-1 && isBg[y*w+x+1]) ||
		(y > 0 && isBg[(y-1)*w+x]) ||
		(y < h-1 && isBg[(y+1)*w+x])
}

// borderColor picks the most common (coarsely quantized) colour along the border and
// returns the mean of its members.
func borderColor(img *image.NRGBA) color.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	type acc struct{ r, g, b, n int }
	buckets := make(map[uint16]*acc)
	add := func(x, y int) {
		c := img.NRGBAAt(x, y)
		k := uint16(c.R>>4)<<8 | uint16(c.G>>4)<<4 | uint16(c.B>>4)
		a := buckets[k]
		if a == nil {
			a = &acc{}
			buckets[k] = a
		}
		a.r += int(c.R)
		a.g += int(c.G)
		a.b += int(c.B)
		a.n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		add(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		add(w-1, y)
	}

	// при равенстве побеждает меньший ключ
	var best *acc
	var bestKey uint16
	for k, a := range buckets {
		if best == nil || a.n > best.n || (a.n == best.n && k < bestKey) {
			best, bestKey = a, k
		}
	}
	return color.NRGBA{R: uint8(best.r / best.n), G: uint8(best.g / best.n), B: uint8(best.b / best.n), A: 255}
}

func dist2(a, b color.NRGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return dr*dr + dg*dg + db*db
}

// DetectFormat reports the format of encoded image data, nil error only for formats imaging can decode.
func DetectFormat(data []byte) (imaging.Format, error) {
	_, f, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return -1, err
	}

	format, err := imaging.FormatFromExtension(f)
	if err != nil {
		return -1, err
	}
	return format, nil
}
