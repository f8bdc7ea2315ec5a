// Package quicklook renders small PNG previews of composites.
package quicklook

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/smosaic/internal/raster"
)

// DefaultMaxSize bounds the longer edge of a quicklook.
const DefaultMaxSize = 512

// Options control rendering.
type Options struct {
	MaxSize int    // longer edge in pixels, DefaultMaxSize when zero
	Caption string // drawn bottom left when non-empty
	Low     float64
	High    float64 // stretch quantiles, 0.02 and 0.98 when both zero
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.Low == 0 && o.High == 0 {
		o.Low, o.High = 0.02, 0.98
	}
	return o
}

// Render stretches band 0 of buf to grayscale between the Low and High
// quantiles of its valid samples. Nodata samples are transparent.
func Render(buf *raster.Buffer, opts Options) (*image.RGBA, error) {
	opts = opts.withDefaults()
	if len(buf.Bands) == 0 || buf.Samples() == 0 {
		return nil, fmt.Errorf("render quicklook: empty raster")
	}

	p := buf.Profile
	raw := buf.Raw(0)
	lo, hi := stretch(raw, p.NoData, opts.Low, opts.High)

	full := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range raw {
		if !p.NoData.Valid(v) || math.IsNaN(v) {
			continue
		}
		g := uint8(255 * math.Max(0, math.Min(1, (v-lo)/(hi-lo))))
		full.SetRGBA(i%p.Width, i/p.Width, color.RGBA{g, g, g, 255})
	}

	img := full
	if w, h := fit(p.Width, p.Height, opts.MaxSize); w != p.Width || h != p.Height {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(img, img.Bounds(), full, full.Bounds(), draw.Src, nil)
	}

	if opts.Caption != "" {
		drawCaption(img, opts.Caption)
	}
	return img, nil
}

// Write renders buf and stores it as a PNG on fs.
func Write(fs billy.Filesystem, p string, buf *raster.Buffer, opts Options) error {
	img, err := Render(buf, opts)
	if err != nil {
		return err
	}
	if dir := path.Dir(p); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	f, err := fs.Create(p)
	if err != nil {
		return fmt.Errorf("create quicklook %s: %w", p, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode quicklook %s: %w", p, err)
	}
	return f.Close()
}

// stretch returns the value range mapped onto 0..255. A flat or empty
// raster gets a unit range so every valid sample renders black.
func stretch(raw []float64, nodata raster.NoData, low, high float64) (float64, float64) {
	valid := make([]float64, 0, len(raw))
	for _, v := range raw {
		if nodata.Valid(v) && !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0, 1
	}
	sort.Float64s(valid)
	lo := stat.Quantile(low, stat.Empirical, valid, nil)
	hi := stat.Quantile(high, stat.Empirical, valid, nil)
	if hi <= lo {
		return lo, lo + 1
	}
	return lo, hi
}

// fit scales w x h so the longer edge is at most limit.
func fit(w, h, limit int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long <= limit {
		return w, h
	}
	scale := float64(limit) / float64(long)
	sw := int(math.Max(1, math.Round(float64(w)*scale)))
	sh := int(math.Max(1, math.Round(float64(h)*scale)))
	return sw, sh
}

// drawCaption darkens a strip along the bottom edge and writes text on it.
func drawCaption(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	bounds := img.Bounds()
	strip := face.Height + 6
	if bounds.Dy() < strip {
		return
	}

	for y := bounds.Max.Y - strip; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			orig := img.RGBAAt(x, y)
			orig.R = uint8(float64(orig.R) * 0.3)
			orig.G = uint8(float64(orig.G) * 0.3)
			orig.B = uint8(float64(orig.B) * 0.3)
			orig.A = 255
			img.SetRGBA(x, y, orig)
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{230, 230, 230, 255}),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(bounds.Min.X + 4), Y: fixed.I(bounds.Max.Y - 4 - face.Descent)},
	}
	d.DrawString(text)
}
