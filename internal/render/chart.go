// Package render draws replay views as PNG score charts.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ernie/trinity-replay/internal/replay"
)

const (
	DefaultWidth  = 960
	DefaultHeight = 540

	// lines are drawn at this multiple and scaled down for smoothing
	supersample = 2

	marginLeft   = 56
	marginRight  = 150
	marginTop    = 32
	marginBottom = 36
)

var (
	background = color.RGBA{0x1b, 0x1d, 0x23, 0xff}
	gridColor  = color.RGBA{0x3a, 0x3d, 0x46, 0xff}
	textColor  = color.RGBA{0xd8, 0xd8, 0xd8, 0xff}
	cursor     = color.RGBA{0xff, 0xff, 0xff, 0x90}
)

// Options controls the output image size. Zero values select the defaults.
type Options struct {
	Width  int
	Height int
}

// ParseColor converts a "#rrggbb" palette entry to a color
func ParseColor(hex string) (color.RGBA, error) {
	s := strings.TrimPrefix(hex, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// plot maps chart coordinates to pixels in the supersampled canvas
type plot struct {
	x0, y0, x1, y1 int
	n              int
	minY, maxY     int
}

func (p plot) px(i int) int {
	if p.n <= 1 {
		return p.x0
	}
	return p.x0 + i*(p.x1-p.x0)/(p.n-1)
}

func (p plot) py(v int) int {
	return p.y1 - (v-p.minY)*(p.y1-p.y0)/(p.maxY-p.minY)
}

// Chart renders the view's score series for the selected players, with the
// scrubber position marked, and encodes the result as PNG
func Chart(w io.Writer, v replay.View, opts Options) error {
	img, err := ChartImage(v, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// ChartImage renders the chart without encoding it
func ChartImage(v replay.View, opts Options) (*image.RGBA, error) {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if width < marginLeft+marginRight+16 || height < marginTop+marginBottom+16 {
		return nil, fmt.Errorf("chart size %dx%d is too small", width, height)
	}

	colors := make(map[string]color.RGBA, len(v.Players))
	for _, p := range v.Players {
		c, err := ParseColor(p.Color)
		if err != nil {
			return nil, err
		}
		colors[p.Name] = c
	}

	// series lines on a supersampled layer
	big := image.NewRGBA(image.Rect(0, 0, width*supersample, height*supersample))
	draw.Draw(big, big.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	p := plot{
		x0: marginLeft * supersample, y0: marginTop * supersample,
		x1: (width - marginRight) * supersample, y1: (height - marginBottom) * supersample,
		n: len(v.Chart),
	}
	p.minY, p.maxY = scoreRange(v.Chart)

	for _, tick := range gridTicks(p.minY, p.maxY) {
		hline(big, p.x0, p.x1, p.py(tick), gridColor)
	}
	if p.n > 0 && v.Index >= 0 && v.Index < p.n {
		x := p.px(v.Index)
		for dx := 0; dx < supersample; dx++ {
			vline(big, x+dx, p.y0, p.y1, cursor)
		}
	}
	for _, name := range v.Selected {
		c := colors[name]
		for i := 1; i < len(v.Chart); i++ {
			prev, cur := v.Chart[i-1].Scores[name], v.Chart[i].Scores[name]
			thickLine(big, p.px(i-1), p.py(prev), p.px(i), p.py(cur), supersample+1, c)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(img, img.Bounds(), big, big.Bounds(), draw.Src, nil)

	// text is drawn at final resolution so the bitmap font stays crisp
	face := basicfont.Face7x13
	title := v.MapName
	if v.Timestamp != "" {
		title = fmt.Sprintf("%s  %s", title, replay.FormatClock(v.Timestamp))
		if v.Elapsed != "" {
			title = fmt.Sprintf("%s (%s)", title, v.Elapsed)
		}
	}
	drawText(img, face, marginLeft, 20, strings.TrimSpace(title), textColor)

	for _, tick := range gridTicks(p.minY, p.maxY) {
		label := strconv.Itoa(tick)
		lw := font.MeasureString(face, label).Ceil()
		drawText(img, face, marginLeft-6-lw, p.py(tick)/supersample+4, label, textColor)
	}
	if n := len(v.Chart); n > 0 {
		drawText(img, face, marginLeft, height-12, replay.FormatClock(v.Chart[0].Timestamp), textColor)
		last := replay.FormatClock(v.Chart[n-1].Timestamp)
		lw := font.MeasureString(face, last).Ceil()
		drawText(img, face, width-marginRight-lw, height-12, last, textColor)
	}

	// legend in selection order
	y := marginTop + 4
	for _, name := range v.Selected {
		if y > height-marginBottom {
			break
		}
		c := colors[name]
		draw.Draw(img, image.Rect(width-marginRight+12, y-8, width-marginRight+22, y+2), image.NewUniform(c), image.Point{}, draw.Src)
		label := name
		if stat, ok := v.StatsAtTime[name]; ok {
			label = fmt.Sprintf("%s %d", name, stat.Score)
		}
		drawText(img, face, width-marginRight+28, y+2, label, textColor)
		y += 16
	}

	return img, nil
}

// scoreRange returns the y-axis bounds, always including zero and never empty
func scoreRange(points []replay.ChartPoint) (int, int) {
	lo, hi := 0, 0
	for _, pt := range points {
		for _, s := range pt.Scores {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

// gridTicks picks round-number horizontal grid lines between lo and hi
func gridTicks(lo, hi int) []int {
	step := 1
	for (hi-lo)/step > 5 {
		switch {
		case strconv.Itoa(step)[0] == '2':
			step = step / 2 * 5
		default:
			step *= 2
		}
	}
	var ticks []int
	start := (lo / step) * step
	if start < lo {
		start += step
	}
	for t := start; t <= hi; t += step {
		ticks = append(ticks, t)
	}
	return ticks
}

func drawText(img draw.Image, face font.Face, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func hline(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y, c)
	}
}

func vline(img *image.RGBA, x, y0, y1 int, c color.RGBA) {
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x, y, c)
	}
}

// thickLine draws a Bresenham line stamped with a square brush
func thickLine(img *image.RGBA, x0, y0, x1, y1, width int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	half := width / 2
	err := dx + dy
	for {
		for bx := -half; bx <= half; bx++ {
			for by := -half; by <= half; by++ {
				img.SetRGBA(x0+bx, y0+by, c)
			}
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
