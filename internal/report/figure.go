package report

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/arkilian/qgate/pkg/types"
)

const (
	panelWidth  = 320
	panelHeight = 240
	panelCols   = 3
	panelRows   = 2
	panelMargin = 24
)

var (
	background = color.RGBA{255, 255, 255, 255}
	axisColor  = color.RGBA{60, 60, 60, 255}
	gridColor  = color.RGBA{225, 225, 225, 255}

	// pre, during, post
	phaseColors = [3]color.RGBA{
		{76, 114, 176, 255},
		{221, 132, 82, 255},
		{85, 168, 104, 255},
	}
)

// panels lists the figure panels in layout order: memory, CPU, threads,
// file descriptors, network.
func panels(u types.Usage) []types.Phase {
	return []types.Phase{u.MemoryMB, u.CPU, u.Threads, u.FDs, u.NetKBps}
}

// drawFigure lays the five usage panels out on a 3x2 grid. Each panel holds
// three bars scaled to that panel's largest phase.
func drawFigure(u types.Usage) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, panelCols*panelWidth, panelRows*panelHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	for i, p := range panels(u) {
		col, row := i%panelCols, i/panelCols
		origin := image.Pt(col*panelWidth, row*panelHeight)
		drawPanel(img, origin, p)
	}
	return img
}

func drawPanel(img *image.RGBA, origin image.Point, p types.Phase) {
	plot := image.Rect(
		origin.X+panelMargin, origin.Y+panelMargin,
		origin.X+panelWidth-panelMargin, origin.Y+panelHeight-panelMargin,
	)

	for i := 1; i < 4; i++ {
		y := plot.Max.Y - i*plot.Dy()/4
		fill(img, image.Rect(plot.Min.X, y, plot.Max.X, y+1), gridColor)
	}
	fill(img, image.Rect(plot.Min.X, plot.Min.Y, plot.Min.X+1, plot.Max.Y), axisColor)
	fill(img, image.Rect(plot.Min.X, plot.Max.Y-1, plot.Max.X, plot.Max.Y), axisColor)

	values := [3]float64{p.Pre, p.During, p.Post}
	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= 0 {
		return
	}

	slot := plot.Dx() / len(values)
	barWidth := slot / 2
	for i, v := range values {
		if v <= 0 {
			continue
		}
		h := int(float64(plot.Dy()-1) * v / maxVal)
		x0 := plot.Min.X + i*slot + (slot-barWidth)/2
		fill(img, image.Rect(x0, plot.Max.Y-1-h, x0+barWidth, plot.Max.Y-1), phaseColors[i])
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, &image.Uniform{c}, image.Point{}, draw.Src)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
