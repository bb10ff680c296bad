package dashboard

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultChartWidth  = 800
	DefaultChartHeight = 400
	chartTitle         = "Speed Over Time"
)

// RenderChart draws download and upload against time as a PNG.
//
// An empty series renders a placeholder image. A single point is widened by
// one second because go-chart rejects a zero x-range.
func RenderChart(points []Point, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultChartWidth
	}
	if height <= 0 {
		height = DefaultChartHeight
	}
	if len(points) == 0 {
		return placeholder(width, height, NoDataText)
	}

	xs := make([]time.Time, 0, len(points)+1)
	dl := make([]float64, 0, len(points)+1)
	ul := make([]float64, 0, len(points)+1)
	maxY := 0.0
	for _, p := range points {
		xs = append(xs, p.Time)
		dl = append(dl, p.Download)
		ul = append(ul, p.Upload)
		maxY = max(maxY, p.Download, p.Upload)
	}
	if len(points) == 1 || !xs[len(xs)-1].After(xs[0]) {
		xs = append(xs, xs[len(xs)-1].Add(time.Second))
		dl = append(dl, dl[len(dl)-1])
		ul = append(ul, ul[len(ul)-1])
	}
	if maxY <= 0 {
		maxY = 1
	}

	ch := chart.Chart{
		Title:      chartTitle,
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: chart.YAxis{
			Name:  "Mbps",
			Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Download (Mbps)",
				XValues: xs,
				YValues: dl,
				Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 2},
			},
			chart.TimeSeries{
				Name:    "Upload (Mbps)",
				XValues: xs,
				YValues: ul,
				Style:   chart.Style{StrokeColor: chart.ColorGreen, StrokeWidth: 2},
			},
		},
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func placeholder(w, h int, text string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	dr := &font.Drawer{Dst: img, Src: image.NewUniform(color.Gray{Y: 90}), Face: face}
	tw := dr.MeasureString(text).Ceil()
	dr.Dot = fixed.Point26_6{X: fixed.I((w - tw) / 2), Y: fixed.I(h / 2)}
	dr.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
