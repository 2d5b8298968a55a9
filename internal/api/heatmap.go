package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/depthcam/internal/httputil"
)

// echartsAssetsPrefix serves the echarts bundle from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// showLatestHeatmap renders the latest frame as an HTML heatmap, one square
// per valid pixel, with row 0 at the top.
func (s *Server) showLatestHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, _ := s.opts.Latest.Frame()
	if f == nil {
		httputil.ServiceUnavailable(w, "no frame received yet")
		return
	}

	unit := s.opts.Calibration.QuantizationUnit()
	label := "depth (m)"
	if unit != 0 {
		label = fmt.Sprintf("depth (unit %d)", unit)
	}

	rows, cols := f.Rows(), f.Cols()
	data := make([]opts.ScatterData, 0, f.Len())
	maxDepth := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if f.Saturated(i, j) {
				continue
			}
			d := s.opts.Calibration.Depth(f.Pixel(i, j))
			if d > maxDepth {
				maxDepth = d
			}
			data = append(data, opts.ScatterData{Value: []interface{}{j, rows - 1 - i, d}})
		}
	}

	// Squares fill the 800px plot at any binning.
	symbol := 800 / cols
	if symbol < 1 {
		symbol = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Depth Frame", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Frame %d", f.ID()), Subtitle: fmt.Sprintf("%dx%d valid=%d %s", rows, cols, len(data), label)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: cols - 1, Name: "column", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: rows - 1, Name: "row", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDepth),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("depth", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: symbol, Symbol: "rect"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
