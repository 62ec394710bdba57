// Package visual renders replay results as a self-contained HTML page.
package visual

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"mtfsignal/internal/market"
)

// Marker is an entry or exit drawn on the price chart at a bar index.
type Marker struct {
	Index int
	Price float64
	Entry bool
	Long  bool
	Label string
}

// EquityPoint is one sample of the account curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

type ReportInput struct {
	Title    string
	Subtitle string
	Candles  []market.Candle
	// Trend is the higher-timeframe Supertrend line projected onto the
	// candles; NaN where undefined.
	Trend   []float64
	K       []float64
	D       []float64
	Markers []Marker
	Equity  []EquityPoint
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorTrend         = "#fbbf24"
	colorEquity        = "#3b82f6"
	colorK             = "#22d3ee"
	colorD             = "#fb7185"

	chartWidthPx  = 1600
	klineHeightPx = 600
	equityHeight  = 320
	oscHeight     = 240
)

// RenderReport writes the price, equity and oscillator charts to w.
func RenderReport(w io.Writer, in ReportInput) error {
	if len(in.Candles) == 0 {
		return fmt.Errorf("no candles to render")
	}
	html, err := buildReportHTML(in)
	if err != nil {
		return err
	}
	_, err = w.Write(html)
	return err
}

func buildReportHTML(in ReportInput) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = in.Title
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Candles)
	page.AddCharts(buildPriceChart(in, xAxis))
	if len(in.Equity) > 0 {
		page.AddCharts(buildEquityChart(in.Equity))
	}
	if len(in.K) > 0 {
		page.AddCharts(buildOscillatorChart(xAxis, in.K, in.D))
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildPriceChart(in ReportInput, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1e-4, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         strings.ToUpper(in.Title),
			Subtitle:      in.Subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 5),
			Max:       round(maxPrice+padding, 5),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", buildKlineSeries(in.Candles))

	if len(in.Trend) > 0 {
		trend := charts.NewLine()
		trend.SetXAxis(xAxis)
		trend.AddSeries("HTF Supertrend", toLineData(in.Trend, len(in.Candles)),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorTrend, Width: 2}))
		kline.Overlap(trend)
	}
	if len(in.Markers) > 0 {
		kline.Overlap(buildMarkers(xAxis, in.Markers))
	}
	return kline
}

func buildMarkers(xAxis []string, markers []Marker) *charts.Scatter {
	series := map[string][]opts.ScatterData{}
	order := []string{"Long entries", "Short entries", "Exits"}
	for _, name := range order {
		blank := make([]opts.ScatterData, len(xAxis))
		for i := range blank {
			blank[i] = opts.ScatterData{Value: nil}
		}
		series[name] = blank
	}
	for _, m := range markers {
		if m.Index < 0 || m.Index >= len(xAxis) {
			continue
		}
		name, symbol := "Exits", "diamond"
		switch {
		case m.Entry && m.Long:
			name, symbol = "Long entries", "triangle"
		case m.Entry:
			name, symbol = "Short entries", "pin"
		}
		series[name][m.Index] = opts.ScatterData{
			Name:       m.Label,
			Value:      round(m.Price, 5),
			Symbol:     symbol,
			SymbolSize: 12,
		}
	}
	colors := map[string]string{"Long entries": colorBull, "Short entries": colorBear, "Exits": colorTextPrimary}
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	for _, name := range order {
		scatter.AddSeries(name, series[name], charts.WithItemStyleOpts(opts.ItemStyle{Color: colors[name]}))
	}
	return scatter
}

func buildEquityChart(points []EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeight)),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(points))
	data := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = p.Time.UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: round(p.Equity, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func buildOscillatorChart(xAxis []string, k, d []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(oscHeight)),
		charts.WithTitleOpts(opts.Title{Title: "StochRSI", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("%K", toLineData(k, len(xAxis)),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorK, Width: 2}))
	if len(d) > 0 {
		line.AddSeries("%D", toLineData(d, len(xAxis)),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorD, Width: 1}))
	}
	return line
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.OpenAt().Format("01-02 15:04")
	}
	return x
}

func buildKlineSeries(candles []market.Candle) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	return data
}

// toLineData right-aligns series onto length slots; NaN becomes a gap.
func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		series = series[-offset:]
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i, val := range series {
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
			continue
		}
		line[offset+i] = opts.LineData{Value: round(val, 5)}
	}
	return line
}

func priceBounds(candles []market.Candle) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	return lo, hi
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
