// Package visual renders a bar series as a standalone echarts HTML page.
package visual

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"klinemirror/internal/analysis/indicator"
	"klinemirror/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorOverlay       = "#fbbf24"

	chartWidthPx   = 1400
	klineHeightPx  = 560
	volumeHeightPx = 220
)

var ErrNoBars = errors.New("no bars to chart")

type ChartInput struct {
	Symbol   string
	Interval string
	Bars     []market.Bar
	// Overlay is optional; nil draws candles only.
	Overlay *indicator.Overlay
}

// RenderKline writes a page with a candlestick chart, the optional overlay
// and a volume chart.
func RenderKline(w io.Writer, input ChartInput) error {
	if len(input.Bars) == 0 {
		return fmt.Errorf("%w: %s %s", ErrNoBars, input.Symbol, input.Interval)
	}
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %s", strings.ToUpper(input.Symbol), input.Interval)

	xAxis := buildXAxis(input.Bars)
	minPrice, maxPrice := priceBounds(input.Bars)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1e-8, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         page.PageTitle,
			Subtitle:      fmt.Sprintf("%d bars, last close %s", len(input.Bars), input.Bars[len(input.Bars)-1].Close),
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       minPrice - padding,
			Max:       maxPrice + padding,
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
	kline.AddSeries("Price", buildKlineSeries(input.Bars))

	if input.Overlay != nil {
		line := charts.NewLine()
		line.SetXAxis(xAxis)
		line.AddSeries(input.Overlay.Label(), buildOverlay(*input.Overlay),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorOverlay, Width: 2}),
		)
		kline.Overlap(line)
	}

	page.AddCharts(kline, buildVolumeChart(xAxis, input.Bars))
	return page.Render(w)
}

func buildXAxis(bars []market.Bar) []string {
	x := make([]string, len(bars))
	for i, b := range bars {
		x[i] = b.OpenAt().Format("01-02 15:04")
	}
	return x
}

func f64(d interface{ Float64() (float64, bool) }) float64 {
	v, _ := d.Float64()
	return v
}

// buildKlineSeries orders values as echarts expects: open, close, low, high.
func buildKlineSeries(bars []market.Bar) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(bars))
	for _, b := range bars {
		data = append(data, opts.KlineData{Value: [4]float64{f64(b.Open), f64(b.Close), f64(b.Low), f64(b.High)}})
	}
	return data
}

func buildOverlay(o indicator.Overlay) []opts.LineData {
	data := make([]opts.LineData, len(o.Values))
	for i, v := range o.Values {
		if i < o.Lookback {
			data[i] = opts.LineData{Value: "-"}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func buildVolumeChart(xAxis []string, bars []market.Bar) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Volume", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	vols := make([]opts.BarData, len(bars))
	for i, b := range bars {
		color := colorBear
		if b.Close.GreaterThanOrEqual(b.Open) {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value:     f64(b.Volume),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func priceBounds(bars []market.Bar) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, b := range bars {
		lo = math.Min(lo, f64(b.Low))
		hi = math.Max(hi, f64(b.High))
	}
	return lo, hi
}

// Filename suggests a download name such as "btcusdt_1m_20240101.html".
func Filename(symbol, interval string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.html", strings.ToLower(symbol), interval, at.UTC().Format("20060102"))
}
