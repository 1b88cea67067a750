package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// motionChartID names the chart element; go-echarts draws a random one
// otherwise.
const motionChartID = "motion_parameters"

var motionSeries = []string{"tx (mm)", "ty (mm)", "tz (mm)", "rx (rad)", "ry (rad)", "rz (rad)"}

// WriteMotionChart renders realignment parameters, one row of six values
// per scan, as an HTML line chart.
func WriteMotionChart(path, subject string, params [][]float64) error {
	if len(params) == 0 {
		return fmt.Errorf("no motion parameters")
	}
	x := make([]int, len(params))
	for i := range x {
		x[i] = i
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Motion parameters", Width: "1000px", Height: "480px", ChartID: motionChartID}),
		charts.WithTitleOpts(opts.Title{Title: "Realignment parameters", Subtitle: subject}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scan", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x)
	for k, name := range motionSeries {
		data := make([]opts.LineData, len(params))
		for t, row := range params {
			if k >= len(row) {
				return fmt.Errorf("scan %d has %d parameters, expected 6", t, len(row))
			}
			data[t] = opts.LineData{Value: row[k]}
		}
		line.AddSeries(name, data)
	}

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("rendering motion chart: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
