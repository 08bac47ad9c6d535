package inject

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
)

const bottomTableMaxRecords = 10

// parseFailedLabel stands in for a failure kind when a whole file could not be parsed.
const parseFailedLabel = "PARSE_FAILED"

var orangeTextColor = charts.ColorOrangeAlt1.WithAdjustHSL(0, .2, 0)
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// FileResult is the outcome of instrumenting one project file.
type FileResult struct {
	Path             string             `json:"path"`                  // slash separated, relative to the project
	Output           string             `json:"output,omitempty"`      // written file, empty when not written
	Dialect          Dialect            `json:"dialect,omitempty"`     // grammar used to parse the file
	DeclarationCount int                `json:"declaration_count"`     // declarations matching the path
	Injections       []InjectionRecord  `json:"injections,omitempty"`  // successful injections
	Failures         []InjectionFailure `json:"failures,omitempty"`    // declarations which could not be applied
	Diagnostics      []Diagnostic       `json:"diagnostics,omitempty"` // set when the file could not be parsed
	CacheHit         bool               `json:"cache_hit,omitempty"`
	Restored         bool               `json:"restored,omitempty"` // in place original put back after a parse failure
	Duration         int64              `json:"duration_ms"`
}

// ParseFailed reports if no declaration was attempted because of syntax errors.
func (f FileResult) ParseFailed() bool {
	return len(f.Diagnostics) > 0
}

// FailedDeclarations counts declarations which produced no injection.
func (f FileResult) FailedDeclarations() int {
	if f.ParseFailed() {
		return f.DeclarationCount
	}
	return len(f.Failures)
}

// ReportMetrics summarizes a project run.
type ReportMetrics struct {
	GeneratedAt       time.Time           `json:"generated_at"`
	RunDuration       int64               `json:"run_ms"`
	EngineVersion     string              `json:"engine_version"`
	ProjectDir        string              `json:"project_dir"`
	DeclarationsFile  string              `json:"declarations_file"`
	FileCount         int                 `json:"file_count"`
	InstrumentedCount int                 `json:"instrumented_file_count"`
	ParseFailureCount int                 `json:"parse_failure_count"`
	CacheHitCount     int                 `json:"cache_hit_count"`
	DeclarationCount  int                 `json:"declaration_count"`
	InjectionCount    int                 `json:"injection_count"`
	FailureCount      int                 `json:"failure_count"`
	InjectionsPerKind map[Kind]int        `json:"injections_per_kind"`
	FailuresPerKind   map[FailureKind]int `json:"failures_per_kind"`
	FilesPerDialect   map[Dialect]int     `json:"files_per_dialect"`
	Files             []FileResult        `json:"files"`
	// RestoredFiles are in place instrumented files no longer matched by any declaration, reset to their original.
	RestoredFiles []string `json:"restored_files,omitempty"`
}

// BuildReportMetrics aggregates the per file results of a run.
func BuildReportMetrics(startTime time.Time, projectDir, declarationsFile string, files []FileResult) ReportMetrics {
	var kinds []Kind
	var failureKinds []FailureKind
	report := ReportMetrics{
		GeneratedAt:      time.Now().UTC(),
		RunDuration:      time.Since(startTime).Milliseconds(),
		EngineVersion:    Version,
		ProjectDir:       projectDir,
		DeclarationsFile: declarationsFile,
		FileCount:        len(files),
		FilesPerDialect:  make(map[Dialect]int),
		Files:            files,
	}
	for _, f := range files {
		report.DeclarationCount += f.DeclarationCount
		report.FailureCount += f.FailedDeclarations()
		report.InjectionCount += len(f.Injections)
		if f.CacheHit {
			report.CacheHitCount++
		}
		if len(f.Injections) > 0 {
			report.InstrumentedCount++
		}
		for _, rec := range f.Injections {
			kinds = append(kinds, rec.Declaration.Kind)
		}
		for _, failure := range f.Failures {
			failureKinds = append(failureKinds, failure.Kind)
		}
	}
	report.InjectionsPerKind = bulk.SliceToCounts(kinds)
	report.FailuresPerKind = bulk.SliceToCounts(failureKinds)
	report.ParseFailureCount = len(bulk.SliceFilter(FileResult.ParseFailed, files))
	for dialect, group := range bulk.SliceToGroupsBy(func(f FileResult) Dialect {
		return f.Dialect
	}, files) {
		if dialect != "" {
			report.FilesPerDialect[dialect] = len(group)
		}
	}
	return report
}

// WriteJSON writes the report as indented JSON, no file is written for an empty path.
func (r ReportMetrics) WriteJSON(path string) error {
	if path == "" {
		return nil
	}

	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	} else if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// ReadReportMetrics loads a report previously written by WriteJSON.
func ReadReportMetrics(path string) (ReportMetrics, error) {
	var r ReportMetrics
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report file failed: %w", err)
	} else if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("unmarshal report failed: %w", err)
	}
	return r, nil
}

// WriteCharts renders the report overview to a png, jpg or svg file, no file is written for an empty path.
func (r ReportMetrics) WriteCharts(path string) error {
	if path == "" {
		return nil
	}

	outputType, err := chartOutputType(path)
	if err != nil {
		return err
	}
	buf, err := RenderReportCharts(r, outputType)
	if err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

func chartOutputType(path string) (string, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".png") {
		return charts.ChartOutputPNG, nil
	} else if strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") {
		return charts.ChartOutputJPG, nil
	} else if strings.HasSuffix(lower, ".svg") {
		return charts.ChartOutputSVG, nil
	}
	return "", fmt.Errorf("unhandled chart file type: %s", path)
}

// RenderReportCharts renders the report overview in the given charts output type.
func RenderReportCharts(r ReportMetrics, outputType string) ([]byte, error) {
	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       768,
	}
	p := charts.NewPainter(painterOpt)
	if chartBox, err := renderChartsToPainter(p, r); err != nil {
		return nil, err
	} else if chartBox.Height() < p.Height()-128 || chartBox.Height() > p.Height() {
		// re-render to fit the content
		painterOpt.Height = chartBox.Height()
		p = charts.NewPainter(painterOpt)
		if _, err := renderChartsToPainter(p, r); err != nil {
			return nil, err
		}
	}
	return p.Bytes()
}

// failureRows lists the failed declarations, parse failures first, then by file and line.
func failureRows(r ReportMetrics) [][]string {
	var rows [][]string
	for _, f := range r.Files {
		if f.ParseFailed() {
			rows = append(rows, []string{f.Path, strconv.Itoa(f.DeclarationCount) + " tracepoints",
				parseFailedLabel, limitString(f.Diagnostics[0].String(), 60)})
		}
	}
	for _, f := range r.Files {
		for _, failure := range f.Failures {
			rows = append(rows, []string{f.Path, limitString(failure.Declaration.String(), 40),
				string(failure.Kind), limitString(failure.Message, 60)})
		}
	}
	return rows
}

func renderChartsToPainter(p *charts.Painter, r ReportMetrics) (charts.Box, error) {
	const chartPadding = 10
	resultBox := charts.NewBoxEqual(0)
	resultBox.Right = p.Width()
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	titleFont := charts.FontStyle{
		FontSize:  16,
		FontColor: charts.ColorBlack,
		Font:      charts.GetDefaultFont(),
	}
	title := "Tracepoints " + r.EngineVersion
	if r.ProjectDir != "" {
		title += ": " + r.ProjectDir
	}
	titleBox := p.MeasureText(title, 0, titleFont)
	resultBox.Bottom += titleBox.Height()

	painters, err := p.LayoutByRows().
		RowGap(strconv.Itoa(titleBox.Height())).
		Row().Height("128").Columns("topLeft", "topRight").
		Row().Height("112").RowOffset("-40").Columns("middle").
		Row().Columns("bottom").
		Build()
	if err != nil {
		return resultBox, fmt.Errorf("error building chart layout: %w", err)
	}
	topLeft := painters["topLeft"]
	topRight := painters["topRight"]
	middle := painters["middle"]
	bottom := painters["bottom"]

	gaugeTheme := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			charts.ColorRed,
		})
	percentOfTotal := func(total int) func(float64) string {
		return func(rest float64) string {
			if total == 0 {
				return "None"
			}
			return charts.FormatValueHumanize(100.0*(float64(total)-rest)/float64(total), 1, false) + "%"
		}
	}

	succeeded := r.DeclarationCount - r.FailureCount
	topLeftOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(succeeded)}, {float64(r.FailureCount)},
	})
	topLeftOpt.StackSeries = charts.Ptr(true)
	topLeftOpt.Theme = gaugeTheme
	topLeftOpt.Title.Text = "Tracepoints Applied"
	topLeftOpt.XAxis.Unit = axisUnitForMax(r.DeclarationCount)
	topLeftOpt.YAxis.Show = charts.Ptr(false)
	topLeftOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topLeftOpt.SeriesList[1].Label.FontStyle.FontColor = firstValueSeriesRankColor(topLeftOpt.Theme, topLeftOpt.SeriesList)
	topLeftOpt.SeriesList[1].Label.ValueFormatter = percentOfTotal(r.DeclarationCount)
	if err := topLeft.HorizontalBarChart(topLeftOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	parsedCount := r.FileCount - r.ParseFailureCount
	topRightOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(parsedCount)}, {float64(r.ParseFailureCount)},
	})
	topRightOpt.StackSeries = charts.Ptr(true)
	topRightOpt.Theme = gaugeTheme
	topRightOpt.Title.Text = "Files Parsed"
	topRightOpt.XAxis.Unit = axisUnitForMax(r.FileCount)
	topRightOpt.YAxis.Show = charts.Ptr(false)
	topRightOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topRightOpt.SeriesList[1].Label.FontStyle.FontColor = firstValueSeriesRankColor(topRightOpt.Theme, topRightOpt.SeriesList)
	topRightOpt.SeriesList[1].Label.ValueFormatter = percentOfTotal(r.FileCount)
	if err := topRight.HorizontalBarChart(topRightOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	resultBox.Bottom += max(topLeft.Height(), topRight.Height())

	middleOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{float64(r.CacheHitCount)}, {float64(r.FileCount - r.CacheHitCount)},
	})
	middleOpt.StackSeries = charts.Ptr(true)
	middleOpt.Theme = charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
		})
	middleOpt.Title.Text = "Result Cache Hits"
	middleOpt.XAxis.Show = charts.Ptr(false)
	middleOpt.YAxis.Show = charts.Ptr(false)
	middleOpt.BarHeight = 22
	middleOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	middleOpt.SeriesList[1].Label.FontStyle.FontColor = charts.ColorBlack
	middleOpt.SeriesList[1].Label.ValueFormatter = percentOfTotal(r.FileCount)
	if err := middle.HorizontalBarChart(middleOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	resultBox.Bottom += middle.Height()

	rows := failureRows(r)
	if len(rows) == 0 {
		text := "All Tracepoints Applied"
		textBox := bottom.MeasureText(text, 0, titleFont)
		bottom.Text(text, (bottom.Width()-textBox.Width())/2, bottom.Height()/2, 0, titleFont)
		resultBox.Bottom += textBox.Height() * 2
	} else {
		tableTitle := "Failed Tracepoints"
		if len(rows) > bottomTableMaxRecords {
			tableTitle += " (" + strconv.Itoa(len(rows)-bottomTableMaxRecords) + " more in report)"
			rows = rows[:bottomTableMaxRecords]
		}
		tableTitleFont := charts.FontStyle{
			FontSize:  12,
			FontColor: gaugeTheme.GetTitleTextColor(),
			Font:      charts.GetDefaultFont(),
		}
		tableTitleBox := bottom.MeasureText(tableTitle, 0, tableTitleFont)
		bottom.Text(tableTitle, 10, tableTitleBox.Height(), 0, tableTitleFont)
		rowColors := []charts.Color{
			{R: 240, G: 240, B: 240, A: 255},
			charts.ColorTransparent,
		}
		if len(rows)%2 == 0 {
			rowColors[0], rowColors[1] = rowColors[1], rowColors[0]
		}
		defaultCellFontStyle := charts.FontStyle{
			FontSize:  12,
			FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
			Font:      charts.GetDefaultFont(),
		}
		bottomOpt := charts.TableChartOption{
			Header:                []string{"File", "Tracepoint", "Error", "Message"},
			Data:                  rows,
			HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
			RowBackgroundColors:   rowColors,
			Padding:               charts.NewBoxEqual(10),
			Spans:                 []int{16, 16, 12, 28},
			TextAligns:            []string{charts.AlignLeft, charts.AlignLeft, charts.AlignLeft, charts.AlignLeft},
			CellModifier: func(cell charts.TableCell) charts.TableCell {
				if cell.Row == 0 {
					return cell
				}
				cell.FontStyle = defaultCellFontStyle
				switch cell.Column {
				case 2:
					if cell.Text == parseFailedLabel {
						cell.FontStyle.FontColor = redTextColor
					} else {
						cell.FontStyle.FontColor = orangeTextColor
					}
				case 3:
					cell.FontStyle.FontSize = 8
				}
				return cell
			},
		}
		tablePainter := bottom.Child(charts.PainterPaddingOption(charts.NewBox(10, tableTitleBox.Height()+8, 0, 0)))
		if err := tablePainter.TableChart(bottomOpt); err != nil {
			return resultBox, fmt.Errorf("error rendering table: %w", err)
		}
		// rendered again to measure, the table painter does not report its size
		bottomOpt.Width = bottom.Width()
		if tp, _ := charts.TableOptionRenderDirect(bottomOpt); tp != nil {
			resultBox.Bottom += tableTitleBox.Height() + tp.Height()
		} else {
			resultBox.Bottom += bottom.Height()
		}
	}

	p.Text(title, (p.Width()/2)-(titleBox.Width()/2), titleBox.Height(), 0, titleFont)
	return resultBox, nil
}

func firstValueSeriesRankColor(theme charts.ColorPalette, sl charts.HorizontalBarSeriesList) charts.Color {
	sum := sl.SumSeriesValues()
	if sl[0].Values[0] < sum[0]/2 {
		return redTextColor
	} else if sl[0].Values[0] < sum[0]*.8 {
		return orangeTextColor
	}
	return theme.GetLabelTextColor()
}

func axisUnitForMax(val int) float64 {
	switch {
	case val >= 8000:
		return 2000
	case val > 2000:
		return 1000
	case val >= 800:
		return 200
	case val > 200:
		return 100
	case val >= 80:
		return 20
	case val > 20:
		return 10
	case val >= 10:
		return 2
	default:
		return 1
	}
}

// sortedFailureKinds returns the failure kinds of the report ordered by count, highest first.
func (r ReportMetrics) sortedFailureKinds() []FailureKind {
	kinds := bulk.MapKeysSlice(r.FailuresPerKind)
	slices.SortFunc(kinds, func(a, b FailureKind) int {
		if c := r.FailuresPerKind[b] - r.FailuresPerKind[a]; c != 0 {
			return c
		}
		return strings.Compare(string(a), string(b))
	})
	return kinds
}

// String summarizes the report on a few lines.
func (r ReportMetrics) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d files, %d instrumented, %d parse failures, %d cache hits\n",
		r.FileCount, r.InstrumentedCount, r.ParseFailureCount, r.CacheHitCount))
	sb.WriteString(fmt.Sprintf("%d tracepoints, %d injections, %d failed", r.DeclarationCount, r.InjectionCount, r.FailureCount))
	for i, k := range r.sortedFailureKinds() {
		if i == 0 {
			sb.WriteString(" (")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%s=%d", k, r.FailuresPerKind[k]))
	}
	if len(r.FailuresPerKind) > 0 {
		sb.WriteString(")")
	}
	return sb.String()
}
