package backtest

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"mtfsignal/internal/analysis/visual"
	"mtfsignal/internal/market"
	"mtfsignal/internal/resample"
	"mtfsignal/internal/strategy"
)

// WriteReport renders the price chart with trade markers, the equity curve
// and StochRSI as one HTML page.
func WriteReport(w io.Writer, frame *strategy.Frame, res *Result) error {
	if frame == nil || res == nil {
		return fmt.Errorf("report: frame and result are required")
	}
	trend := make([]float64, frame.Len())
	for i := range trend {
		v, ok := resample.Value(frame.Series, frame.Trend.Value, i)
		if !ok {
			v = math.NaN()
		}
		trend[i] = v
	}
	markers := make([]visual.Marker, 0, len(res.Trades)*2)
	for _, t := range res.Trades {
		long := t.Direction == market.SideLong
		markers = append(markers,
			visual.Marker{Index: t.EntryIndex, Price: t.EntryPrice, Entry: true, Long: long, Label: "open " + string(t.Direction)},
			visual.Marker{Index: t.ExitIndex, Price: t.ExitPrice, Long: long, Label: t.ExitReason},
		)
	}
	equity := make([]visual.EquityPoint, len(res.Equity))
	for i, p := range res.Equity {
		equity[i] = visual.EquityPoint{Time: p.Time, Equity: p.Equity}
	}
	st := res.Stats
	return visual.RenderReport(w, visual.ReportInput{
		Title: fmt.Sprintf("%s %s/%s", res.Config.Symbol, res.Config.Timeframe, res.Config.HTF),
		Subtitle: fmt.Sprintf("trades %d | win %.1f%% | pf %.2f | return %.2f%% | maxDD %.2f%% | sharpe %.2f",
			st.Trades, st.WinRate*100, st.ProfitFactor, st.ReturnPct*100, st.MaxDrawdownPct*100, st.Sharpe),
		Candles: frame.Series.LTF,
		Trend:   trend,
		K:       frame.Report.StochRSI.K,
		D:       frame.Report.StochRSI.D,
		Markers: markers,
		Equity:  equity,
	})
}

// WriteReportFile writes the report to path, creating parent directories.
func WriteReportFile(path string, frame *strategy.Frame, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteReport(f, frame, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
