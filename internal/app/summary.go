package app

import (
	"fmt"
	"strings"

	"mtfsignal/internal/risk"
	statushttp "mtfsignal/internal/transport/http/status"
)

// StartupSummary is printed once before the runner starts.
type StartupSummary struct {
	Mode        string
	Broker      string
	Instruments []string
	Timeframe   string
	HTF         string
	Variant     string
	Equity      float64
	Risk        risk.Config
	StatePath   string
	HTTPAddr    string
	Alerts      bool
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	title := "STARTUP SUMMARY"
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[RUN]")
	fmt.Fprintf(&b, "  mode      : %s\n", s.Mode)
	fmt.Fprintf(&b, "  broker    : %s\n", s.Broker)
	fmt.Fprintf(&b, "  equity    : %.2f\n", s.Equity)
	fmt.Fprintf(&b, "  state     : %s\n", s.StatePath)
	fmt.Fprintf(&b, "  http      : %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(&b, "  alerts    : %t\n", s.Alerts)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[STRATEGY]")
	fmt.Fprintf(&b, "  instruments: %s\n", formatList(s.Instruments))
	fmt.Fprintf(&b, "  timeframe  : %s\n", s.Timeframe)
	fmt.Fprintf(&b, "  trend      : %s\n", s.HTF)
	fmt.Fprintf(&b, "  variant    : %s\n", s.Variant)
	fmt.Fprintln(&b)

	r := s.Risk
	fmt.Fprintln(&b, "[RISK]")
	fmt.Fprintf(&b, "  per trade  : %.2f%%\n", r.RiskPerTrade*100)
	fmt.Fprintf(&b, "  max dd     : %.2f%%\n", r.MaxDrawdownPct*100)
	fmt.Fprintf(&b, "  exposure   : %.2f%%\n", r.MaxTotalExposure*100)
	fmt.Fprintf(&b, "  stops      : %s (sl %.1f / tp %.1f atr)\n", r.StopMethod, r.StopLossATRMult, r.TakeProfitATRMult)
	fmt.Fprintln(&b, line)
	return b.String()
}

func statusAddr(s *statushttp.Server) string {
	if s == nil {
		return ""
	}
	return s.Addr()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
