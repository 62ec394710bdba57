package notifier

import (
	"fmt"
	"strings"
	"time"

	"mtfsignal/internal/market"
	"mtfsignal/internal/risk"
)

const maxStructuredMessageLen = 3800

// MessageSection is one titled block of bullet lines.
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage is rendered as a header, a fenced block of sections
// and an optional footer.
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown truncates to stay under Telegram's message limit.
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("time: " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}

// PositionOpened announces a fill with its bracket.
func PositionOpened(p *risk.Position, reasons []string) StructuredMessage {
	icon := "🟢"
	if p.Side == market.SideShort {
		icon = "🔴"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("*%s %s opened*", p.Symbol, strings.ToUpper(string(p.Side))),
		Sections: []MessageSection{
			{Title: "order", Lines: []string{
				fmt.Sprintf("size  : %.4f", p.Size),
				fmt.Sprintf("entry : %.5f", p.EntryPrice),
				fmt.Sprintf("stop  : %.5f", p.StopLoss),
				fmt.Sprintf("target: %.5f", p.TakeProfit),
				fmt.Sprintf("risk  : %.2f", p.RiskAmount),
			}},
			{Title: "reasons", Lines: reasons},
		},
		Timestamp: p.OpenTime,
	}
}

// PositionClosed reports a closed position and its realised P&L.
func PositionClosed(p *risk.Position, balance float64) StructuredMessage {
	icon := "✅"
	if p.PnL < 0 {
		icon = "❌"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("*%s %s closed* (%s)", p.Symbol, strings.ToUpper(string(p.Side)), p.ExitReason),
		Sections: []MessageSection{
			{Lines: []string{
				fmt.Sprintf("entry  : %.5f", p.EntryPrice),
				fmt.Sprintf("exit   : %.5f", p.ExitPrice),
				fmt.Sprintf("pnl    : %.2f", p.PnL),
				fmt.Sprintf("balance: %.2f", balance),
			}},
		},
		Timestamp: p.ExitTime,
	}
}

// BreakerChanged reports a drawdown breaker transition.
func BreakerChanged(name string, from, to risk.BreakerState, drawdown float64, at time.Time) StructuredMessage {
	icon, footer := "⛔", "new entries are blocked while the breaker is open"
	if to == risk.BreakerClosed {
		icon, footer = "♻️", ""
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("*breaker %s: %s -> %s*", name, from, to),
		Sections: []MessageSection{
			{Lines: []string{fmt.Sprintf("drawdown: %.2f%%", drawdown*100)}},
		},
		Footer:    footer,
		Timestamp: at,
	}
}
