package backtest

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var tradeHeader = []string{"entry_time", "exit_time", "direction", "size", "entry_price", "exit_price", "pnl", "exit_reason"}

// WriteTradesCSV writes one row per closed trade. Times are RFC3339 UTC.
func WriteTradesCSV(w io.Writer, trades []Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			string(t.Direction),
			formatFloat(t.Size),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			strconv.FormatFloat(t.PnL, 'f', 2, 64),
			t.ExitReason,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteTradesFile(path string, trades []Trade) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
