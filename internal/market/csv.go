package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"mtfsignal/internal/logger"
)

var (
	ErrNotSorted     = errors.New("candles are not sorted by time")
	ErrDuplicateTime = errors.New("duplicate candle time")
	ErrMalformedRow  = errors.New("malformed candle row")
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyData     = errors.New("no candles")
)

var timeColumns = []string{"timestamp", "time", "date", "datetime", "open_time"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
	"02.01.2006 15:04:05.000",
	"20060102 150405",
	"2006-01-02",
}

// LoadOptions tunes CSV parsing. The zero value re-sorts unsorted input,
// fills a missing volume column with 1 and infers the bar period.
type LoadOptions struct {
	Timeframe     Timeframe
	DefaultVolume float64
	Strict        bool
}

// LoadCSVFile reads candles from a CSV file with a header row.
func LoadCSVFile(path string, opts LoadOptions) (Candles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	candles, err := LoadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// LoadCSV parses time/timestamp, open, high, low, close[, volume] columns.
// Rows out of order are re-sorted unless opts.Strict is set, in which case
// ErrNotSorted is returned. Duplicate times and bad OHLC values are rejected.
func LoadCSV(r io.Reader, opts LoadOptions) (Candles, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyData
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := indexColumns(header)
	timeIdx := -1
	for _, name := range timeColumns {
		if idx, ok := cols[name]; ok {
			timeIdx = idx
			break
		}
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("%w: time/timestamp", ErrMissingColumn)
	}
	fields := [4]string{"open", "high", "low", "close"}
	var ohlcIdx [4]int
	for i, name := range fields {
		idx, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		ohlcIdx[i] = idx
	}
	volIdx, hasVolume := cols["volume"]
	defaultVolume := opts.DefaultVolume
	if defaultVolume <= 0 {
		defaultVolume = 1
	}

	var out Candles
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		c, err := parseRow(rec, timeIdx, ohlcIdx, volIdx, hasVolume, defaultVolume)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrEmptyData
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime }) {
		if opts.Strict {
			return nil, ErrNotSorted
		}
		logger.Warnf("[market] csv rows out of order, re-sorting %d candles", len(out))
		sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	}
	for i := 1; i < len(out); i++ {
		if out[i].OpenTime == out[i-1].OpenTime {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTime, out[i].OpenAt().Format(time.RFC3339))
		}
	}
	step := opts.Timeframe.Millis()
	if step <= 0 {
		step = inferStep(out)
	}
	for i := range out {
		out[i].CloseTime = out[i].OpenTime + step - 1
	}
	return out, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func parseRow(rec []string, timeIdx int, ohlcIdx [4]int, volIdx int, hasVolume bool, defaultVolume float64) (Candle, error) {
	field := func(idx int) (string, bool) {
		if idx < 0 || idx >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[idx])
		return v, v != ""
	}
	rawTime, ok := field(timeIdx)
	if !ok {
		return Candle{}, fmt.Errorf("%w: empty time", ErrMalformedRow)
	}
	ts, err := ParseTimestamp(rawTime)
	if err != nil {
		return Candle{}, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	var vals [4]float64
	for i, idx := range ohlcIdx {
		raw, ok := field(idx)
		if !ok {
			return Candle{}, fmt.Errorf("%w: empty OHLC field", ErrMalformedRow)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Candle{}, fmt.Errorf("%w: bad number %q", ErrMalformedRow, raw)
		}
		vals[i] = v
	}
	c := Candle{OpenTime: ts.UnixMilli(), Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: defaultVolume}
	if c.High < c.Low || c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return Candle{}, fmt.Errorf("%w: inconsistent OHLC %.5f/%.5f/%.5f/%.5f", ErrMalformedRow, c.Open, c.High, c.Low, c.Close)
	}
	if hasVolume {
		if raw, ok := field(volIdx); ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 {
				return Candle{}, fmt.Errorf("%w: bad volume %q", ErrMalformedRow, raw)
			}
			c.Volume = v
		}
	}
	return c, nil
}

// ParseTimestamp accepts ISO-8601 layouts, an optional " UTC" suffix, and
// epoch seconds or milliseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "UTC"))
	if n, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "-:") {
		if len(s) == 8 {
			// yyyymmdd
			if t, err := time.Parse("20060102", s); err == nil {
				return t.UTC(), nil
			}
		}
		if math.Abs(n) >= 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}

// inferStep picks the smallest positive gap between bars.
func inferStep(cs Candles) int64 {
	var step int64
	for i := 1; i < len(cs); i++ {
		gap := cs[i].OpenTime - cs[i-1].OpenTime
		if gap > 0 && (step == 0 || gap < step) {
			step = gap
		}
	}
	if step == 0 {
		step = time.Hour.Milliseconds()
	}
	return step
}

// WriteCSV writes candles with an ISO-8601 time column.
func WriteCSV(w io.Writer, cs Candles) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range cs {
		row := []string{
			c.OpenAt().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
