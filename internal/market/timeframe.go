package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe describes a bar period. SourceInterval is the Binance style key,
// Granularity the OANDA one.
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
	Granularity    string
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, SourceInterval: "1m", Granularity: "M1"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m", Granularity: "M5"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m", Granularity: "M15"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m", Granularity: "M30"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h", Granularity: "H1"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h", Granularity: "H4"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d", Granularity: "D"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, SourceInterval: "1w", Granularity: "W"},
}

var timeframeAliases = map[string]string{
	"m1": "1m", "m5": "5m", "m15": "15m", "m30": "30m",
	"h1": "1h", "h4": "4h", "d": "1d", "d1": "1d", "w": "1w", "w1": "1w",
	"60m": "1h", "240m": "4h", "24h": "1d", "7d": "1w",
}

// ParseTimeframe accepts "1h", "4H", "H4", "M15", "D" and similar keys.
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := timeframeAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes returns all canonical keys ordered by duration.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedTimeframes[keys[i]].Duration < supportedTimeframes[keys[j]].Duration
	})
	return keys
}

func (tf Timeframe) Millis() int64 {
	return tf.Duration.Milliseconds()
}

func (tf Timeframe) IsZero() bool {
	return tf.Duration <= 0
}

func (tf Timeframe) String() string {
	return tf.Key
}

// Factor returns how many tf bars make one higher bar. The higher duration
// must be a whole multiple of tf.
func (tf Timeframe) Factor(higher Timeframe) (int, error) {
	if tf.Duration <= 0 || higher.Duration <= 0 {
		return 0, fmt.Errorf("timeframe duration must be positive")
	}
	if higher.Duration <= tf.Duration || higher.Duration%tf.Duration != 0 {
		return 0, fmt.Errorf("timeframe %s is not a multiple of %s", higher.Key, tf.Key)
	}
	return int(higher.Duration / tf.Duration), nil
}

// BarsPerYear is used to annualise per-bar statistics.
func (tf Timeframe) BarsPerYear() float64 {
	if tf.Duration <= 0 {
		return 252
	}
	return float64(365*24*time.Hour) / float64(tf.Duration)
}

// AlignDown floors a unix-ms timestamp onto the timeframe grid.
func AlignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange snaps [start, end] onto the grid, keeping start <= end.
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	step := tf.Millis()
	if end < start {
		start, end = end, start
	}
	alStart := AlignDown(start, step)
	alEnd := AlignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedCandles counts grid slots in [start, end] inclusive.
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := tf.Millis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
