package scheduler

import (
	"time"

	"mtfsignal/internal/market"
)

const DefaultCloseGrace = 10 * time.Second

// DropUnclosed removes the last candle while it is still forming. Brokers
// return the in-progress bar as the newest element; live decisions must only
// see closed bars, as the replay does.
func DropUnclosed(candles []market.Candle, interval time.Duration) []market.Candle {
	return dropUnclosedAt(candles, interval, time.Now().UTC(), DefaultCloseGrace)
}

func dropUnclosedAt(candles []market.Candle, interval time.Duration, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	cutoff := last.OpenTime + interval.Milliseconds() + grace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return candles[:len(candles)-1]
	}
	return candles
}
