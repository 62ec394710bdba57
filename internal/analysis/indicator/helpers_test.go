package indicator

import (
	"math"
	"math/rand"
	"time"

	"mtfsignal/internal/market"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mk(i int, o, h, l, c, v float64) market.Candle {
	ot := t0.Add(time.Duration(i) * time.Hour).UnixMilli()
	return market.Candle{OpenTime: ot, CloseTime: ot + time.Hour.Milliseconds() - 1, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func fromCloses(closes []float64, spread float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi := math.Max(prev, c) + spread
		lo := math.Min(prev, c) - spread
		out[i] = mk(i, prev, hi, lo, c, 100)
		prev = c
	}
	return out
}

func randomWalk(n int, seed int64) []market.Candle {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	p := 100.0
	for i := range closes {
		p += rng.NormFloat64()
		closes[i] = p
	}
	return fromCloses(closes, 0.3)
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}
