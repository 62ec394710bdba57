// Package paper simulates an account on top of a real market data feed.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	symbolpkg "mtfsignal/internal/pkg/symbol"
)

type Config struct {
	InitialBalance float64
	// Spread is used to synthesise bid/ask when no price feed is attached.
	Spread        float64
	CommissionPct float64
}

type position struct {
	side   market.Side
	size   float64
	entry  float64
	stop   float64
	target float64
	// brackets are checked on candles opening after armedAt
	armedAt    int64
	lastMarked float64
}

// Fill is a simulated execution, kept for inspection.
type Fill struct {
	OrderID string
	Symbol  string
	Side    market.Side
	Size    float64
	Price   float64
	Fee     float64
	PnL     float64
	Reason  string
	At      time.Time
}

// Broker fills market orders at the quoted bid/ask and tracks bracket levels,
// closing positions when a later closed candle touches them. Candles and
// quotes come from the wrapped feed.
type Broker struct {
	cfg    Config
	data   market.CandleSource
	prices market.PriceSource

	mu        sync.Mutex
	balance   float64
	positions map[string]*position
	lastClose map[string]float64
	lastOpen  map[string]int64
	fills     []Fill
	seq       int
	now       func() time.Time
}

// New wraps data. prices may be nil, in which case quotes are the last seen
// close ± Spread/2.
func New(cfg Config, data market.CandleSource, prices market.PriceSource) (*Broker, error) {
	if data == nil {
		return nil, fmt.Errorf("paper: candle source is required")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("paper: initial balance must be > 0")
	}
	if cfg.Spread < 0 || cfg.CommissionPct < 0 {
		return nil, fmt.Errorf("paper: spread and commission must be >= 0")
	}
	return &Broker{
		cfg:       cfg,
		data:      data,
		prices:    prices,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*position),
		lastClose: make(map[string]float64),
		lastOpen:  make(map[string]int64),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (b *Broker) Name() string { return "paper(" + b.data.Name() + ")" }

// GetCandles delegates to the feed, then settles any bracket the new candles
// touched.
func (b *Broker) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	candles, err := b.data.GetCandles(ctx, symbol, tf, count)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return candles, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := keyOf(symbol)
	last := candles[len(candles)-1]
	b.lastClose[key] = last.Close
	b.lastOpen[key] = last.OpenTime
	b.settleLocked(key, candles)
	return candles, nil
}

func (b *Broker) GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	if b.prices != nil {
		return b.prices.GetCurrentPrice(ctx, symbol)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastClose[keyOf(symbol)]
	if !ok {
		return market.Quote{}, fmt.Errorf("paper: no price seen for %s yet", symbol)
	}
	half := b.cfg.Spread / 2
	return market.Quote{Symbol: symbol, Bid: last - half, Ask: last + half, Time: b.now().UnixMilli()}, nil
}

// PlaceOrder fills at the ask when buying and at the bid when selling.
// Reduce-only orders close the open position; other orders open one, and an
// opposite position must be closed first.
func (b *Broker) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	if req.Size <= 0 {
		return market.OrderResult{}, fmt.Errorf("paper: order size must be > 0")
	}
	q, err := b.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return market.OrderResult{}, err
	}
	buying := req.Side == market.SideLong
	price := q.Bid
	if buying {
		price = q.Ask
	}
	if price <= 0 {
		return market.OrderResult{}, fmt.Errorf("paper: no usable price for %s", req.Symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := keyOf(req.Symbol)
	pos := b.positions[key]
	now := b.now()
	if req.ReduceOnly {
		if pos == nil || pos.side == req.Side {
			return market.OrderResult{}, fmt.Errorf("paper: no %s position to reduce on %s", req.Side.Opposite(), req.Symbol)
		}
		size := req.Size
		if size > pos.size {
			size = pos.size
		}
		b.closeLocked(key, pos, size, price, "reduce_only", now)
		return b.result(req, size, price, now), nil
	}
	if pos != nil && pos.side != req.Side {
		return market.OrderResult{}, fmt.Errorf("paper: %s already has an opposite position", req.Symbol)
	}
	fee := price * req.Size * b.cfg.CommissionPct
	b.balance -= fee
	if pos == nil {
		// brackets apply from the first candle after the one last seen
		pos = &position{side: req.Side, armedAt: b.lastOpen[key]}
		b.positions[key] = pos
	}
	pos.entry = (pos.entry*pos.size + price*req.Size) / (pos.size + req.Size)
	pos.size += req.Size
	pos.stop = req.StopLoss
	pos.target = req.TakeProfit
	pos.lastMarked = price
	res := b.result(req, req.Size, price, now)
	b.fills = append(b.fills, Fill{OrderID: res.OrderID, Symbol: req.Symbol, Side: req.Side, Size: req.Size, Price: price, Fee: fee, Reason: "open", At: now})
	logger.Infof("[paper] %s open %s %.4f @%.5f sl=%.5f tp=%.5f", req.Symbol, req.Side, req.Size, price, req.StopLoss, req.TakeProfit)
	return res, nil
}

func (b *Broker) GetAccountSummary(ctx context.Context) (market.AccountSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := market.AccountSummary{Balance: b.balance, Equity: b.balance}
	keys := make([]string, 0, len(b.positions))
	for k := range b.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := b.positions[k]
		mark := p.lastMarked
		if last, ok := b.lastClose[k]; ok {
			mark = last
		}
		out.Equity += (mark - p.entry) * p.size * p.side.Sign()
		out.OpenPositions = append(out.OpenPositions, market.OpenPosition{Symbol: k, Side: p.side, Size: p.size, EntryPrice: p.entry})
	}
	return out, nil
}

// AmendStop moves the stop of the open position on symbol. The new level is
// checked from the next unseen candle on.
func (b *Broker) AmendStop(ctx context.Context, symbol string, side market.Side, stop float64) error {
	if stop <= 0 {
		return fmt.Errorf("paper: stop must be > 0")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := keyOf(symbol)
	pos := b.positions[key]
	if pos == nil || pos.side != side {
		return fmt.Errorf("paper: no %s position on %s", side, symbol)
	}
	pos.stop = stop
	if last := b.lastOpen[key]; last > pos.armedAt {
		pos.armedAt = last
	}
	return nil
}

// Fills returns every simulated execution, oldest first.
func (b *Broker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Fill(nil), b.fills...)
}

// settleLocked walks candles that opened after the position and closes it at
// the first touched bracket. The stop wins when both levels are in range.
func (b *Broker) settleLocked(key string, candles []market.Candle) {
	pos := b.positions[key]
	if pos == nil {
		return
	}
	for _, c := range candles {
		if c.OpenTime <= pos.armedAt {
			continue
		}
		switch {
		case pos.stop > 0 && touched(pos.side, c, pos.stop, true):
			b.closeLocked(key, pos, pos.size, bracketFill(pos.side, c.Open, pos.stop, true), "stop_loss", c.OpenAt())
			return
		case pos.target > 0 && touched(pos.side, c, pos.target, false):
			b.closeLocked(key, pos, pos.size, bracketFill(pos.side, c.Open, pos.target, false), "take_profit", c.OpenAt())
			return
		}
		pos.lastMarked = c.Close
	}
}

func (b *Broker) closeLocked(key string, pos *position, size, price float64, reason string, at time.Time) {
	pnl := (price - pos.entry) * size * pos.side.Sign()
	fee := price * size * b.cfg.CommissionPct
	b.balance += pnl - fee
	pos.size -= size
	if pos.size <= 1e-12 {
		delete(b.positions, key)
	}
	b.seq++
	b.fills = append(b.fills, Fill{
		OrderID: "paper-" + strconv.Itoa(b.seq),
		Symbol:  key,
		Side:    pos.side.Opposite(),
		Size:    size,
		Price:   price,
		Fee:     fee,
		PnL:     pnl - fee,
		Reason:  reason,
		At:      at,
	})
	logger.Infof("[paper] %s close %s %.4f @%.5f %s pnl=%.2f balance=%.2f", key, pos.side, size, price, reason, pnl-fee, b.balance)
}

func (b *Broker) result(req market.OrderRequest, size, price float64, at time.Time) market.OrderResult {
	b.seq++
	return market.OrderResult{
		OrderID:    "paper-" + strconv.Itoa(b.seq),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       size,
		FillPrice:  price,
		Status:     "FILLED",
		ExecutedAt: at,
	}
}

func keyOf(symbol string) string {
	if k := symbolpkg.Normalize(symbol); k != "" {
		return k
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func touched(side market.Side, c market.Candle, level float64, stop bool) bool {
	below := (side == market.SideLong) == stop
	if below {
		return c.Low <= level
	}
	return c.High >= level
}

// bracketFill gives the worse open for a gapped stop and the better open for
// a gapped target.
func bracketFill(side market.Side, open, level float64, stop bool) float64 {
	past := (open - level) * side.Sign()
	if (stop && past < 0) || (!stop && past > 0) {
		return open
	}
	return level
}
