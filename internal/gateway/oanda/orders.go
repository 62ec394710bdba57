package oanda

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
	symbolpkg "mtfsignal/internal/pkg/symbol"
)

// PlaceOrder sends a fill-or-kill market order. Stop and target ride on the
// fill as stopLossOnFill / takeProfitOnFill. Reduce-only requests use
// positionFill REDUCE_ONLY so a stale close can never open the other side.
func (b *Broker) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	path, err := b.accountPath("/orders")
	if err != nil {
		return market.OrderResult{}, err
	}
	if req.Size <= 0 {
		return market.OrderResult{}, retry.Permanent(fmt.Errorf("oanda: order size must be > 0"))
	}
	units := req.Size
	switch req.Side {
	case market.SideLong:
	case market.SideShort:
		units = -units
	default:
		return market.OrderResult{}, retry.Permanent(fmt.Errorf("unknown side %q", req.Side))
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	inst := symbolpkg.OANDA.ToExchange(req.Symbol)
	order := map[string]any{
		"type":             "MARKET",
		"instrument":       inst,
		"units":            strconv.FormatFloat(units, 'f', -1, 64),
		"timeInForce":      "FOK",
		"positionFill":     "DEFAULT",
		"clientExtensions": map[string]string{"id": clientID},
	}
	if req.ReduceOnly {
		order["positionFill"] = "REDUCE_ONLY"
	} else {
		digits := priceDigits(req.Symbol)
		if req.StopLoss > 0 {
			order["stopLossOnFill"] = map[string]string{"price": strconv.FormatFloat(req.StopLoss, 'f', digits, 64)}
		}
		if req.TakeProfit > 0 {
			order["takeProfitOnFill"] = map[string]string{"price": strconv.FormatFloat(req.TakeProfit, 'f', digits, 64)}
		}
	}
	res, err := b.do(ctx, "POST", path, nil, map[string]any{"order": order})
	if err != nil {
		return market.OrderResult{}, err
	}
	if cancel := res.Get("orderCancelTransaction"); cancel.Exists() {
		return market.OrderResult{}, retry.Permanent(fmt.Errorf("oanda order %s cancelled: %s", inst, cancel.Get("reason").String()))
	}
	fill := res.Get("orderFillTransaction")
	if !fill.Exists() {
		return market.OrderResult{}, fmt.Errorf("oanda order %s: no fill transaction", inst)
	}
	size := fill.Get("units").Float()
	if size < 0 {
		size = -size
	}
	out := market.OrderResult{
		OrderID:    fill.Get("orderID").String(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       size,
		FillPrice:  fill.Get("price").Float(),
		Status:     "FILLED",
		ExecutedAt: time.Now().UTC(),
	}
	if out.OrderID == "" {
		out.OrderID = fill.Get("id").String()
	}
	if ts, err := time.Parse(time.RFC3339Nano, fill.Get("time").String()); err == nil {
		out.ExecutedAt = ts.UTC()
	}
	return out, nil
}

func (b *Broker) GetAccountSummary(ctx context.Context) (market.AccountSummary, error) {
	path, err := b.accountPath("/summary")
	if err != nil {
		return market.AccountSummary{}, err
	}
	res, err := b.do(ctx, "GET", path, nil, nil)
	if err != nil {
		return market.AccountSummary{}, err
	}
	out := market.AccountSummary{
		Balance: res.Get("account.balance").Float(),
		Equity:  res.Get("account.NAV").Float(),
	}
	posPath, _ := b.accountPath("/openPositions")
	positions, err := b.do(ctx, "GET", posPath, nil, nil)
	if err != nil {
		return market.AccountSummary{}, err
	}
	for _, p := range positions.Get("positions").Array() {
		sym := symbolpkg.OANDA.FromExchange(p.Get("instrument").String())
		if units := p.Get("long.units").Float(); units > 0 {
			out.OpenPositions = append(out.OpenPositions, market.OpenPosition{
				Symbol: sym, Side: market.SideLong, Size: units, EntryPrice: p.Get("long.averagePrice").Float(),
			})
		}
		if units := p.Get("short.units").Float(); units < 0 {
			out.OpenPositions = append(out.OpenPositions, market.OpenPosition{
				Symbol: sym, Side: market.SideShort, Size: -units, EntryPrice: p.Get("short.averagePrice").Float(),
			})
		}
	}
	return out, nil
}

// priceDigits is the precision OANDA accepts for bracket prices.
func priceDigits(symbol string) int {
	if symbolpkg.Parse(symbol).PipSize() >= 0.01 {
		return 3
	}
	return 5
}
