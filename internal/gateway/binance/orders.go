package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
	symbolpkg "mtfsignal/internal/pkg/symbol"
)

// PlaceOrder sends a market order. Opening orders also place closePosition
// STOP_MARKET and TAKE_PROFIT_MARKET brackets; a failed bracket is returned
// as an error together with the filled result so the caller can decide.
func (b *Broker) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	if !b.cfg.hasCredentials() {
		return market.OrderResult{}, retry.Permanent(fmt.Errorf("binance: api key and secret are required for orders"))
	}
	sym := symbolpkg.Binance.ToExchange(req.Symbol)
	if sym == "" {
		return market.OrderResult{}, fmt.Errorf("symbol is required")
	}
	if req.Size <= 0 {
		return market.OrderResult{}, retry.Permanent(fmt.Errorf("binance: order size must be > 0"))
	}
	side, err := sideType(req.Side)
	if err != nil {
		return market.OrderResult{}, retry.Permanent(err)
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = "mtf-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	svc := b.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(req.Size)).
		NewClientOrderID(clientID)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return market.OrderResult{}, classify(fmt.Errorf("binance order %s %s: %w", sym, req.Side, err))
	}
	res := market.OrderResult{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       parseFloat(resp.ExecutedQuantity),
		FillPrice:  parseFloat(resp.AvgPrice),
		Status:     string(resp.Status),
		ExecutedAt: time.UnixMilli(resp.UpdateTime).UTC(),
	}
	if res.Size <= 0 {
		res.Size = req.Size
	}
	if res.FillPrice <= 0 {
		res.FillPrice = req.Price
	}
	if resp.UpdateTime <= 0 {
		res.ExecutedAt = time.Now().UTC()
	}
	if req.ReduceOnly {
		// brackets are closePosition orders and would fire on the next position
		if err := b.client.NewCancelAllOpenOrdersService().Symbol(sym).Do(ctx); err != nil {
			logger.Warnf("[binance] %s cancel brackets failed: %v", sym, err)
		}
		return res, nil
	}
	closing, _ := sideType(req.Side.Opposite())
	var bracketErr error
	if req.StopLoss > 0 {
		if err := b.placeBracket(ctx, sym, closing, futures.OrderTypeStopMarket, req.StopLoss); err != nil {
			bracketErr = err
		}
	}
	if req.TakeProfit > 0 {
		if err := b.placeBracket(ctx, sym, closing, futures.OrderTypeTakeProfitMarket, req.TakeProfit); err != nil && bracketErr == nil {
			bracketErr = err
		}
	}
	return res, bracketErr
}

func (b *Broker) placeBracket(ctx context.Context, sym string, side futures.SideType, kind futures.OrderType, price float64) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(kind).
		StopPrice(formatFloat(price)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		logger.Warnf("[binance] %s %s bracket @%s failed: %v", sym, kind, formatFloat(price), err)
		return fmt.Errorf("binance bracket %s %s: %w", sym, kind, err)
	}
	return nil
}

// GetAccountSummary reads the quote-asset wallet and every non-zero position.
func (b *Broker) GetAccountSummary(ctx context.Context) (market.AccountSummary, error) {
	if !b.cfg.hasCredentials() {
		return market.AccountSummary{}, retry.Permanent(fmt.Errorf("binance: api key and secret are required for account reads"))
	}
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return market.AccountSummary{}, classify(fmt.Errorf("binance balance: %w", err))
	}
	var out market.AccountSummary
	for _, bal := range balances {
		if bal == nil || !strings.EqualFold(bal.Asset, b.cfg.QuoteAsset) {
			continue
		}
		out.Balance = parseFloat(bal.Balance)
		out.Equity = out.Balance + parseFloat(bal.CrossUnPnl)
	}
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return market.AccountSummary{}, classify(fmt.Errorf("binance positions: %w", err))
	}
	for _, p := range risks {
		if p == nil {
			continue
		}
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := market.SideLong
		if amt < 0 {
			side = market.SideShort
			amt = -amt
		}
		out.OpenPositions = append(out.OpenPositions, market.OpenPosition{
			Symbol:     symbolpkg.Binance.FromExchange(p.Symbol),
			Side:       side,
			Size:       amt,
			EntryPrice: parseFloat(p.EntryPrice),
		})
	}
	return out, nil
}

func sideType(side market.Side) (futures.SideType, error) {
	switch side {
	case market.SideLong:
		return futures.SideTypeBuy, nil
	case market.SideShort:
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", side)
	}
}
