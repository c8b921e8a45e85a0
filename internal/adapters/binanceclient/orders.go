package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
)

// PlaceOrder submits the intent exactly once. When the outcome is unknown
// because the exchange could not be reached and the intent carries a client
// order id, a single lookup by that id reports whether the order landed.
func (c *Client) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	op := "PlaceOrder"
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidOrder, err)
	}
	if err := c.ensureClock(ctx); err != nil {
		return nil, err
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.spot.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(binance.SideType(intent.Side)).
		Quantity(formatDecimal(intent.Quantity)).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	switch intent.Type {
	case domain.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatDecimal(intent.Price))
	case domain.OrderTypeStop:
		if intent.Price > 0 {
			svc = svc.Type(binance.OrderTypeStopLossLimit).
				TimeInForce(binance.TimeInForceTypeGTC).
				Price(formatDecimal(intent.Price)).
				StopPrice(formatDecimal(intent.StopPrice))
		} else {
			svc = svc.Type(binance.OrderTypeStopLoss).StopPrice(formatDecimal(intent.StopPrice))
		}
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}
	if intent.ClientOrderID != "" {
		svc = svc.NewClientOrderID(intent.ClientOrderID)
	}

	start := c.now()
	order, err := svc.Do(ctx, c.recvWindowOpt())
	observe(c.Name(), op, start)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if intent.ClientOrderID != "" && outcomeUnknown(mapped) {
			if res, lookupErr := c.lookupByClientID(ctx, intent); lookupErr == nil {
				c.logger.Warn(ctx, op+": order found after unknown outcome", map[string]interface{}{
					"symbol": intent.Symbol, "clientOrderID": intent.ClientOrderID, "orderID": res.OrderID,
				})
				return res, nil
			}
		}
		metrics.OrdersPlaced.WithLabelValues(c.Name(), string(intent.Side), "error").Inc()
		return nil, mapped
	}

	res, err := translateCreateOrder(order, intent)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	metrics.OrdersPlaced.WithLabelValues(c.Name(), string(intent.Side), string(res.Status)).Inc()
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": intent.Symbol, "side": intent.Side, "type": intent.Type, "quantity": intent.Quantity,
		"orderID": res.OrderID, "status": res.Status, "avgPrice": res.AvgFillPrice,
	})
	return res, nil
}

func outcomeUnknown(err error) bool {
	return errors.Is(err, ports.ErrExchangeUnavailable) || errors.Is(err, ports.ErrTimeout)
}

// lookupByClientID is a single read, deliberately outside the retry policy.
func (c *Client) lookupByClientID(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	op := "LookupOrderByClientID"
	order, err := c.spot.NewGetOrderService().
		Symbol(intent.Symbol).
		OrigClientOrderID(intent.ClientOrderID).
		Do(ctx, c.recvWindowOpt())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	res, err := translateOrder(order)
	if err != nil {
		return nil, err
	}
	res.RequestedQuantity = intent.Quantity
	return res, nil
}

// CancelOrder cancels an open order. orderID may be the exchange id or a
// client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	if err := c.ensureClock(ctx); err != nil {
		return nil, err
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	svc := c.spot.NewCancelOrderService().Symbol(symbol)
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		svc = svc.OrderID(id)
	} else {
		svc = svc.OrigClientOrderID(orderID)
	}
	res, err := svc.Do(ctx, c.recvWindowOpt())
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out, err := translateCancel(res)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": out.Status})
	return out, nil
}

// GetOrderStatus queries an order. orderID may be the exchange id or a
// client order id.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error) {
	op := "GetOrderStatus"
	order, err := read(ctx, c, op, func(ctx context.Context) (*binance.Order, error) {
		svc := c.spot.NewGetOrderService().Symbol(symbol)
		if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
			svc = svc.OrderID(id)
		} else {
			svc = svc.OrigClientOrderID(orderID)
		}
		return svc.Do(ctx, c.recvWindowOpt())
	})
	if err != nil {
		return nil, err
	}
	res, err := translateOrder(order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return res, nil
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
