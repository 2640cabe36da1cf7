package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

// Dispatcher turns paid-order messages into fulfillment dispatches. When
// auto-fulfillment is toggled off, orders are acknowledged without
// dispatching; an operator pushes them through the admin API later.
type Dispatcher struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

func NewDispatcher(tr *tracker.Tracker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tracker: tr,
		logger:  logger,
	}
}

// HandleBatch dispatches each order in turn. Validation errors and
// duplicates are skips, not failures: redelivering them cannot help. A
// dispatch that fails before a durable record exists stops the batch with
// Handled set to the orders before it, so the rest are redelivered rather
// than committed past.
func (d *Dispatcher) HandleBatch(ctx context.Context, orders []*OrderMessage) BatchResult {
	if !d.tracker.Settings().AutoFulfillment {
		d.logger.Info("auto fulfillment disabled, acknowledging without dispatch", "count", len(orders))
		return BatchResult{Handled: len(orders), Skipped: len(orders)}
	}

	var res BatchResult
	for i, order := range orders {
		record, err := d.tracker.Dispatch(ctx, domain.DispatchRequest{
			LocalOrderID:   order.LocalOrderID,
			LocalOrderType: order.LocalOrderType,
			RecipientPhone: order.RecipientPhone,
			Network:        order.Network,
			SizeGB:         order.SizeGB,
		})

		switch {
		case err == nil:
			res.Dispatched++
			d.logger.Info("order dispatched from queue",
				"local_order_id", order.LocalOrderID,
				"tracking_id", record.ID,
				"status", record.Status,
			)
		case errors.Is(err, domain.ErrDuplicateDispatch):
			res.Skipped++
			d.logger.Debug("order already dispatched", "local_order_id", order.LocalOrderID)
		case errors.Is(err, domain.ErrInvalidPhone), errors.Is(err, domain.ErrNetworkMismatch):
			res.Skipped++
			d.logger.Warn("order rejected by validation",
				"local_order_id", order.LocalOrderID,
				"error", err,
			)
		default:
			// No tracking record was created; the paid order exists only on
			// the topic and must come back.
			res.Failed++
			res.Handled = i
			d.logger.Error("order dispatch failed, leaving offset uncommitted",
				"local_order_id", order.LocalOrderID,
				"error", err,
			)
			return res
		}
	}
	res.Handled = len(orders)
	return res
}
