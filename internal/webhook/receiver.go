// Package webhook receives provider status callbacks. Signature
// verification happens over the raw request body before any parsing; a bad
// signature is the only case that rejects the request, every failure after
// verification is acknowledged with 200 so the provider does not redeliver
// a payload we already have.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// eventStatusChanged is the only event that mutates tracking state; every
// other event type is acknowledged and ignored.
const eventStatusChanged = "order.status_changed"

const maxBodyBytes = 1 << 20

// payload is the provider callback envelope. Providers disagree on field
// names beyond this common core; the raw body is kept verbatim for audit.
type payload struct {
	Event string `json:"event"`
	Order struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"order"`
}

type Receiver struct {
	secret  []byte
	tracker *tracker.Tracker
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewReceiver(secret string, tr *tracker.Tracker, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Receiver{
		secret:  []byte(secret),
		tracker: tr,
		logger:  logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (r *Receiver) WithMetrics(m *observability.Metrics) *Receiver {
	r.metrics = m
	return r
}

// Handle is the POST /webhooks/provider handler.
func (r *Receiver) Handle(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		r.logger.Warn("webhook body read failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := r.verify(body, req.Header.Get(SignatureHeader)); err != nil {
		r.logger.Warn("webhook signature rejected",
			"remote_addr", req.RemoteAddr,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.WebhooksRejected.Inc()
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if r.metrics != nil {
		r.metrics.WebhooksReceived.Inc()
	}

	// Verified from here on: always acknowledge, never make the provider
	// redeliver.
	w.WriteHeader(http.StatusOK)

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		r.logger.Error("webhook payload unparseable", "error", err)
		return
	}

	if p.Event != eventStatusChanged {
		r.logger.Debug("webhook event ignored", "event", p.Event)
		return
	}
	if p.Order.ID == "" {
		r.logger.Error("webhook missing order id", "event", p.Event)
		return
	}

	record, err := r.tracker.ByProviderOrderID(req.Context(), p.Order.ID)
	if err != nil {
		// An unknown order usually means the dispatch transaction has not
		// committed yet; reconciliation picks the status up on its next poll.
		r.logger.Warn("webhook for unknown order",
			"provider_order_id", p.Order.ID,
			"error", err,
		)
		return
	}

	err = r.tracker.ApplyTransition(req.Context(), record.ID, tracker.Transition{
		Status:         provider.MapExternalStatus(p.Order.Status),
		ExternalStatus: p.Order.Status,
		Message:        p.Order.Message,
		Raw:            body,
		Source:         domain.SourceWebhook,
	})
	if err != nil {
		r.logger.Error("webhook transition failed",
			"tracking_id", record.ID,
			"provider_order_id", p.Order.ID,
			"error", err,
		)
	}
}

// verify checks the hex HMAC-SHA256 signature of body in constant time.
func (r *Receiver) verify(body []byte, signature string) error {
	if signature == "" {
		return errors.New("missing signature header")
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("signature is not valid hex")
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature for a body. Exported for the provider
// simulator and tests.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
