// Provider simulator for local development. Exposes the Sykes and Datakazina
// API shapes from one process, letting the engine run end to end without
// vendor credentials. Orders progress pending -> delivered (or failed, per
// the fail-rate flag) after the configured settle delay, and the simulator
// can push the status change back as a signed webhook.
//
// Usage:
//
//	go run ./scripts/providersim -port 9999 -settle 5s -fail-rate 0.1 \
//	  -webhook-url http://localhost:8080/webhooks/provider -webhook-secret dev-secret
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/webhook"
)

type order struct {
	ID        string  `json:"id"`
	Phone     string  `json:"phone,omitempty"`
	Network   string  `json:"network,omitempty"`
	SizeGB    float64 `json:"size_gb,omitempty"`
	Reference string  `json:"reference,omitempty"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
}

type simulator struct {
	mu          sync.Mutex
	seq         int
	orders      map[string]*order // keyed by provider order id
	byReference map[string]*order

	settle        time.Duration
	latency       time.Duration
	failRate      float64
	webhookURL    string
	webhookSecret string
	quiet         bool
}

func main() {
	port := flag.Int("port", 9999, "port to listen on")
	settle := flag.Duration("settle", 5*time.Second, "time before an order reaches a terminal status")
	latency := flag.Int("latency", 50, "average response latency in ms")
	failRate := flag.Float64("fail-rate", 0, "fraction of orders that end as failed (0.0-1.0)")
	webhookURL := flag.String("webhook-url", "", "engine webhook endpoint; empty disables webhook delivery")
	webhookSecret := flag.String("webhook-secret", "dev-secret", "HMAC secret for webhook signatures")
	quiet := flag.Bool("quiet", false, "suppress per-request logging")
	flag.Parse()

	sim := &simulator{
		orders:        map[string]*order{},
		byReference:   map[string]*order{},
		settle:        *settle,
		latency:       time.Duration(*latency) * time.Millisecond,
		failRate:      *failRate,
		webhookURL:    *webhookURL,
		webhookSecret: *webhookSecret,
		quiet:         *quiet,
	}

	mux := http.NewServeMux()

	// Sykes surface
	mux.HandleFunc("/api/v1/orders", sim.sykesOrders)
	mux.HandleFunc("/api/v1/orders/", sim.sykesOrderByID)
	mux.HandleFunc("/api/v1/balance", sim.balance("balance"))

	// Datakazina surface
	mux.HandleFunc("/api/orders", sim.datakazinaOrders)
	mux.HandleFunc("/api/orders/", sim.datakazinaOrderByID)
	mux.HandleFunc("/api/wallet/balance", sim.balance("amount"))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", *port)
	fmt.Printf("Provider simulator listening on %s\n", addr)
	fmt.Printf("  Settle: %v | Latency: %dms | Fail rate: %.1f%%\n", *settle, *latency, *failRate*100)
	if *webhookURL != "" {
		fmt.Printf("  Webhooks -> %s\n", *webhookURL)
	}
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *simulator) sykesOrders(w http.ResponseWriter, r *http.Request) {
	s.sleep()
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Recipient string  `json:"recipient"`
		Network   string  `json:"network"`
		BundleGB  float64 `json:"bundle_gb"`
		Reference string  `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	o := s.submit(req.Reference, req.Recipient, req.Network, req.BundleGB)
	s.logf("[SYKES] submit ref=%s -> %s", req.Reference, o.ID)
	writeJSON(w, map[string]string{"order_id": o.ID, "status": o.Status})
}

func (s *simulator) sykesOrderByID(w http.ResponseWriter, r *http.Request) {
	s.sleep()
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	o := s.lookup(id)
	if o == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{"order_id": o.ID, "status": o.Status, "message": o.Message})
}

func (s *simulator) datakazinaOrders(w http.ResponseWriter, r *http.Request) {
	s.sleep()
	switch r.Method {
	case http.MethodGet:
		// Reference lookup. A 404 tells the client no order exists yet.
		s.mu.Lock()
		o, ok := s.byReference[r.URL.Query().Get("reference")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, []*order{o})
	case http.MethodPost:
		var req order
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		o := s.submit(req.Reference, req.Phone, req.Network, req.SizeGB)
		s.logf("[DTKZ] submit ref=%s -> %s", req.Reference, o.ID)
		writeJSON(w, o)
	default:
		http.NotFound(w, r)
	}
}

func (s *simulator) datakazinaOrderByID(w http.ResponseWriter, r *http.Request) {
	s.sleep()
	id := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	o := s.lookup(id)
	if o == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, o)
}

func (s *simulator) balance(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sleep()
		writeJSON(w, map[string]any{field: 1000.0, "currency": "GHS"})
	}
}

// submit registers an order, or returns the existing one for a repeated
// reference so retried submissions behave like the real vendors.
func (s *simulator) submit(reference, phone, network string, sizeGB float64) *order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byReference[reference]; ok {
		return existing
	}

	s.seq++
	o := &order{
		ID:        fmt.Sprintf("SIM-%06d", s.seq),
		Phone:     phone,
		Network:   network,
		SizeGB:    sizeGB,
		Reference: reference,
		Status:    "pending",
	}
	s.orders[o.ID] = o
	s.byReference[reference] = o

	time.AfterFunc(s.settle, func() { s.settleOrder(o.ID) })
	return o
}

func (s *simulator) lookup(id string) *order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (s *simulator) settleOrder(id string) {
	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok || o.Status != "pending" {
		s.mu.Unlock()
		return
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		o.Status = "failed"
		o.Message = "simulated vendor failure"
	} else {
		o.Status = "delivered"
	}
	settled := *o
	s.mu.Unlock()

	s.logf("[SIM] order %s settled as %s", settled.ID, settled.Status)
	if s.webhookURL != "" {
		s.sendWebhook(settled)
	}
}

func (s *simulator) sendWebhook(o order) {
	body, err := json.Marshal(map[string]any{
		"event": "order.status_changed",
		"order": map[string]string{
			"id":      o.ID,
			"status":  o.Status,
			"message": o.Message,
		},
	})
	if err != nil {
		log.Printf("webhook marshal failed: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(s.webhookSecret), body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("webhook delivery failed for %s: %v", o.ID, err)
		return
	}
	resp.Body.Close()
	s.logf("[SIM] webhook for %s -> %d", o.ID, resp.StatusCode)
}

func (s *simulator) sleep() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

func (s *simulator) logf(format string, args ...any) {
	if !s.quiet {
		fmt.Printf(format+"\n", args...)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
