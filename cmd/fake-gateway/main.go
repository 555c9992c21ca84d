// Command fake-gateway emulates the payment gateway and the logistics
// provider for local development and integration runs. It implements just
// enough of both HTTP surfaces for a full checkout, confirm, and shipment
// cycle.
//
// Payment intents are held in memory. A payment id of the form
// "pay-for-<gateway order id>" reports captured with the intent's amount;
// the magic id "pay-declined" reports an authorized-but-not-captured payment
// so failure paths can be exercised.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type gateway struct {
	seq     atomic.Int64
	mu      sync.Mutex
	intents map[string]int64 // gateway order id -> amount in minor units
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "0.0.0.0:9090", "listen address")
	flag.Parse()

	g := &gateway{intents: make(map[string]int64)}

	mux := http.NewServeMux()

	// Payment provider surface.
	mux.HandleFunc("POST /v1/orders", g.createIntent)
	mux.HandleFunc("GET /v1/payments/{id}", g.fetchPayment)

	// Logistics provider surface.
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"token": "fake-token", "expires_in": 3600})
	})
	mux.HandleFunc("POST /orders/create", bearer(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID string `json:"order_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"shipment_id": "shp-" + req.OrderID,
			"order_id":    req.OrderID,
			"status":      "NEW",
		})
	}))
	mux.HandleFunc("GET /courier/label", bearer(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("shipment_id")
		writeJSON(w, map[string]any{"label_url": "http://labels.invalid/" + id + ".pdf"})
	}))
	mux.HandleFunc("GET /courier/track", bearer(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "In Transit", "courier": "FakeExpress"})
	}))
	mux.HandleFunc("POST /orders/cancel", bearer(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "CANCELED"})
	}))

	slog.Info("fake gateway listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("serve failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (g *gateway) createIntent(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var req struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := fmt.Sprintf("gwo_%d", g.seq.Add(1))
	g.mu.Lock()
	g.intents[id] = req.Amount
	g.mu.Unlock()

	slog.Info("intent created",
		slog.String("id", id),
		slog.Int64("amount", req.Amount),
		slog.String("receipt", req.Receipt))
	writeJSON(w, map[string]any{"id": id, "currency": req.Currency, "status": "created"})
}

func (g *gateway) fetchPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if id == "pay-declined" {
		writeJSON(w, map[string]any{"id": id, "status": "authorized", "amount": 0})
		return
	}

	var amount int64
	if orderID, ok := strings.CutPrefix(id, "pay-for-"); ok {
		g.mu.Lock()
		amount = g.intents[orderID]
		g.mu.Unlock()
	}
	writeJSON(w, map[string]any{"id": id, "status": "captured", "amount": amount})
}

func bearer(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
