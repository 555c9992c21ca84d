// Package api exposes the HTTP surface of the service: cart and coupon
// operations, checkout and payment confirmation, order management, and the
// product catalog.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vastramart/backend/internal/domain/cart"
	"github.com/vastramart/backend/internal/domain/coupon"
	"github.com/vastramart/backend/internal/domain/order"
	"github.com/vastramart/backend/internal/domain/product"
	"github.com/vastramart/backend/internal/repository"
)

// AlertLister exposes persisted operator alerts to the admin API.
type AlertLister interface {
	List(ctx context.Context) ([]repository.Alert, error)
}

// Handler bundles the HTTP handlers with their dependencies.
type Handler struct {
	products product.Repository
	coupons  coupon.Repository
	carts    *cart.Service
	orders   *order.Service
	alerts   AlertLister

	// adminKey guards the /api/admin routes. Empty disables the guard,
	// which is only sensible in local development.
	adminKey string
}

// NewHandler creates the API handler.
func NewHandler(
	products product.Repository,
	coupons coupon.Repository,
	carts *cart.Service,
	orders *order.Service,
	alerts AlertLister,
	adminKey string,
) *Handler {
	return &Handler{
		products: products,
		coupons:  coupons,
		carts:    carts,
		orders:   orders,
		alerts:   alerts,
		adminKey: adminKey,
	}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("GET /api/cart", h.owned(h.getCart))
	mux.HandleFunc("POST /api/cart/items", h.owned(h.addCartItem))
	mux.HandleFunc("PUT /api/cart/items/{productID}", h.owned(h.updateCartItem))
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.owned(h.removeCartItem))
	mux.HandleFunc("DELETE /api/cart", h.owned(h.clearCart))
	mux.HandleFunc("POST /api/cart/coupon", h.owned(h.applyCoupon))
	mux.HandleFunc("DELETE /api/cart/coupon", h.owned(h.removeCoupon))

	mux.HandleFunc("POST /api/checkout", h.owned(h.checkout))
	mux.HandleFunc("POST /api/payment/confirm", h.confirmPayment)

	mux.HandleFunc("GET /api/orders", h.owned(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.owned(h.getOrder))

	mux.HandleFunc("GET /api/admin/orders", h.admin(h.adminListOrders))
	mux.HandleFunc("PATCH /api/admin/orders/{id}/status", h.admin(h.adminUpdateOrderStatus))
	mux.HandleFunc("DELETE /api/admin/orders/{id}", h.admin(h.adminDeleteOrder))
	mux.HandleFunc("POST /api/admin/coupons", h.admin(h.adminCreateCoupon))
	mux.HandleFunc("GET /api/admin/coupons", h.admin(h.adminListCoupons))
	mux.HandleFunc("DELETE /api/admin/coupons/{id}", h.admin(h.adminDeleteCoupon))
	mux.HandleFunc("GET /api/admin/alerts", h.admin(h.adminListAlerts))
}

// ownedFunc is a handler that acts on behalf of an identified owner.
type ownedFunc func(w http.ResponseWriter, r *http.Request, ownerID string)

// owned extracts the owner identity set by the upstream auth layer. Requests
// without it are rejected before touching any service.
func (h *Handler) owned(fn ownedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-User-ID")
		if ownerID == "" {
			writeError(w, http.StatusUnauthorized, "missing_identity", "X-User-ID header is required")
			return
		}
		fn(w, r, ownerID)
	}
}

// admin guards administrative routes with the configured key.
func (h *Handler) admin(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminKey != "" {
			got := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminKey)) != 1 {
				writeError(w, http.StatusForbidden, "forbidden", "invalid admin key")
				return
			}
		}
		fn(w, r)
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: status, Reason: reason, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON decodes the request body into dst, rejecting unknown fields.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

// respondError maps domain errors onto the HTTP error envelope. Unknown
// errors are logged and surface as opaque 500s.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr    *cart.InsufficientStockError
		notInCart   *order.ItemNotInCartError
		exceedsCart *order.QuantityExceedsCartError
		priceChange *order.PriceChangedError
	)
	switch {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, cart.ErrNotFound):
		writeError(w, http.StatusNotFound, "cart_not_found", err.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "cart_item_not_found", err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cart.ErrNoCouponApplied):
		writeError(w, http.StatusBadRequest, "coupon_not_applied", err.Error())
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error())

	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "coupon_not_found", err.Error())
	case errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrNotYetValid),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrBelowMinCartValue):
		writeError(w, http.StatusUnprocessableEntity, "coupon_not_applicable", err.Error())
	case errors.Is(err, coupon.ErrAlreadyApplied):
		writeError(w, http.StatusConflict, "coupon_already_applied", err.Error())

	case errors.Is(err, order.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, "invalid_payment_method", err.Error())
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.As(err, &notInCart):
		writeError(w, http.StatusConflict, "item_not_in_cart", err.Error())
	case errors.As(err, &exceedsCart):
		writeError(w, http.StatusConflict, "quantity_exceeds_cart", err.Error())
	case errors.As(err, &priceChange):
		writeError(w, http.StatusConflict, "price_changed", err.Error())
	case errors.Is(err, order.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", err.Error())
	case errors.Is(err, order.ErrPaymentNotCaptured):
		writeError(w, http.StatusPaymentRequired, "payment_not_captured", err.Error())
	case errors.Is(err, order.ErrInvalidOrder):
		writeError(w, http.StatusConflict, "invalid_order", err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, order.ErrAlreadyDelivered):
		writeError(w, http.StatusConflict, "already_delivered", err.Error())

	default:
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
