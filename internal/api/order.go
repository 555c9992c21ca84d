package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/order"
	"github.com/vastramart/backend/internal/shipment"
)

type orderDiscountResponse struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Amount             decimal.Decimal `json:"amount"`
}

type orderResponse struct {
	ID               string                 `json:"id"`
	OwnerID          string                 `json:"owner_id"`
	Items            []order.Item           `json:"items"`
	TotalAmount      decimal.Decimal        `json:"total_amount"`
	ShippingFee      decimal.Decimal        `json:"shipping_fee"`
	Discount         *orderDiscountResponse `json:"discount,omitempty"`
	Currency         string                 `json:"currency"`
	PaymentMethod    string                 `json:"payment_method"`
	PaymentStatus    order.PaymentStatus    `json:"payment_status"`
	Status           order.Status           `json:"status"`
	GatewayOrderID   string                 `json:"gateway_order_id"`
	GatewayPaymentID string                 `json:"gateway_payment_id,omitempty"`
	AmountPaid       decimal.Decimal        `json:"amount_paid"`
	ReceiptID        string                 `json:"receipt_id"`
	ShipmentID       string                 `json:"shipment_id,omitempty"`
	LabelURL         string                 `json:"label_url,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		OwnerID:          o.OwnerID,
		Items:            o.Items,
		TotalAmount:      o.TotalAmount,
		ShippingFee:      o.ShippingFee,
		Currency:         o.Currency,
		PaymentMethod:    o.PaymentMethod,
		PaymentStatus:    o.PaymentStatus,
		Status:           o.Status,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		AmountPaid:       o.AmountPaid,
		ReceiptID:        o.ReceiptID,
		ShipmentID:       o.ShipmentID,
		LabelURL:         o.LabelURL,
		CreatedAt:        o.CreatedAt,
	}
	if d := o.Discount; d != nil {
		resp.Discount = &orderDiscountResponse{
			Code:               d.Code,
			DiscountPercentage: d.DiscountPercentage,
			Amount:             d.Amount,
		}
	}
	return resp
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

type checkoutRequest struct {
	PaymentMethod string `json:"payment_method"`
	Items         []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type checkoutResponse struct {
	Order            orderResponse   `json:"order"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	AmountMinorUnits int64           `json:"amount_minor_units"`
	Currency         string          `json:"currency"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req checkoutRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items := make([]order.CheckoutItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CheckoutItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		OwnerID:       ownerID,
		Items:         items,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:            toOrderResponse(result.Order),
		AmountDue:        result.AmountDue,
		AmountMinorUnits: result.AmountMinorUnits,
		Currency:         result.Order.Currency,
	})
}

type confirmRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"gateway_order_id, gateway_payment_id and signature are required")
		return
	}

	o, err := h.orders.Confirm(r.Context(), order.ConfirmRequest{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, ownerID string) {
	orders, err := h.orders.ListByOwner(r.Context(), ownerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, ownerID string) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	// Owners only see their own orders. Existence of another owner's order
	// is not revealed.
	if o.OwnerID != ownerID {
		writeError(w, http.StatusNotFound, "order_not_found", order.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateStatusResponse struct {
	Order    orderResponse          `json:"order"`
	Tracking *shipment.TrackingInfo `json:"tracking,omitempty"`
}

func (h *Handler) adminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	o, tracking, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.Status(req.Status))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateStatusResponse{
		Order:    toOrderResponse(o),
		Tracking: tracking,
	})
}

func (h *Handler) adminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) adminListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
