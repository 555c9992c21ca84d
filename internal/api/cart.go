package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/cart"
)

type cartItemResponse struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type cartCouponResponse struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	MaxDiscount        decimal.Decimal `json:"max_discount"`
	AppliedAt          time.Time       `json:"applied_at"`
}

type cartResponse struct {
	OwnerID     string              `json:"owner_id"`
	Items       []cartItemResponse  `json:"items"`
	Coupon      *cartCouponResponse `json:"coupon,omitempty"`
	GrossTotal  decimal.Decimal     `json:"gross_total"`
	Discount    decimal.Decimal     `json:"discount"`
	NetTotal    decimal.Decimal     `json:"net_total"`
	ShippingFee decimal.Decimal     `json:"shipping_fee"`
	Payable     decimal.Decimal     `json:"payable"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := make([]cartItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = cartItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
	}
	resp := cartResponse{
		OwnerID:     c.OwnerID,
		Items:       items,
		GrossTotal:  c.GrossTotal,
		Discount:    c.GrossTotal.Sub(c.NetTotal),
		NetTotal:    c.NetTotal,
		ShippingFee: c.ShippingFee,
		Payable:     c.NetTotal.Add(c.ShippingFee),
	}
	if d := c.AppliedDiscount; d != nil {
		resp.Coupon = &cartCouponResponse{
			Code:               d.Code,
			DiscountPercentage: d.DiscountPercentage,
			MaxDiscount:        d.MaxDiscount,
			AppliedAt:          d.AppliedAt,
		}
	}
	return resp
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, ownerID string) {
	c, err := h.carts.Get(r.Context(), ownerID)
	if errors.Is(err, cart.ErrNotFound) {
		// No cart yet is not an error for a read, just an empty one.
		writeJSON(w, http.StatusOK, toCartResponse(&cart.Cart{OwnerID: ownerID}))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req addCartItemRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "product_id is required")
		return
	}
	c, err := h.carts.AddItem(r.Context(), ownerID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req updateCartItemRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.carts.UpdateQuantity(r.Context(), ownerID, r.PathValue("productID"), req.Quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request, ownerID string) {
	c, err := h.carts.RemoveItem(r.Context(), ownerID, r.PathValue("productID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, ownerID string) {
	c, err := h.carts.Clear(r.Context(), ownerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req couponRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "code is required")
		return
	}
	c, err := h.carts.ApplyCoupon(r.Context(), ownerID, req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req couponRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.carts.RemoveCoupon(r.Context(), ownerID, req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
