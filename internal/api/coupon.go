package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vastramart/backend/internal/domain/coupon"
)

type createCouponRequest struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	MaxDiscount        decimal.Decimal `json:"max_discount"`
	MinCartValue       decimal.Decimal `json:"min_cart_value"`
	ValidFrom          time.Time       `json:"valid_from"`
	ValidUntil         time.Time       `json:"valid_until"`
	UsageLimit         int             `json:"usage_limit"`
}

type couponResponse struct {
	ID                 string          `json:"id"`
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	MaxDiscount        decimal.Decimal `json:"max_discount"`
	MinCartValue       decimal.Decimal `json:"min_cart_value"`
	ValidFrom          time.Time       `json:"valid_from"`
	ValidUntil         time.Time       `json:"valid_until"`
	UsageLimit         int             `json:"usage_limit"`
	TimesUsed          int             `json:"times_used"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
}

func toCouponResponse(rule coupon.Rule) couponResponse {
	return couponResponse{
		ID:                 rule.ID,
		Code:               rule.Code,
		DiscountPercentage: rule.DiscountPercentage,
		MaxDiscount:        rule.MaxDiscount,
		MinCartValue:       rule.MinCartValue,
		ValidFrom:          rule.ValidFrom,
		ValidUntil:         rule.ValidUntil,
		UsageLimit:         rule.UsageLimit,
		TimesUsed:          rule.TimesUsed,
		Active:             rule.Active,
		CreatedAt:          rule.CreatedAt,
	}
}

func (req createCouponRequest) validate() string {
	hundred := decimal.NewFromInt(100)
	switch {
	case coupon.CanonicalCode(req.Code) == "":
		return "code is required"
	case req.DiscountPercentage.IsNegative() || req.DiscountPercentage.GreaterThan(hundred):
		return "discount_percentage must be between 0 and 100"
	case req.MaxDiscount.IsNegative():
		return "max_discount must not be negative"
	case req.MinCartValue.IsNegative():
		return "min_cart_value must not be negative"
	case req.UsageLimit < 1:
		return "usage_limit must be at least 1"
	case !req.ValidUntil.After(req.ValidFrom):
		return "valid_until must be after valid_from"
	}
	return ""
}

func (h *Handler) adminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	rule := &coupon.Rule{
		ID:                 uuid.NewString(),
		Code:               coupon.CanonicalCode(req.Code),
		DiscountPercentage: req.DiscountPercentage,
		MaxDiscount:        req.MaxDiscount,
		MinCartValue:       req.MinCartValue,
		ValidFrom:          req.ValidFrom,
		ValidUntil:         req.ValidUntil,
		UsageLimit:         req.UsageLimit,
		Active:             true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := h.coupons.Create(r.Context(), rule); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponResponse(*rule))
}

func (h *Handler) adminListCoupons(w http.ResponseWriter, r *http.Request) {
	rules, err := h.coupons.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]couponResponse, len(rules))
	for i, rule := range rules {
		out[i] = toCouponResponse(rule)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) adminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
