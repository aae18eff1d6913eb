package rules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/common"
)

// ShopOwnership checks whether a user manages a shop.
type ShopOwnership interface {
	OwnsShop(ctx context.Context, shopID, userID int64) (bool, error)
}

type ownerKey struct{}

// Handler exposes rule management endpoints for admins and shop owners.
type Handler struct {
	Svc    *Service
	Owners ShopOwnership
}

// RequireShopOwner resolves the {shopID} path parameter, checks the caller manages that shop and
// scopes downstream discount handlers to it.
func (h *Handler) RequireShopOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := common.ParseID(chi.URLParam(r, "shopID"))
		if !ok {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid shop id", nil)
			return
		}
		userID, ok := common.UserIDInt(r.Context())
		if !ok {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		if h.Owners == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "shop ownership not configured", nil)
			return
		}
		owns, err := h.Owners.OwnsShop(r.Context(), shopID, userID)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Int64("shop_id", shopID).Msg("check shop ownership")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to verify shop ownership", nil)
			return
		}
		if !owns {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "you do not manage this shop", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, Owner{ShopID: shopID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) Owner {
	if o, ok := ctx.Value(ownerKey{}).(Owner); ok {
		return o
	}
	return Owner{}
}

// ListDiscounts returns discount rules visible to the caller.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 50, 200)
	q := r.URL.Query()
	f := DiscountFilter{
		CreatorType: strings.ToUpper(strings.TrimSpace(q.Get("creator_type"))),
		TargetType:  strings.ToUpper(strings.TrimSpace(q.Get("target_type"))),
		Limit:       page.PerPage,
		Offset:      page.Offset(),
	}
	if raw := strings.TrimSpace(q.Get("creator_id")); raw != "" {
		id, ok := common.ParseID(raw)
		if !ok {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid creator_id", nil)
			return
		}
		f.CreatorID = &id
	}
	items, err := h.Svc.ListDiscounts(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": page.Meta(len(items)),
	})
}

// GetDiscount returns a single discount rule.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.GetDiscount(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// CreateDiscount stores a new discount rule.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var payload DiscountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	rec, err := h.Svc.CreateDiscount(r.Context(), ownerFrom(r.Context()), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": rec})
}

// UpdateDiscount replaces a discount rule.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var payload DiscountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	rec, err := h.Svc.UpdateDiscount(r.Context(), ownerFrom(r.Context()), id, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// DeleteDiscount removes a discount rule.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteDiscount(r.Context(), ownerFrom(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDelivery returns delivery fee rules.
func (h *Handler) ListDelivery(w http.ResponseWriter, r *http.Request) {
	page := common.ParsePagination(r, 50, 200)
	f := DeliveryFilter{
		TargetType: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("target_type"))),
		Limit:      page.PerPage,
		Offset:     page.Offset(),
	}
	items, err := h.Svc.ListDelivery(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": page.Meta(len(items)),
	})
}

// GetDelivery returns a single delivery fee rule.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.GetDelivery(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// CreateDelivery stores a new delivery fee rule.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var payload DeliveryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	rec, err := h.Svc.CreateDelivery(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": rec})
}

// UpdateDelivery replaces a delivery fee rule.
func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var payload DeliveryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	rec, err := h.Svc.UpdateDelivery(r.Context(), id, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// DeleteDelivery removes a delivery fee rule.
func (h *Handler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DeleteDelivery(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := common.ParseID(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		common.JSONError(w, http.StatusBadRequest, "INVALID_RULE", "rule validation failed", verr.Fields)
	case errors.Is(err, ErrInvalidRule):
		common.JSONError(w, http.StatusBadRequest, "INVALID_RULE", err.Error(), nil)
	case errors.Is(err, ErrRuleConflict):
		common.JSONError(w, http.StatusConflict, "RULE_CONFLICT", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
	case errors.Is(err, ErrForbidden):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("rule management failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to process rule", nil)
	}
}
