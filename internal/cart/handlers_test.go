package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/common"
	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

func post(t *testing.T, h *Handler, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/cart/calculate", strings.NewReader(body))
	if user != "" {
		req = req.WithContext(common.WithUserID(req.Context(), user))
	}
	rr := httptest.NewRecorder()
	h.Calculate(rr, req)
	return rr
}

func TestCalculateEndpointRendersTwoDecimals(t *testing.T) {
	capped := platformTenPercent()
	capped.MaxDiscountAmount = decPtr("30")
	h := &Handler{Svc: newService(kirana(), &fakeLoader{set: pricing.RuleSet{
		Discounts: []pricing.DiscountRule{capped},
		Delivery:  []pricing.DeliveryFeeRule{globalDelivery()},
	}}), Currency: "INR"}

	rr := post(t, h, `{"items":[{"id":101,"price":250,"quantity":2,"is_xerox":false}],"shop_id":7,"category":"grocery"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"total_payable":490.00`)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 500.0, body["subtotal_amount"])
	require.Equal(t, 30.0, body["platform_discount_amount"])
	require.Equal(t, 0.0, body["shop_discount_amount"])
	require.Equal(t, 20.0, body["delivery_fee"])
	require.Equal(t, false, body["is_small_order"])
	require.Equal(t, "INR", body["currency"])
	applied := body["applied_rules"].(map[string]any)
	require.Nil(t, applied["shop"])
	require.Equal(t, "Festive 10", applied["platform"].(map[string]any)["name"])
}

func TestCalculateEndpointSmallOrder(t *testing.T) {
	rule := globalDelivery()
	rule.SmallOrderDeliveryFee = decPtr("15")
	h := &Handler{Svc: newService(kirana(), &fakeLoader{set: pricing.RuleSet{Delivery: []pricing.DeliveryFeeRule{rule}}})}

	rr := post(t, h, `{"items":[{"id":"p-1","price":"25","quantity":2}],"shop_id":7}`, "100")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"is_small_order":true`)
	require.Contains(t, rr.Body.String(), `"delivery_fee":15.00`)
	require.Contains(t, rr.Body.String(), `"total_payable":65.00`)
	require.Contains(t, rr.Body.String(), `"location_id":5`)
}

func TestCalculateEndpointErrors(t *testing.T) {
	h := &Handler{Svc: newService(kirana(), &fakeLoader{set: pricing.RuleSet{Delivery: []pricing.DeliveryFeeRule{globalDelivery()}}})}

	cases := map[string]struct {
		body   string
		status int
		msg    string
	}{
		"malformed json":    {`{"items":`, http.StatusBadRequest, "invalid cart payload"},
		"empty cart":        {`{"items":[],"shop_id":7}`, http.StatusBadRequest, "cart is empty"},
		"missing shop":      {`{"items":[{"id":"a","price":10,"quantity":1}]}`, http.StatusBadRequest, "shop_id is required"},
		"zero quantity":     {`{"items":[{"id":"a","price":10,"quantity":0}],"shop_id":7}`, http.StatusBadRequest, "quantity must be positive"},
		"partial quantity":  {`{"items":[{"id":"a","price":10,"quantity":2.5}],"shop_id":7}`, http.StatusBadRequest, "item 0: quantity must be a whole number"},
		"huge quantity":     {`{"items":[{"id":"a","price":10,"quantity":1e12}],"shop_id":7}`, http.StatusBadRequest, "quantity is too large"},
		"foreign category":  {`{"items":[{"id":"a","price":150,"quantity":1}],"shop_id":7,"category":"electronics"}`, http.StatusBadRequest, `category "electronics" does not match shop 7`},
		"unknown shop":      {`{"items":[{"id":"a","price":10,"quantity":1}],"shop_id":70}`, http.StatusNotFound, "unable to calculate - try again"},
		"below the minimum": {`{"items":[{"id":"a","price":50,"quantity":1}],"shop_id":7}`, http.StatusUnprocessableEntity, "order below minimum, no small-order fee configured"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := post(t, h, tc.body, "")
			require.Equal(t, tc.status, rr.Code)
			var body common.MessageError
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Contains(t, body.Error, tc.msg)
		})
	}
}

func TestCalculateEndpointRuleStoreDown(t *testing.T) {
	h := &Handler{Svc: newService(kirana(), &fakeLoader{failures: 10})}
	rr := post(t, h, `{"items":[{"id":"a","price":150,"quantity":1}],"shop_id":7}`, "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "unable to calculate - try again")
}

func TestCalculateEndpointAcceptsWholeDecimalQuantity(t *testing.T) {
	h := &Handler{Svc: newService(kirana(), &fakeLoader{set: pricing.RuleSet{Delivery: []pricing.DeliveryFeeRule{globalDelivery()}}})}
	rr := post(t, h, `{"items":[{"id":"a","price":75,"quantity":2.0}],"shop_id":7}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"subtotal_amount":150.00`)
}
