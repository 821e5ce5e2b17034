package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"posload/pkg/config"
	"posload/pkg/engine"
	"posload/pkg/format"
)

// Endpoint tags used by the checkout journey.
const (
	EndpointLookup   = "lookup"
	EndpointCart     = "cart"
	EndpointCartLine = "cart_line"
	EndpointCheckout = "checkout"
)

const (
	cartAbortPause   = 200 * time.Millisecond
	checkoutEndPause = 100 * time.Millisecond

	lookupQuery    = "load"
	lookupPageSize = 10
	lineQuantity   = 1
	tenderCash     = "CASH"
)

var errMissingID = errors.New("response has no id")

type createCartRequest struct {
	CashierUserID    int64  `json:"cashierUserId"`
	StoreLocationID  int64  `json:"storeLocationId"`
	TerminalDeviceID int64  `json:"terminalDeviceId"`
	PricingAt        string `json:"pricingAt"`
}

type addLineRequest struct {
	LineKey   string `json:"lineKey"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type payment struct {
	TenderType     string  `json:"tenderType"`
	Amount         float64 `json:"amount"`
	TenderedAmount float64 `json:"tenderedAmount"`
}

type checkoutRequest struct {
	CartID           json.RawMessage `json:"cartId"`
	CashierUserID    int64           `json:"cashierUserId"`
	TerminalDeviceID int64           `json:"terminalDeviceId"`
	Payments         []payment       `json:"payments"`
}

// Checkout is the peak checkout journey: product lookup, cart creation, one
// line, cash checkout.
type Checkout struct {
	cfg    config.Config
	client *Client
}

func NewCheckout(cfg config.Config, client *Client) *Checkout {
	return &Checkout{cfg: cfg, client: client}
}

func (j *Checkout) Name() string { return "checkout" }

func (j *Checkout) Profile() format.Profile { return format.CheckoutProfile() }

func (j *Checkout) headers(extra map[string]string) map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// LineKey is the cart line key of one iteration.
func LineKey(vu engine.VU) string {
	return iterationKey("line", vu)
}

// IdempotencyKey is the checkout idempotency key of one iteration.
func IdempotencyKey(vu engine.VU) string {
	return iterationKey("checkout", vu)
}

func (j *Checkout) Iterate(ctx context.Context, vu engine.VU) {
	lookup := j.client.Do(ctx, vu, Request{
		Name:   "lookup",
		Method: http.MethodGet,
		Path:   "/api/catalog/products/search",
		Query: url.Values{
			"merchantId": {strconv.FormatInt(j.cfg.MerchantID, 10)},
			"q":          {lookupQuery},
			"active":     {"true"},
			"page":       {"0"},
			"size":       {strconv.Itoa(lookupPageSize)},
		},
		Headers: j.headers(nil),
		Tags:    map[string]string{engine.TagEndpoint: EndpointLookup},
	})
	if ctx.Err() != nil {
		return
	}
	j.client.Check(vu, "lookup status 200", lookup.Status == http.StatusOK)

	cart := j.client.Do(ctx, vu, Request{
		Name:   "create cart",
		Method: http.MethodPost,
		Path:   "/api/sales/carts",
		Body: createCartRequest{
			CashierUserID:    j.cfg.CashierUserID,
			StoreLocationID:  j.cfg.CartStoreLocationID(),
			TerminalDeviceID: j.cfg.TerminalDeviceID,
			PricingAt:        j.cfg.PricingAt,
		},
		Headers: j.headers(nil),
		Tags:    map[string]string{engine.TagEndpoint: EndpointCart},
	})
	if ctx.Err() != nil {
		return
	}
	if !j.client.Check(vu, "create cart status 201", cart.Status == http.StatusCreated) {
		pause(ctx, cartAbortPause)
		return
	}
	pathID, cartID, err := extractID(cart.Body)
	if !j.client.Check(vu, "create cart returned id", err == nil) {
		pause(ctx, cartAbortPause)
		return
	}

	line := j.client.Do(ctx, vu, Request{
		Name:   "add line",
		Method: http.MethodPost,
		Path:   "/api/sales/carts/" + pathID + "/lines",
		Body: addLineRequest{
			LineKey:   LineKey(vu),
			ProductID: j.cfg.ProductID,
			Quantity:  lineQuantity,
		},
		Headers: j.headers(nil),
		Tags:    map[string]string{engine.TagEndpoint: EndpointCartLine},
	})
	if ctx.Err() != nil {
		return
	}
	j.client.Check(vu, "add line status 200", line.Status == http.StatusOK)

	checkout := j.client.Do(ctx, vu, Request{
		Name:   "checkout",
		Method: http.MethodPost,
		Path:   "/api/sales/checkout",
		Body: checkoutRequest{
			CartID:           cartID,
			CashierUserID:    j.cfg.CashierUserID,
			TerminalDeviceID: j.cfg.TerminalDeviceID,
			Payments: []payment{{
				TenderType:     tenderCash,
				Amount:         j.cfg.TenderAmount,
				TenderedAmount: j.cfg.TenderAmount,
			}},
		},
		Headers: j.headers(map[string]string{"Idempotency-Key": IdempotencyKey(vu)}),
		Tags:    map[string]string{engine.TagEndpoint: EndpointCheckout},
	})
	if ctx.Err() != nil {
		return
	}
	j.client.Check(vu, "checkout status 200", checkout.Status == http.StatusOK)

	pause(ctx, checkoutEndPause)
}

// extractID reads the "id" field of a JSON body. It returns the id as a
// path segment and as the JSON value to echo in later payloads; numeric
// strings are sent back as numbers.
func extractID(body []byte) (string, json.RawMessage, error) {
	var v struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return "", nil, err
	}
	raw := strings.TrimSpace(string(v.ID))
	if raw == "" || raw == "null" {
		return "", nil, errMissingID
	}
	if !strings.HasPrefix(raw, `"`) {
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "", nil, errMissingID
		}
		return raw, json.RawMessage(raw), nil
	}

	var s string
	if err := json.Unmarshal(v.ID, &s); err != nil {
		return "", nil, err
	}
	if s == "" {
		return "", nil, errMissingID
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s, json.RawMessage(s), nil
	}
	return url.PathEscape(s), json.RawMessage(raw), nil
}
