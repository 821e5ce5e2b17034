package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Environment variable names read by Load.
const (
	EnvBaseURL          = "BASE_URL"
	EnvAuthToken        = "AUTH_TOKEN"
	EnvCashierUserID    = "CASHIER_USER_ID"
	EnvStoreLocationID  = "STORE_LOCATION_ID"
	EnvTerminalDeviceID = "TERMINAL_DEVICE_ID"
	EnvProductID        = "PRODUCT_ID"
	EnvMerchantID       = "MERCHANT_ID"
	EnvFrom             = "FROM"
	EnvTo               = "TO"
	EnvPricingAt        = "PRICING_AT"
	EnvTenderAmount     = "TENDER_AMOUNT"
)

const (
	DefaultBaseURL      = "http://localhost:8080"
	DefaultEntityID     = "1"
	DefaultFrom         = "2026-02-01T00:00:00Z"
	DefaultTo           = "2026-02-10T23:59:59Z"
	DefaultPricingAt    = "2026-02-10T10:00:00Z"
	DefaultTenderAmount = 5.50
)

// Config holds the scenario parameters. It is read once at start and never mutated.
type Config struct {
	BaseURL   string
	AuthToken string

	CashierUserID    int64
	TerminalDeviceID int64
	ProductID        int64
	MerchantID       int64

	// StoreLocationID is the raw STORE_LOCATION_ID value; empty when unset.
	StoreLocationID string

	From      string
	To        string
	PricingAt string

	TenderAmount float64
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, applying defaults for unset or empty
// variables. Every invalid value is reported in the returned error.
func Load(lookup LookupFunc) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	var errs *multierror.Error
	id := func(key string) int64 {
		raw := get(key, DefaultEntityID)
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a numeric id", key, raw))
		}
		return v
	}

	cfg := Config{
		BaseURL:          strings.TrimRight(get(EnvBaseURL, DefaultBaseURL), "/"),
		AuthToken:        get(EnvAuthToken, ""),
		CashierUserID:    id(EnvCashierUserID),
		TerminalDeviceID: id(EnvTerminalDeviceID),
		ProductID:        id(EnvProductID),
		MerchantID:       id(EnvMerchantID),
		StoreLocationID:  get(EnvStoreLocationID, ""),
		From:             get(EnvFrom, DefaultFrom),
		To:               get(EnvTo, DefaultTo),
		PricingAt:        get(EnvPricingAt, DefaultPricingAt),
		TenderAmount:     DefaultTenderAmount,
	}

	if cfg.StoreLocationID != "" {
		if _, err := strconv.ParseInt(cfg.StoreLocationID, 10, 64); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a numeric id", EnvStoreLocationID, cfg.StoreLocationID))
		}
	}

	if raw := get(EnvTenderAmount, ""); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a number", EnvTenderAmount, raw))
		case amount <= 0:
			errs = multierror.Append(errs, fmt.Errorf("%s: must be positive, got %v", EnvTenderAmount, amount))
		default:
			cfg.TenderAmount = amount
		}
	}

	if err := validateURL(cfg.BaseURL); err != nil {
		errs = multierror.Append(errs, err)
	}

	from, errFrom := time.Parse(time.RFC3339, cfg.From)
	if errFrom != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvFrom, errFrom))
	}
	to, errTo := time.Parse(time.RFC3339, cfg.To)
	if errTo != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvTo, errTo))
	}
	if errFrom == nil && errTo == nil && to.Before(from) {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be before %s", EnvTo, EnvFrom))
	}
	if _, err := time.Parse(time.RFC3339, cfg.PricingAt); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvPricingAt, err))
	}

	return cfg, errs.ErrorOrNil()
}

// CartStoreLocationID is the store used when creating carts. Carts always
// carry a store, so an unset STORE_LOCATION_ID falls back to the default id.
func (c Config) CartStoreLocationID() int64 {
	if c.StoreLocationID == "" {
		v, _ := strconv.ParseInt(DefaultEntityID, 10, 64)
		return v
	}
	v, _ := strconv.ParseInt(c.StoreLocationID, 10, 64)
	return v
}

// HasStoreFilter reports whether report queries are restricted to one store.
func (c Config) HasStoreFilter() bool {
	return c.StoreLocationID != ""
}

func validateURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("%s: %q must start with http:// or https://", EnvBaseURL, raw)
	}
	return nil
}
