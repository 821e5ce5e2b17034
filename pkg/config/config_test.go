package config

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8080", cfg.BaseURL)
	require.Empty(t, cfg.AuthToken)
	require.Equal(t, int64(1), cfg.CashierUserID)
	require.Equal(t, int64(1), cfg.TerminalDeviceID)
	require.Equal(t, int64(1), cfg.ProductID)
	require.Equal(t, int64(1), cfg.MerchantID)
	require.Empty(t, cfg.StoreLocationID)
	require.False(t, cfg.HasStoreFilter())
	require.Equal(t, int64(1), cfg.CartStoreLocationID())
	require.Equal(t, DefaultFrom, cfg.From)
	require.Equal(t, DefaultTo, cfg.To)
	require.Equal(t, DefaultPricingAt, cfg.PricingAt)
	require.Equal(t, 5.50, cfg.TenderAmount)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		EnvBaseURL:          "https://pos.example.com/",
		EnvAuthToken:        "secret",
		EnvCashierUserID:    "12",
		EnvStoreLocationID:  "3",
		EnvTerminalDeviceID: "4",
		EnvProductID:        "7",
		EnvMerchantID:       "9",
		EnvFrom:             "2026-03-01T00:00:00Z",
		EnvTo:               "2026-03-02T00:00:00Z",
		EnvTenderAmount:     "12.25",
	}))
	require.NoError(t, err)

	require.Equal(t, "https://pos.example.com", cfg.BaseURL)
	require.Equal(t, "secret", cfg.AuthToken)
	require.Equal(t, int64(12), cfg.CashierUserID)
	require.Equal(t, "3", cfg.StoreLocationID)
	require.True(t, cfg.HasStoreFilter())
	require.Equal(t, int64(3), cfg.CartStoreLocationID())
	require.Equal(t, int64(4), cfg.TerminalDeviceID)
	require.Equal(t, int64(7), cfg.ProductID)
	require.Equal(t, int64(9), cfg.MerchantID)
	require.Equal(t, 12.25, cfg.TenderAmount)
}

func TestLoadBlankValuesUseDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		EnvBaseURL:         "  ",
		EnvStoreLocationID: "",
	}))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	require.False(t, cfg.HasStoreFilter())
}

func TestLoadCollectsEveryError(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{
		EnvBaseURL:       "localhost:8080",
		EnvCashierUserID: "abc",
		EnvProductID:     "1.5",
		EnvFrom:          "yesterday",
		EnvTenderAmount:  "-1",
	}))
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 5)
	require.Contains(t, err.Error(), EnvCashierUserID)
	require.Contains(t, err.Error(), EnvProductID)
	require.Contains(t, err.Error(), EnvFrom)
	require.Contains(t, err.Error(), EnvBaseURL)
	require.Contains(t, err.Error(), EnvTenderAmount)
}

func TestLoadRejectsInvertedRange(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{
		EnvFrom: "2026-03-02T00:00:00Z",
		EnvTo:   "2026-03-01T00:00:00Z",
	}))
	require.ErrorContains(t, err, "must not be before")
}

func TestLoadRejectsNonNumericStore(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{EnvStoreLocationID: "main"}))
	require.ErrorContains(t, err, EnvStoreLocationID)
}
