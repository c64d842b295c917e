package marketinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/exchanges/mock"
)

type single struct{ md common.MarketData }

func (s single) Get(string) (common.MarketData, error) { return s.md, nil }

type failing struct{}

func (failing) Get(string) (common.MarketData, error) { return nil, errors.New("down") }

func TestFeesFromAccount(t *testing.T) {
	ex := mock.New(1)
	s := New(single{ex}, time.Minute, 0, nil, nil)

	q := s.Fees(context.Background(), "mock", "BTCUSDT")
	require.NotNil(t, q.Fees)
	assert.Equal(t, "account", q.Source)
	assert.Equal(t, 0.0005, q.Fees.Taker)
}

func TestFeesFallBackToMarket(t *testing.T) {
	ex := mock.New(1)
	ex.SetFees(nil)
	s := New(single{ex}, time.Minute, 0, nil, nil)

	q := s.Fees(context.Background(), "mock", "BTCUSDT")
	require.NotNil(t, q.Fees)
	assert.Equal(t, "market", q.Source)
}

func TestFeesAbsentWhenNothingAvailable(t *testing.T) {
	s := New(failing{}, time.Minute, 0, nil, nil)
	q := s.Fees(context.Background(), "mock", "BTCUSDT")
	assert.Nil(t, q.Fees)
	assert.Equal(t, "none", q.Source)
}

func TestLeverageDefaultsWhenUnsupported(t *testing.T) {
	ex := mock.New(1)
	ex.SetLeverageTiers(nil)
	s := New(single{ex}, time.Minute, 0, nil, nil)

	info := s.Leverage(context.Background(), "mock", "BTCUSDT")
	assert.Equal(t, 125.0, info.MaxLeverage)
	assert.Empty(t, info.Tiers)
	assert.NotNil(t, info.Tiers)
}

func TestLeverageFromTiersIsCached(t *testing.T) {
	ex := mock.New(1)
	s := New(single{ex}, time.Minute, 0, nil, nil)

	info := s.Leverage(context.Background(), "mock", "BTCUSDT")
	require.Len(t, info.Tiers, 3)
	assert.Equal(t, 125.0, info.MaxLeverage)

	ex.SetLeverageTiers([]common.LeverageTier{{NotionalCeiling: 1, MaxLeverage: 2}})
	again := s.Leverage(context.Background(), "mock", "BTCUSDT")
	assert.Len(t, again.Tiers, 3, "served from cache")
}

func TestConfiguredDefaultLeverage(t *testing.T) {
	s := New(failing{}, time.Minute, 20, nil, nil)
	assert.Equal(t, 20.0, s.Leverage(context.Background(), "x", "Y").MaxLeverage)
}
