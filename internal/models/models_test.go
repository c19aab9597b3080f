package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitionTable(t *testing.T) {
	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending:    {OrderStatusConfirmed: true, OrderStatusCancelled: true},
		OrderStatusConfirmed:  {OrderStatusProcessing: true, OrderStatusCancelled: true},
		OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
		OrderStatusShipped:    {OrderStatusDelivered: true},
		OrderStatusDelivered:  {OrderStatusRefunded: true},
		OrderStatusCancelled:  {},
		OrderStatusRefunded:   {},
	}

	for _, from := range AllOrderStatuses {
		for _, to := range AllOrderStatuses {
			want := allowed[from][to]
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatusRejectsUnknown(t *testing.T) {
	assert.False(t, OrderStatus("archived").Valid())
	assert.False(t, OrderStatusPending.CanTransitionTo("archived"))
	assert.False(t, OrderStatus("archived").CanTransitionTo(OrderStatusConfirmed))
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusShipped))
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())
	assert.False(t, OrderStatus("bogus").IsTerminal())
}

func TestOrderCanBeCancelled(t *testing.T) {
	for _, s := range AllOrderStatuses {
		order := Order{Status: s}
		want := s == OrderStatusPending || s == OrderStatusConfirmed
		assert.Equalf(t, want, order.CanBeCancelled(), "status %s", s)
	}
}

func TestNotifiesCustomer(t *testing.T) {
	assert.True(t, OrderStatusConfirmed.NotifiesCustomer())
	assert.True(t, OrderStatusShipped.NotifiesCustomer())
	assert.True(t, OrderStatusDelivered.NotifiesCustomer())
	assert.True(t, OrderStatusCancelled.NotifiesCustomer())
	assert.False(t, OrderStatusProcessing.NotifiesCustomer())
	assert.False(t, OrderStatusRefunded.NotifiesCustomer())
}

func TestSumItemsKeepsDecimalPrecision(t *testing.T) {
	total := SumItems([]OrderItem{
		{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 3},
		{UnitPrice: decimal.RequireFromString("0.10"), Quantity: 7},
		{UnitPrice: decimal.RequireFromString("0.01"), Quantity: 100},
	})

	assert.True(t, total.Equal(decimal.RequireFromString("61.67")), "got %s", total)
}

func TestSumItemsEmpty(t *testing.T) {
	assert.True(t, SumItems(nil).Equal(decimal.Zero))
}

func TestProductDerivedFlags(t *testing.T) {
	p := Product{StockQuantity: 3, LowStockThreshold: 5, Status: ProductStatusActive}
	assert.True(t, p.InStock())
	assert.True(t, p.IsLowStock())

	p.StockQuantity = 6
	assert.False(t, p.IsLowStock())

	p.Status = ProductStatusDiscontinued
	assert.False(t, p.InStock())

	p.Status = ProductStatusActive
	p.StockQuantity = 0
	assert.False(t, p.InStock())
}

func TestProductJSONCarriesDerivedFlags(t *testing.T) {
	p := Product{ID: 4, Name: "Mug", Price: decimal.RequireFromString("7.50"), StockQuantity: 2,
		LowStockThreshold: 5, Status: ProductStatusActive}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "Mug", out["name"])
	assert.Equal(t, "7.5", out["price"])
	assert.Equal(t, true, out["in_stock"])
	assert.Equal(t, true, out["low_stock"])
}

func TestProductStatusValid(t *testing.T) {
	assert.True(t, ProductStatusInactive.Valid())
	assert.False(t, ProductStatus("deleted").Valid())
}

func TestUserIsLocked(t *testing.T) {
	now := time.Now()
	u := User{}
	assert.False(t, u.IsLocked(now))

	until := now.Add(time.Minute)
	u.LockedUntil = &until
	assert.True(t, u.IsLocked(now))
	assert.False(t, u.IsLocked(until.Add(time.Second)))
}
