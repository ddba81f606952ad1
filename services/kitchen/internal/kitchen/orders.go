package kitchen

import (
	"context"
	"fmt"
	"sync"
)

// OrderInfoStore persists order metadata so the directory survives restarts.
// The mongo and sqlite item repositories implement it.
type OrderInfoStore interface {
	SaveOrder(ctx context.Context, info OrderInfo) error
	DeleteOrder(ctx context.Context, orderID OrderID) error
	ListOrders(ctx context.Context) ([]OrderInfo, error)
}

// OrderDirectory holds the read-only order metadata published by the order
// system. The engine never writes to it on its own.
type OrderDirectory struct {
	mu     sync.RWMutex
	orders map[OrderID]OrderInfo
	store  OrderInfoStore
}

func NewOrderDirectory() *OrderDirectory {
	return &OrderDirectory{orders: make(map[OrderID]OrderInfo)}
}

// SetStore makes Record and Drop write through to store.
func (d *OrderDirectory) SetStore(store OrderInfoStore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = store
}

// Upsert records or replaces the metadata of an order in memory only.
func (d *OrderDirectory) Upsert(info OrderInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders[info.OrderID] = info
}

// Record upserts info and writes it through to the store, if any. The
// in-memory entry is kept even when the write fails.
func (d *OrderDirectory) Record(ctx context.Context, info OrderInfo) error {
	d.Upsert(info)
	store := d.backing()
	if store == nil {
		return nil
	}
	if err := store.SaveOrder(ctx, info); err != nil {
		return fmt.Errorf("save order %s: %w", info.OrderID, err)
	}
	return nil
}

// Drop forgets an order and removes it from the store, if any.
func (d *OrderDirectory) Drop(ctx context.Context, orderID OrderID) error {
	d.Forget(orderID)
	store := d.backing()
	if store == nil {
		return nil
	}
	if err := store.DeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return nil
}

// Load fills the directory from the store. Entries already present win, since
// they came from live events.
func (d *OrderDirectory) Load(ctx context.Context) (int, error) {
	store := d.backing()
	if store == nil {
		return 0, nil
	}
	infos, err := store.ListOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	loaded := 0
	for _, info := range infos {
		if _, ok := d.orders[info.OrderID]; ok {
			continue
		}
		d.orders[info.OrderID] = info
		loaded++
	}
	return loaded, nil
}

func (d *OrderDirectory) backing() OrderInfoStore {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store
}

func (d *OrderDirectory) Lookup(orderID OrderID) (OrderInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.orders[orderID]
	return info, ok
}

func (d *OrderDirectory) Forget(orderID OrderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.orders, orderID)
}

func (d *OrderDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.orders)
}
