// Package cart keeps a per-session shopping cart.
package cart

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
)

// SessionKey is the session value holding the encoded cart.
const SessionKey = "cart"

// MaxQuantity bounds the units of one product in a cart.
const MaxQuantity = 99

// ErrInvalidQuantity indicates a quantity outside 1..MaxQuantity.
var ErrInvalidQuantity = errors.New("cart: invalid quantity")

// Values is the session surface the cart reads and writes.
type Values interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// Cart maps product ids to quantities.
type Cart struct {
	items map[int64]int
}

// Load decodes the cart stored in v. A missing or corrupt value yields an
// empty cart.
func Load(v Values) *Cart {
	c := &Cart{items: make(map[int64]int)}
	raw := v.Get(SessionKey)
	if raw == "" {
		return c
	}
	var encoded map[string]int
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return c
	}
	for k, qty := range encoded {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 || qty <= 0 {
			continue
		}
		if qty > MaxQuantity {
			qty = MaxQuantity
		}
		c.items[id] = qty
	}
	return c
}

// Save encodes the cart into v, removing the value when empty.
func (c *Cart) Save(v Values) error {
	if len(c.items) == 0 {
		v.Delete(SessionKey)
		return nil
	}
	encoded := make(map[string]int, len(c.items))
	for id, qty := range c.items {
		encoded[strconv.FormatInt(id, 10)] = qty
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	v.Set(SessionKey, string(raw))
	return nil
}

// Add increases the quantity of product id, capped at MaxQuantity.
func (c *Cart) Add(id int64, qty int) error {
	if qty < 1 || qty > MaxQuantity {
		return ErrInvalidQuantity
	}
	total := c.items[id] + qty
	if total > MaxQuantity {
		total = MaxQuantity
	}
	c.items[id] = total
	return nil
}

// Remove drops product id.
func (c *Cart) Remove(id int64) {
	delete(c.items, id)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.items = make(map[int64]int)
}

// Quantity returns the units of product id.
func (c *Cart) Quantity(id int64) int {
	return c.items[id]
}

// Count returns the total number of units.
func (c *Cart) Count() int {
	n := 0
	for _, qty := range c.items {
		n += qty
	}
	return n
}

// ProductIDs returns the ids in ascending order.
func (c *Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
