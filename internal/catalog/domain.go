// Package catalog serves the protected product and student listings.
package catalog

import "errors"

// ErrNotFound indicates no product or student with the id.
var ErrNotFound = errors.New("catalog: not found")

// Product is an item that can be added to the cart.
type Product struct {
	ID          int64
	Name        string
	Description string
	PriceCents  int64
}

// Student is an enrolled student, visible to administrators only.
type Student struct {
	ID     int64
	Name   string
	Email  string
	Course string
}
