package domain

import "time"

// Tick is one trade print from the price feed. The engine only consumes
// Symbol, Price, and Timestamp; Size, Exchange, and ID are carried for the
// tick journal and replay tooling.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange,omitempty"`
	ID        string    `json:"id,omitempty"`
}
