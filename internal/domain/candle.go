package domain

import "time"

// DayMillis is the length of one daily candle in epoch milliseconds.
const DayMillis int64 = 86_400_000

// Candle represents one trading day's OHLCV for a symbol pair.
// (Symbol, Timestamp) is unique in the store; re-inserting the same day
// is a no-op.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// DateString formats an epoch-millisecond timestamp as the UTC calendar
// day it falls on. The date column is for display and filtering only,
// never for uniqueness.
func DateString(tsMillis int64) string {
	return time.UnixMilli(tsMillis).UTC().Format("2006-01-02")
}

// DayStart truncates an epoch-millisecond timestamp to UTC midnight.
func DayStart(tsMillis int64) int64 {
	return tsMillis - tsMillis%DayMillis
}
