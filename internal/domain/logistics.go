package domain

import "time"

type LogisticsEvent struct {
	OrderID   string    `json:"order_id"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	Location  string    `json:"location,omitempty"`
	EventTime time.Time `json:"event_time"`
	Source    string    `json:"source"`
}

// DedupKey identifies an event regardless of how many times it was fetched.
func (e LogisticsEvent) DedupKey() string {
	return e.Title + "\x00" + e.Detail + "\x00" + e.EventTime.UTC().Format(time.RFC3339Nano)
}

const (
	LogisticsSourceSystem   = "system"
	LogisticsSourceProvider = "provider"
)
