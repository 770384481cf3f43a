package domain

import "time"

type WatchPosition struct {
	Source    string    `json:"source"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updatedAt"`
}
