// Package model stores the structs persisted by gorm.
// Only connection profiles live here; conversations are never stored.
package model

import (
	"time"
)

// Profile is a host and model pair that once connected successfully.
// It only prefills the connection form, it never restores a connection by itself.
type Profile struct {
	ID          int       `json:"-"`
	Host        string    `gorm:"uniqueIndex:idx_profile_host_model" json:"host"`
	Model       string    `gorm:"uniqueIndex:idx_profile_host_model" json:"model"`
	ConnectedAt time.Time `json:"connectedAt"`
}
