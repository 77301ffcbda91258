package models

import "time"

type ModelHealthCheck struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Model     string    `gorm:"type:varchar(32);not null;index" json:"model"`
	Healthy   bool      `gorm:"not null" json:"healthy"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	LatencyMs int64     `gorm:"not null;default:0" json:"latency_ms"`
	CheckedAt time.Time `gorm:"type:timestamptz;not null;index" json:"checked_at"`
}

func (ModelHealthCheck) TableName() string {
	return "model_health_checks"
}
