package db

import "time"

type ProductModel struct {
	ProductID   string    `gorm:"column:product_id;primaryKey"`
	Temperature float64   `gorm:"not null"`
	Location    string    `gorm:"not null"`
	Attributes  []byte    `gorm:"type:jsonb"`
	Fingerprint string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (ProductModel) TableName() string { return "products" }

type AttestationModel struct {
	ProductID       string    `gorm:"column:product_id;primaryKey"`
	LedgerReference string    `gorm:"uniqueIndex;not null"`
	Signature       []byte    `gorm:"type:bytea;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (AttestationModel) TableName() string { return "attestations" }

type AnchorAttemptModel struct {
	ID              int64  `gorm:"primaryKey"`
	ProductID       string `gorm:"index;not null"`
	Provider        string `gorm:"not null"`
	Status          string `gorm:"not null"`
	ErrorCode       *string
	Fingerprint     string `gorm:"not null"`
	LedgerReference *string
	DurationMS      int64     `gorm:"column:duration_ms;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (AnchorAttemptModel) TableName() string { return "anchor_attempts" }
