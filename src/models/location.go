package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============ SUPPORTING MODELS ============
type Location struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_location_business_code" json:"business_id"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name"`
	Code       string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_location_business_code" json:"code"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Location) TableName() string {
	return "locations"
}

type Product struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID   uuid.UUID `gorm:"type:uuid;not null;index" json:"business_id"`
	Name         string    `gorm:"type:varchar(200);not null" json:"name"`
	EnableSerial bool      `gorm:"not null;default:false" json:"enable_serial"`
	CreatedAt    time.Time `json:"created_at"`

	Variations []Variation `gorm:"foreignKey:ProductID" json:"variations,omitempty"`
}

func (Product) TableName() string {
	return "products"
}

type Variation struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	SKU       string          `gorm:"type:varchar(100);not null" json:"sku"`
	Name      string          `gorm:"type:varchar(200);not null" json:"name"`
	SellPrice decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"sell_price"`
	CreatedAt time.Time       `json:"created_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (Variation) TableName() string {
	return "variations"
}
