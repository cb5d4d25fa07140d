package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type Site struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

type Device struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	Identifier string `gorm:"uniqueIndex;not null" json:"identifier"`
	Category   string `json:"category"`
	Status     string `gorm:"default:active" json:"status"`

	SiteID *uint `json:"-"`
	Site   *Site `gorm:"constraint:OnDelete:CASCADE;" json:"site,omitempty"`

	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	TemperatureC  *float64   `json:"temperatureC,omitempty"`
	EndOfLifeDate *time.Time `json:"endOfLifeDate,omitempty"`
}

type Alert struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	Severity string `json:"severity"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Status   string `gorm:"default:open;index" json:"status"`

	DeviceID   *uint     `gorm:"index" json:"deviceID,omitempty"`
	Device     *Device   `gorm:"constraint:OnDelete:SET NULL;" json:"-"`
	CustomerID *uint     `gorm:"index" json:"customerID,omitempty"`
	Customer   *Customer `gorm:"constraint:OnDelete:SET NULL;" json:"-"`
}

type Customer struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Name                string `json:"name"`
	City                string `json:"city"`
	TenureMonths        int    `json:"tenureMonths"`
	ComplaintsLast90d   int    `gorm:"column:complaints_last_90d" json:"complaintsLast90d"`
	LastRechargeDaysAgo int    `json:"lastRechargeDaysAgo"`
}

type Plan struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	Name         string          `json:"name"`
	SpeedMbps    int             `json:"speedMbps"`
	MonthlyPrice decimal.Decimal `gorm:"type:decimal(10,2)" json:"monthlyPrice"`
}

type Subscription struct {
	ID uint `gorm:"primarykey" json:"id"`

	CustomerID uint     `gorm:"uniqueIndex" json:"-"`
	Customer   Customer `gorm:"constraint:OnDelete:CASCADE;" json:"customer"`
	PlanID     uint     `json:"-"`
	Plan       Plan     `gorm:"constraint:OnDelete:RESTRICT;" json:"plan"`

	StartDate time.Time `json:"startDate"`
	Status    string    `gorm:"default:active" json:"status"`
}

type UsageEvent struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CustomerID uint      `gorm:"index" json:"customerID"`
	Customer   Customer  `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Date       time.Time `gorm:"index" json:"date"`
	GBUsed     float64   `gorm:"column:gb_used" json:"gbUsed"`
}

type Bill struct {
	ID         uint            `gorm:"primarykey" json:"id"`
	CustomerID uint            `gorm:"uniqueIndex:idx_bill_customer_month" json:"customer"`
	Customer   Customer        `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Month      time.Time       `gorm:"uniqueIndex:idx_bill_customer_month" json:"month"`
	Amount     decimal.Decimal `gorm:"type:decimal(10,2)" json:"amount"`
	Status     string          `gorm:"default:unpaid" json:"status"`
}

type InventoryItem struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	Name         string `json:"name"`
	StockOnHand  int    `gorm:"check:stock_on_hand >= 0" json:"stockOnHand"`
	ReorderPoint int    `gorm:"default:5" json:"reorderPoint"`
}

type Ticket struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	DeviceID *uint   `gorm:"index" json:"deviceID,omitempty"`
	Device   *Device `gorm:"constraint:OnDelete:CASCADE;" json:"-"`

	Status      string `gorm:"default:open" json:"status"`
	Description string `json:"description"`
	CreatedBy   string `gorm:"default:engineer" json:"createdBy"`
}
