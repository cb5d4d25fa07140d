package types

import (
	"github.com/shopspring/decimal"
)

const (
	CategoryCPE    string = "CPE"
	CategoryRouter string = "ROUTER"
	CategoryTower  string = "TOWER"
)

const (
	DeviceStatusActive         string = "active"
	DeviceStatusMaintenance    string = "maintenance"
	DeviceStatusFaulty         string = "faulty"
	DeviceStatusDecommissioned string = "decommissioned"
)

const (
	SeverityInfo     string = "info"
	SeverityWarning  string = "warning"
	SeverityCritical string = "critical"
)

const (
	AlertStatusOpen         string = "open"
	AlertStatusAcknowledged string = "acknowledged"
	AlertStatusClosed       string = "closed"
)

const (
	AlertHeartbeatMissed string = "HEARTBEAT_MISSED"
	AlertOverheat        string = "OVERHEAT"
	AlertWarm            string = "WARM"
	AlertEOLSoon         string = "EOL_SOON"
)

const (
	BillStatusPaid    string = "paid"
	BillStatusUnpaid  string = "unpaid"
	BillStatusOverdue string = "overdue"
)

const SubscriptionStatusActive string = "active"

const (
	TicketStatusOpen       string = "open"
	TicketStatusInProgress string = "in_progress"
	TicketStatusResolved   string = "resolved"
)

type RuleEvaluation struct {
	AlertsCreated int `json:"alertsCreated"`
}

type Acknowledgement struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type TicketCreation struct {
	Message  string `json:"message"`
	TicketID uint   `json:"ticket_id"`
}

type Reservation struct {
	Message        string `json:"message"`
	Item           string `json:"item"`
	RemainingStock int    `json:"remaining_stock"`
}

type ChurnScore struct {
	Customer string `json:"customer"`
	City     string `json:"city"`
	Score    int    `json:"score"`
	Action   string `json:"action"`
}

type PlanInfo struct {
	Customer string          `json:"customer"`
	City     string          `json:"city"`
	Plan     string          `json:"plan"`
	Price    decimal.Decimal `json:"price"`
}

type PlanChange struct {
	Message string          `json:"message"`
	Price   decimal.Decimal `json:"price"`
}

type Onboarding struct {
	CustomerID     uint   `json:"customer_id"`
	SubscriptionID uint   `json:"subscription_id"`
	Message        string `json:"message"`
}

type DailyUsage struct {
	Date   string  `json:"date"`
	GBUsed float64 `json:"gb_used"`
}

type UsageEstimate struct {
	Customer      string          `json:"customer"`
	Plan          string          `json:"plan"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	Usage         []DailyUsage    `json:"usage"`
	TotalGB       float64         `json:"total_gb"`
	BillingPeriod string          `json:"billing_period"`
	PeriodGB      float64         `json:"period_gb"`
	Bill          decimal.Decimal `json:"bill"`
}

type Message struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
