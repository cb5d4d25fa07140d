package types

import (
	"encoding/json"
	"time"
)

type AlertCreated struct {
	AlertID   uint      `json:"alertID"`
	DeviceID  string    `json:"deviceID,omitempty"`
	Severity  string    `json:"severity"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertCreated) ContentType() string {
	return "application/json"
}
func (a *AlertCreated) TopicName() string {
	return "alerts.created"
}
func (a *AlertCreated) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type AlertsAcknowledged struct {
	DeviceID  string    `json:"deviceID"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AlertsAcknowledged) ContentType() string {
	return "application/json"
}
func (a *AlertsAcknowledged) TopicName() string {
	return "alerts.acknowledged"
}
func (a *AlertsAcknowledged) Body() []byte {
	b, _ := json.Marshal(a)
	return b
}

type TicketCreated struct {
	TicketID    uint      `json:"ticketID"`
	DeviceID    string    `json:"deviceID"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	Timestamp   time.Time `json:"timestamp"`
}

func (t *TicketCreated) ContentType() string {
	return "application/json"
}
func (t *TicketCreated) TopicName() string {
	return "ticket.created"
}
func (t *TicketCreated) Body() []byte {
	b, _ := json.Marshal(t)
	return b
}

type DeviceStatusChanged struct {
	DeviceID  string    `json:"deviceID"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *DeviceStatusChanged) ContentType() string {
	return "application/json"
}
func (d *DeviceStatusChanged) TopicName() string {
	return "device.statusChanged"
}
func (d *DeviceStatusChanged) Body() []byte {
	b, _ := json.Marshal(d)
	return b
}

type InventoryReserved struct {
	Item           string    `json:"item"`
	DeviceID       string    `json:"deviceID"`
	RemainingStock int       `json:"remainingStock"`
	BelowReorder   bool      `json:"belowReorderPoint"`
	Timestamp      time.Time `json:"timestamp"`
}

func (i *InventoryReserved) ContentType() string {
	return "application/json"
}
func (i *InventoryReserved) TopicName() string {
	return "inventory.reserved"
}
func (i *InventoryReserved) Body() []byte {
	b, _ := json.Marshal(i)
	return b
}

// UsageReported is consumed from the usage-events topic. Date is formatted as
// 2006-01-02 and defaults to the day the message is handled.
type UsageReported struct {
	CustomerID uint    `json:"customerID"`
	Date       *string `json:"date,omitempty"`
	GBUsed     float64 `json:"gb_used"`
}

// DeviceTelemetry is consumed from the device-telemetry topic. Nil fields are left
// untouched on the stored device.
type DeviceTelemetry struct {
	DeviceID      string     `json:"deviceID"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	TemperatureC  *float64   `json:"temperatureC,omitempty"`
	EndOfLifeDate *string    `json:"endOfLifeDate,omitempty"`
}
