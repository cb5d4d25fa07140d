package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	DeviceID   *uint
	CustomerID *uint
	Status     string
	Severity   string

	From time.Time
	To   time.Time

	sortBy    string
	sortOrder string
}

func WithDeviceID(deviceID uint) ConditionFunc {
	return func(c *Condition) *Condition {
		c.DeviceID = &deviceID
		return c
	}
}

func WithCustomerID(customerID uint) ConditionFunc {
	return func(c *Condition) *Condition {
		c.CustomerID = &customerID
		return c
	}
}

func WithStatus(status string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Status = status
		return c
	}
}

func WithSeverity(severity string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Severity = severity
		return c
	}
}

// WithPeriod limits the query to rows dated in [from, to).
func WithPeriod(from, to time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.From = from
		c.To = to
		return c
	}
}

func WithSortDesc(column string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.sortBy = column
		c.sortOrder = "DESC"
		return c
	}
}

func newCondition(conditions ...ConditionFunc) *Condition {
	c := &Condition{}
	for _, f := range conditions {
		f(c)
	}
	return c
}

// apply adds the condition to a query. dateColumn names the column used by WithPeriod.
func (c Condition) apply(query *gorm.DB, dateColumn string) *gorm.DB {
	if c.DeviceID != nil {
		query = query.Where("device_id = ?", *c.DeviceID)
	}
	if c.CustomerID != nil {
		query = query.Where("customer_id = ?", *c.CustomerID)
	}
	if c.Status != "" {
		query = query.Where("status = ?", c.Status)
	}
	if c.Severity != "" {
		query = query.Where("severity = ?", c.Severity)
	}
	if !c.From.IsZero() {
		query = query.Where(fmt.Sprintf("%s >= ?", dateColumn), c.From.UTC())
	}
	if !c.To.IsZero() {
		query = query.Where(fmt.Sprintf("%s < ?", dateColumn), c.To.UTC())
	}
	if c.sortBy != "" {
		query = query.Order(fmt.Sprintf("%s %s", c.sortBy, c.sortOrder))
	} else {
		query = query.Order("id ASC")
	}
	return query
}
