package api

import (
	"encoding/json"
	"fmt"
	"time"
)

type meta struct {
	TotalRecords uint64 `json:"totalRecords"`
	Count        uint64 `json:"count"`
}

type ApiResponse struct {
	Meta *meta `json:"meta,omitempty"`
	Data any   `json:"data"`
}

func (r ApiResponse) Byte() []byte {
	b, _ := json.Marshal(r)
	return b
}

type ticketRequest struct {
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

type planRequest struct {
	PlanID uint `json:"planID"`
}

type onboardRequest struct {
	Name   string `json:"name"`
	City   string `json:"city"`
	PlanID uint   `json:"planID"`
}

type billRequest struct {
	Month string `json:"month"`
}

// period parses the requested billing month, YYYY-MM or a full date.
func (b billRequest) period() (time.Time, error) {
	for _, layout := range []string{"2006-01", time.DateOnly} {
		if t, err := time.Parse(layout, b.Month); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("month %q is not on the form YYYY-MM", b.Month)
}
