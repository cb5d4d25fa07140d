// Package churn scores how likely a customer is to leave.
package churn

import "github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"

const (
	ActionOfferDiscount    string = "offer discount"
	ActionSendReminder     string = "send reminder"
	ActionNormalEngagement string = "normal engagement"
)

const (
	rechargeOverdueDays     int     = 28
	usageDropRatio          float64 = 0.3
	frequentComplaints      int     = 2
	newCustomerTenureMonths int     = 3
)

// Score returns a churn risk in [0, 100]. avg7 and avg30 are the average daily usage
// over the last 7 and 30 days, the usage drop only counts when both are known.
func Score(c database.Customer, avg7, avg30 *float64) int {
	score := 0

	if c.LastRechargeDaysAgo > rechargeOverdueDays {
		score += 40
	}
	if avg7 != nil && avg30 != nil && *avg7 < usageDropRatio*(*avg30) {
		score += 30
	}
	if c.ComplaintsLast90d >= frequentComplaints {
		score += 20
	}
	if c.TenureMonths < newCustomerTenureMonths {
		score += 10
	}

	return min(score, 100)
}

func ActionFor(score int) string {
	switch {
	case score >= 70:
		return ActionOfferDiscount
	case score >= 40:
		return ActionSendReminder
	default:
		return ActionNormalEngagement
	}
}
