package ticketing

import "github.com/diwise/fleet-ops/pkg/types"

var deviceStatuses = []string{
	types.DeviceStatusActive,
	types.DeviceStatusMaintenance,
	types.DeviceStatusFaulty,
	types.DeviceStatusDecommissioned,
}

// transitions lists the statuses a device may move to from each status. Every move is
// currently allowed, including leaving decommissioned.
var transitions = func() map[string][]string {
	t := map[string][]string{}
	for _, from := range deviceStatuses {
		t[from] = deviceStatuses
	}
	return t
}()

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
