package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const devicesCSV string = `identifier;category;status;site;city;end_of_life
dev-001;TOWER;active;Tower A;Hyderabad;2025-06-10
dev-002;router;Maintenance;Router Hub;Bangalore;
dev-003;CPE;faulty;Tower A;Hyderabad;`

func TestSeedDevices(t *testing.T) {
	is, ctx, f := setupTest(t)

	err := SeedDevices(ctx, f.devices, strings.NewReader(devicesCSV))
	is.NoErr(err)

	all, err := f.devices.GetAll(ctx)
	is.NoErr(err)
	is.Equal(len(all), 3)

	is.Equal(all[0].Identifier, "dev-001")
	is.Equal(all[0].Site.Name, "Tower A")
	is.Equal(all[0].EndOfLifeDate.Day(), 10)

	is.Equal(all[1].Category, types.CategoryRouter)
	is.Equal(all[1].Status, types.DeviceStatusMaintenance)
	is.True(all[1].EndOfLifeDate == nil)

	is.Equal(*all[0].SiteID, *all[2].SiteID) // same site is reused

	// a second run leaves the fleet as it is
	is.NoErr(SeedDevices(ctx, f.devices, strings.NewReader(devicesCSV)))
	all, _ = f.devices.GetAll(ctx)
	is.Equal(len(all), 3)
}

func TestSeedDevicesRejectsUnknownCategory(t *testing.T) {
	is, ctx, f := setupTest(t)

	err := SeedDevices(ctx, f.devices, strings.NewReader("dev-009;SATELLITE;active;;;"))
	is.True(errors.Is(err, ErrInvalidRecord))
}

func TestSeedCatalogue(t *testing.T) {
	is, ctx, f := setupTest(t)

	cat := Catalogue{
		Plans: []PlanRecord{
			{Name: "Basic", SpeedMbps: 50, MonthlyPrice: "499"},
			{Name: "Premium", SpeedMbps: 200, MonthlyPrice: "999"},
		},
		Inventory: []InventoryRecord{
			{Name: "WiFi Router", StockOnHand: 3, ReorderPoint: 5},
		},
		Customers: []CustomerRecord{
			{Name: "Ravi Kumar", City: "Hyderabad", TenureMonths: 12, ComplaintsLast90d: 1, LastRechargeDaysAgo: 5, Plan: "Basic"},
			{Name: "Anita Sharma", City: "Bangalore", TenureMonths: 6, Plan: "Premium"},
		},
	}

	is.NoErr(SeedCatalogue(ctx, f.accounts, f.inventory, cat))

	ravi, err := f.accounts.FindCustomer(ctx, "Ravi Kumar", "Hyderabad")
	is.NoErr(err)
	is.Equal(ravi.ComplaintsLast90d, 1)

	sub, err := f.accounts.GetSubscription(ctx, ravi.ID)
	is.NoErr(err)
	is.Equal(sub.Plan.Name, "Basic")
	is.True(sub.Plan.MonthlyPrice.Equal(decimal.NewFromInt(499)))

	item, err := f.inventory.FindByName(ctx, "router")
	is.NoErr(err)
	is.Equal(item.StockOnHand, 3)

	// seeding again is a no-op once inventory exists
	is.NoErr(SeedCatalogue(ctx, f.accounts, f.inventory, cat))
	item, _ = f.inventory.First(ctx)
	is.Equal(item.StockOnHand, 3)
}

func TestSeedCatalogueReportsUnknownPlan(t *testing.T) {
	is, ctx, f := setupTest(t)

	cat := Catalogue{
		Plans:     []PlanRecord{{Name: "Basic", SpeedMbps: 50, MonthlyPrice: "499"}},
		Customers: []CustomerRecord{{Name: "John Doe", City: "Chennai", Plan: "Ultra"}},
	}

	err := SeedCatalogue(ctx, f.accounts, f.inventory, cat)
	is.True(errors.Is(err, ErrInvalidRecord))
}

type fixture struct {
	devices   database.DeviceRepository
	accounts  database.AccountRepository
	inventory database.InventoryRepository
}

func setupTest(t *testing.T) (*is.I, context.Context, fixture) {
	is := is.New(t)
	conn := database.NewSQLiteConnector(zerolog.Logger{})

	devices, err := database.NewDeviceRepository(conn)
	is.NoErr(err)
	accounts, err := database.NewAccountRepository(conn)
	is.NoErr(err)
	inventory, err := database.NewInventoryRepository(conn)
	is.NoErr(err)

	return is, context.Background(), fixture{devices: devices, accounts: accounts, inventory: inventory}
}
