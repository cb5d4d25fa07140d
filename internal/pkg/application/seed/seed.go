package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var ErrInvalidRecord = errors.New("invalid seed record")

// Catalogue holds the reference data a new installation starts out with.
type Catalogue struct {
	Plans     []PlanRecord      `yaml:"plans"`
	Inventory []InventoryRecord `yaml:"inventory"`
	Customers []CustomerRecord  `yaml:"customers"`
}

type PlanRecord struct {
	Name         string `yaml:"name"`
	SpeedMbps    int    `yaml:"speedMbps"`
	MonthlyPrice string `yaml:"monthlyPrice"`
}

type InventoryRecord struct {
	Name         string `yaml:"name"`
	StockOnHand  int    `yaml:"stockOnHand"`
	ReorderPoint int    `yaml:"reorderPoint"`
}

type CustomerRecord struct {
	Name                string `yaml:"name"`
	City                string `yaml:"city"`
	TenureMonths        int    `yaml:"tenureMonths"`
	ComplaintsLast90d   int    `yaml:"complaintsLast90d"`
	LastRechargeDaysAgo int    `yaml:"lastRechargeDaysAgo"`
	Plan                string `yaml:"plan"`
}

// SeedCatalogue stores plans, inventory items and customers with their subscriptions.
// Nothing is written if the inventory already holds items.
func SeedCatalogue(ctx context.Context, accounts database.AccountRepository, inventory database.InventoryRepository, cat Catalogue) error {
	log := logging.GetFromContext(ctx)

	_, err := inventory.First(ctx)
	if err == nil {
		log.Info().Msg("catalogue already present, skipping seed")
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	plans := map[string]uint{}

	for _, p := range cat.Plans {
		price, err := decimal.NewFromString(p.MonthlyPrice)
		if err != nil {
			return fmt.Errorf("%w: plan %s has price %q", ErrInvalidRecord, p.Name, p.MonthlyPrice)
		}

		plan := &database.Plan{Name: p.Name, SpeedMbps: p.SpeedMbps, MonthlyPrice: price}
		if err = accounts.SavePlan(ctx, plan); err != nil {
			return err
		}

		plans[p.Name] = plan.ID
	}

	for _, i := range cat.Inventory {
		item := &database.InventoryItem{Name: i.Name, StockOnHand: i.StockOnHand, ReorderPoint: i.ReorderPoint}
		if err = inventory.Save(ctx, item); err != nil {
			return err
		}
	}

	var errs []error

	for _, c := range cat.Customers {
		planID, ok := plans[c.Plan]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: customer %s refers to unknown plan %q", ErrInvalidRecord, c.Name, c.Plan))
			continue
		}

		customer := &database.Customer{
			Name:                c.Name,
			City:                c.City,
			TenureMonths:        c.TenureMonths,
			ComplaintsLast90d:   c.ComplaintsLast90d,
			LastRechargeDaysAgo: c.LastRechargeDaysAgo,
		}

		if err = accounts.SaveCustomer(ctx, customer); err != nil {
			return err
		}

		err = accounts.CreateSubscription(ctx, &database.Subscription{CustomerID: customer.ID, PlanID: planID})
		if err != nil {
			return err
		}
	}

	log.Info().Msgf("seeded %d plans, %d inventory items and %d customers", len(cat.Plans), len(cat.Inventory), len(cat.Customers))

	return errors.Join(errs...)
}

type deviceRecord struct {
	identifier string
	category   string
	status     string
	site       string
	city       string
	endOfLife  *time.Time
}

// SeedDevices reads semicolon separated device records from devices. Devices that are
// already known are left untouched.
//
//	identifier;category;status;site;city;end_of_life
func SeedDevices(ctx context.Context, repo database.DeviceRepository, devices io.Reader) error {
	log := logging.GetFromContext(ctx)

	r := csv.NewReader(devices)
	r.Comma = ';'

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	records, err := getRecordsFromRows(rows)
	if err != nil {
		return err
	}

	log.Info().Msgf("loaded %d device records from %d rows", len(records), len(rows))

	sites := map[string]*database.Site{}
	created := 0

	for _, record := range records {
		_, err := repo.GetByIdentifier(ctx, record.identifier)
		if err == nil {
			log.Debug().Msgf("device %s already exists", record.identifier)
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}

		device := &database.Device{
			Identifier:    record.identifier,
			Category:      record.category,
			Status:        record.status,
			EndOfLifeDate: record.endOfLife,
		}

		if record.site != "" {
			site, ok := sites[record.site]
			if !ok {
				site = &database.Site{Name: record.site, City: record.city}
				sites[record.site] = site
			}
			device.Site = site
		}

		if err = repo.Save(ctx, device); err != nil {
			return err
		}
		created++
	}

	log.Info().Msgf("seeded %d new devices", created)

	return nil
}

func getRecordsFromRows(rows [][]string) ([]deviceRecord, error) {
	var records []deviceRecord

	for i, row := range rows {
		if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "identifier") {
			continue
		}

		record, err := newDeviceRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		records = append(records, record)
	}

	return records, nil
}

func newDeviceRecord(r []string) (deviceRecord, error) {
	if len(r) < 3 {
		return deviceRecord{}, fmt.Errorf("%w: expected at least 3 fields, got %d", ErrInvalidRecord, len(r))
	}

	field := func(i int) string {
		if i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}

	record := deviceRecord{
		identifier: field(0),
		category:   strings.ToUpper(field(1)),
		status:     strings.ToLower(field(2)),
		site:       field(3),
		city:       field(4),
	}

	if eol := field(5); eol != "" {
		t, err := time.Parse(time.DateOnly, eol)
		if err != nil {
			return deviceRecord{}, fmt.Errorf("%w: end of life %q is not a date", ErrInvalidRecord, eol)
		}
		record.endOfLife = &t
	}

	return record, validateDeviceRecord(record)
}

func validateDeviceRecord(r deviceRecord) error {
	if r.identifier == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidRecord)
	}

	if !lo.Contains([]string{types.CategoryCPE, types.CategoryRouter, types.CategoryTower}, r.category) {
		return fmt.Errorf("%w: unknown category %q for %s", ErrInvalidRecord, r.category, r.identifier)
	}

	statuses := []string{types.DeviceStatusActive, types.DeviceStatusMaintenance, types.DeviceStatusFaulty, types.DeviceStatusDecommissioned}
	if !lo.Contains(statuses, r.status) {
		return fmt.Errorf("%w: unknown status %q for %s", ErrInvalidRecord, r.status, r.identifier)
	}

	return nil
}
