package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application/billing"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/matryer/is"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func TestConfigFileOverridesDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := parseExternalConfigFile(context.Background(), io.NopCloser(strings.NewReader(configYaml)))
	is.NoErr(err)

	is.Equal(cfg.SweepInterval, time.Minute)
	is.Equal(cfg.Rules.HeartbeatTimeout, 10*time.Minute)
	is.Equal(cfg.Rules.OverheatC, 80.0) // default kept
	is.Equal(cfg.Billing.IncludedGB, 50.0)
	is.Equal(len(cfg.Notifications), 1)
	is.Equal(len(cfg.Seed.Plans), 2)
	is.Equal(cfg.Seed.Customers[0].Plan, "Basic")
}

func TestSetup(t *testing.T) {
	is, server := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/health", "")
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestSeededFleetRaisesAlerts(t *testing.T) {
	is, server := setupTest(t)

	resp, body := testRequest(is, server, http.MethodPost, "/api/v0/rules/evaluate", "")
	is.Equal(resp.StatusCode, http.StatusOK)

	result := types.RuleEvaluation{}
	is.NoErr(json.Unmarshal([]byte(body), &result))
	is.Equal(result.AlertsCreated, 1) // dev-001 reaches end of life next week

	resp, body = testRequest(is, server, http.MethodPost, "/api/v0/devices/dev-002/reserve-replacement", "")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, "WiFi Router"))
}

func TestSeededCustomersHavePlans(t *testing.T) {
	is, server := setupTest(t)

	resp, body := testRequest(is, server, http.MethodGet, "/api/v0/customers/1/plan", "")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, "Basic"))

	resp, _ = testRequest(is, server, http.MethodGet, "/api/v0/customers/3/plan", "")
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestReportedUsageIsBilled(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	flags := defaultFlags()
	flags[devmode] = "true"

	cfg, err := parseExternalConfigFile(ctx, io.NopCloser(strings.NewReader(configYaml)))
	is.NoErr(err)

	app, err := initialize(ctx, flags, cfg, nil, events.NewDiscardPublisher())
	is.NoErr(err)
	is.NoErr(app.seed(ctx, cfg.Seed, nil))

	handler := billing.NewUsageEventHandler(app.billing)
	handler(ctx, amqp.Delivery{RoutingKey: billing.UsageEventsTopic, Body: []byte(`{"customerID":1,"gb_used":8}`)}, zerolog.Logger{})

	estimate, err := app.billing.Estimate(ctx, 1, time.Now())
	is.NoErr(err)
	is.Equal(estimate.PeriodGB, 8.0)
}

func setupTest(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := context.Background()

	flags := defaultFlags()
	flags[devmode] = "true"

	cfg, err := parseExternalConfigFile(ctx, io.NopCloser(strings.NewReader(configYaml)))
	is.NoErr(err)

	app, err := initialize(ctx, flags, cfg, nil, events.NewDiscardPublisher())
	is.NoErr(err)

	eol := time.Now().UTC().AddDate(0, 0, 7).Format(time.DateOnly)
	devices := "dev-001;TOWER;active;Tower A;Hyderabad;" + eol + "\ndev-002;ROUTER;maintenance;Router Hub;Bangalore;\n"

	is.NoErr(app.seed(ctx, cfg.Seed, io.NopCloser(strings.NewReader(devices))))

	server := httptest.NewServer(app.router)
	t.Cleanup(server.Close)

	return is, server
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body string) (*http.Response, string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, _ := http.NewRequest(method, ts.URL+path, reader)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, string(respBody)
}

const configYaml string = `
sweepInterval: 1m
rules:
  heartbeatTimeout: 10m
billing:
  includedGB: 50
  overageRate: 10
notifications:
  - id: noc
    name: Network operations centre
    type: fleetops.alert
    subscribers:
    - endpoint: http://localhost:1
seed:
  plans:
    - name: Basic
      speedMbps: 50
      monthlyPrice: "499"
    - name: Premium
      speedMbps: 200
      monthlyPrice: "999"
  inventory:
    - name: WiFi Router
      stockOnHand: 3
      reorderPoint: 5
  customers:
    - name: Ravi Kumar
      city: Hyderabad
      tenureMonths: 12
      complaintsLast90d: 1
      lastRechargeDaysAgo: 5
      plan: Basic
    - name: Anita Sharma
      city: Bangalore
      tenureMonths: 6
      plan: Premium
`
