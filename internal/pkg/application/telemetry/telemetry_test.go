package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/application/events"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestHeartbeatRule(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "CPE-LATE", Category: types.CategoryCPE, LastHeartbeat: ptr(now.Add(-16 * time.Minute))})
	f.addDevice(t, database.Device{Identifier: "CPE-EDGE", Category: types.CategoryCPE, LastHeartbeat: ptr(now.Add(-15 * time.Minute))})
	f.addDevice(t, database.Device{Identifier: "CPE-NONE", Category: types.CategoryCPE})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Type, types.AlertHeartbeatMissed)
	is.Equal(alerts[0].Severity, types.SeverityCritical)
	is.Equal(alerts[0].Message, "No heartbeat for >15 minutes for CPE-LATE")
}

func TestTemperatureRuleRaisesAtMostOneAlert(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(85.0)})
	f.addDevice(t, database.Device{Identifier: "R-WARM", Category: types.CategoryRouter, TemperatureC: ptr(70.0)})
	f.addDevice(t, database.Device{Identifier: "R-OK", Category: types.CategoryRouter, TemperatureC: ptr(69.9)})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 2)

	is.Equal(alerts[0].Type, types.AlertOverheat)
	is.Equal(alerts[0].Severity, types.SeverityCritical)
	is.Equal(alerts[0].Message, "Device R-HOT temp 85C")

	is.Equal(alerts[1].Type, types.AlertWarm)
	is.Equal(alerts[1].Severity, types.SeverityWarning)
}

func TestEndOfLifeRule(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "TWR-SOON", Category: types.CategoryTower, EndOfLifeDate: ptr(dateOf(now).AddDate(0, 0, 10))})
	f.addDevice(t, database.Device{Identifier: "TWR-PAST", Category: types.CategoryTower, EndOfLifeDate: ptr(dateOf(now).AddDate(0, 0, -3))})
	f.addDevice(t, database.Device{Identifier: "TWR-LATER", Category: types.CategoryTower, EndOfLifeDate: ptr(dateOf(now).AddDate(0, 0, 31))})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 2)
	is.Equal(alerts[0].Message, "Device TWR-SOON EOL within 10 days")
	is.Equal(alerts[1].Message, "Device TWR-PAST EOL within 0 days")
}

func TestTemperatureThresholdsAreInclusive(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "R-80", Category: types.CategoryRouter, TemperatureC: ptr(80.0)})
	f.addDevice(t, database.Device{Identifier: "R-60", Category: types.CategoryRouter, TemperatureC: ptr(60.0)})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Type, types.AlertOverheat)
	is.Equal(alerts[0].Severity, types.SeverityCritical)
	is.Equal(alerts[0].Message, "Device R-80 temp 80C")
}

func TestEndOfLifeWarningIncludesLastDay(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "TWR-30", Category: types.CategoryTower, EndOfLifeDate: ptr(dateOf(now).AddDate(0, 0, 30))})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Type, types.AlertEOLSoon)
	is.Equal(alerts[0].Message, "Device TWR-30 EOL within 30 days")
}

func TestDeviceCanTriggerEveryRule(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{
		Identifier:    "TWR-DOOMED",
		Category:      types.CategoryTower,
		LastHeartbeat: ptr(now.Add(-time.Hour)),
		TemperatureC:  ptr(95.0),
		EndOfLifeDate: ptr(dateOf(now).AddDate(0, 0, -5)),
	})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 3)
	is.Equal(alerts[0].Type, types.AlertHeartbeatMissed)
	is.Equal(alerts[1].Type, types.AlertOverheat)
	is.Equal(alerts[2].Type, types.AlertEOLSoon)
	is.Equal(alerts[2].Message, "Device TWR-DOOMED EOL within 0 days")

	stored, err := f.alerts.Query(ctx)
	is.NoErr(err)
	is.Equal(len(stored), 3)
}

func TestPanickingRuleOnlySkipsThatDevice(t *testing.T) {
	is, ctx, f := setupTest(t)

	original := rules
	t.Cleanup(func() { rules = original })

	rules = append([]rule{func(cfg Config, d database.Device, now time.Time) *finding {
		if d.Identifier == "R-CURSED" {
			panic("corrupt telemetry record")
		}
		return nil
	}}, original...)

	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})
	f.addDevice(t, database.Device{Identifier: "R-CURSED", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})
	f.addDevice(t, database.Device{Identifier: "R-WARM", Category: types.CategoryRouter, TemperatureC: ptr(75.0)})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 2)
	is.Equal(alerts[0].Message, "Device R-HOT temp 90C")
	is.Equal(alerts[1].Message, "Device R-WARM temp 75C")
}

func TestRepeatedSweepsAccumulateAlertsAndLeaveDevicesUntouched(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})

	_, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	_, err = f.engine.Evaluate(ctx)
	is.NoErr(err)

	stored, err := f.alerts.Query(ctx)
	is.NoErr(err)
	is.Equal(len(stored), 2)

	d, err := f.devices.GetByIdentifier(ctx, "R-HOT")
	is.NoErr(err)
	is.Equal(d.Status, types.DeviceStatusActive)
}

func TestCriticalAlertsArePublishedAndNotified(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})
	f.addDevice(t, database.Device{Identifier: "R-WARM", Category: types.CategoryRouter, TemperatureC: ptr(75.0)})

	_, err := f.engine.Evaluate(ctx)
	is.NoErr(err)

	is.Equal(len(f.publisher.PublishOnTopicCalls()), 2)
	is.Equal(f.publisher.PublishOnTopicCalls()[0].Message.TopicName(), "alerts.created")
	is.Equal(len(f.notifier.NotifyCalls()), 1)
	is.Equal(f.notifier.NotifyCalls()[0].EventType, events.AlertNotificationType)
}

func TestPublishFailureDoesNotStopSweep(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.publisher.PublishOnTopicFunc = func(ctx context.Context, message messaging.TopicMessage) error {
		return errors.New("broker down")
	}

	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})

	alerts, err := f.engine.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 1)
}

func TestFailingDeviceIsSkipped(t *testing.T) {
	is, ctx, f := setupTest(t)

	broken := f.addDevice(t, database.Device{Identifier: "R-BROKEN", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})
	f.addDevice(t, database.Device{Identifier: "R-HOT", Category: types.CategoryRouter, TemperatureC: ptr(90.0)})

	e := f.engine.(*engine)
	e.alerts = &failingAlerts{AlertRepository: f.alerts, deviceID: broken.ID}

	alerts, err := e.Evaluate(ctx)
	is.NoErr(err)
	is.Equal(len(alerts), 1)
	is.Equal(*alerts[0].DeviceID, broken.ID+1)
}

func TestIngestUpdatesDevice(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "CPE-1", Category: types.CategoryCPE, TemperatureC: ptr(40.0)})

	hb := now.Add(-time.Minute)
	eol := "2025-12-31"
	err := f.engine.Ingest(ctx, types.DeviceTelemetry{DeviceID: "CPE-1", LastHeartbeat: &hb, EndOfLifeDate: &eol})
	is.NoErr(err)

	d, err := f.devices.GetByIdentifier(ctx, "CPE-1")
	is.NoErr(err)
	is.Equal(*d.TemperatureC, 40.0)
	is.True(d.LastHeartbeat.Equal(hb))
	is.Equal(d.EndOfLifeDate.Format(time.DateOnly), eol)

	err = f.engine.Ingest(ctx, types.DeviceTelemetry{DeviceID: "missing", TemperatureC: ptr(1.0)})
	is.True(errors.Is(err, application.ErrNotFound))

	bad := "31/12/2025"
	err = f.engine.Ingest(ctx, types.DeviceTelemetry{DeviceID: "CPE-1", EndOfLifeDate: &bad})
	is.True(errors.Is(err, application.ErrValidation))
}

func TestDeviceTelemetryHandler(t *testing.T) {
	is, ctx, f := setupTest(t)

	f.addDevice(t, database.Device{Identifier: "CPE-1", Category: types.CategoryCPE})

	handler := NewDeviceTelemetryHandler(f.engine)
	handler(ctx, amqp.Delivery{
		RoutingKey: DeviceTelemetryTopic,
		Body:       []byte(`{"deviceID":"CPE-1","temperatureC":81.5}`),
	}, zerolog.Logger{})

	d, err := f.devices.GetByIdentifier(ctx, "CPE-1")
	is.NoErr(err)
	is.Equal(*d.TemperatureC, 81.5)
}

func TestOverlappingSweepsShareOneEvaluation(t *testing.T) {
	is := is.New(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32

	e := &blockingEngine{
		evaluate: func(ctx context.Context) ([]database.Alert, error) {
			atomic.AddInt32(&calls, 1)
			started <- struct{}{}
			<-release
			return []database.Alert{{Type: types.AlertOverheat}}, nil
		},
	}

	s := NewSweeper(e, 0, zerolog.Logger{})

	var wg sync.WaitGroup
	results := make([]int, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		alerts, _ := s.Sweep(context.Background())
		results[0] = len(alerts)
	}()

	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		alerts, _ := s.Sweep(context.Background())
		results[1] = len(alerts)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	is.Equal(atomic.LoadInt32(&calls), int32(1))
	is.Equal(results[0], 1)
	is.Equal(results[1], 1)
}

func TestSweepOutlivesCancelledCaller(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	e := &blockingEngine{
		evaluate: func(ctx context.Context) ([]database.Alert, error) {
			seen = ctx.Err()
			return nil, nil
		},
	}

	s := NewSweeper(e, 0, zerolog.Logger{})
	_, err := s.Sweep(ctx)
	is.NoErr(err)
	is.NoErr(seen) // evaluation does not inherit the caller's cancellation
}

func TestPeriodicSweepRunsUntilStopped(t *testing.T) {
	ticks := make(chan struct{}, 10)

	e := &blockingEngine{
		evaluate: func(ctx context.Context) ([]database.Alert, error) {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}

	s := NewSweeper(e, 10*time.Millisecond, zerolog.Logger{})
	s.Start()

	for i := 0; i < 2; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic sweep did not run")
		}
	}

	// blocks until the worker has returned
	s.Stop()
}

type fixture struct {
	engine    RuleEngine
	devices   database.DeviceRepository
	alerts    database.AlertRepository
	publisher *events.PublisherMock
	notifier  *events.NotifierMock
}

func (f *fixture) addDevice(t *testing.T, d database.Device) database.Device {
	if err := f.devices.Save(context.Background(), &d); err != nil {
		t.Fatal(err)
	}
	return d
}

type failingAlerts struct {
	database.AlertRepository
	deviceID uint
}

func (f *failingAlerts) Add(ctx context.Context, alert *database.Alert) error {
	if alert.DeviceID != nil && *alert.DeviceID == f.deviceID {
		return errors.New("disk full")
	}
	return f.AlertRepository.Add(ctx, alert)
}

type blockingEngine struct {
	evaluate func(ctx context.Context) ([]database.Alert, error)
}

func (b *blockingEngine) Evaluate(ctx context.Context) ([]database.Alert, error) {
	return b.evaluate(ctx)
}

func (b *blockingEngine) Ingest(ctx context.Context, t types.DeviceTelemetry) error {
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

func setupTest(t *testing.T) (*is.I, context.Context, *fixture) {
	is := is.New(t)

	conn := database.NewSQLiteConnector(zerolog.Logger{})
	devices, err := database.NewDeviceRepository(conn)
	is.NoErr(err)
	alerts, err := database.NewAlertRepository(conn)
	is.NoErr(err)

	publisher := &events.PublisherMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}
	notifier := &events.NotifierMock{
		NotifyFunc: func(ctx context.Context, eventType string, data any) error {
			return nil
		},
	}

	e := New(devices, alerts, publisher, notifier, Config{})
	e.(*engine).now = func() time.Time { return now }

	return is, context.Background(), &fixture{
		engine:    e,
		devices:   devices,
		alerts:    alerts,
		publisher: publisher,
		notifier:  notifier,
	}
}
