package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/diwise/fleet-ops/internal/pkg/application"
	"github.com/diwise/fleet-ops/internal/pkg/application/billing"
	"github.com/diwise/fleet-ops/internal/pkg/application/customers"
	"github.com/diwise/fleet-ops/internal/pkg/application/inventory"
	"github.com/diwise/fleet-ops/internal/pkg/application/telemetry"
	"github.com/diwise/fleet-ops/internal/pkg/application/ticketing"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/idempotency"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/tracing"
	"github.com/diwise/fleet-ops/internal/pkg/presentation/api/auth"
	"github.com/diwise/fleet-ops/pkg/types"
)

var tracer = otel.Tracer("fleet-ops/api")

type Services struct {
	Sweeper     telemetry.Sweeper
	Ticketing   ticketing.TicketingService
	Reservation inventory.ReservationService
	Customers   customers.CustomerService
	Billing     billing.BillingService

	// Stream serves domain events to web clients, the route is left out if nil.
	Stream http.Handler
}

// RegisterHandlers mounts the API on the router. A nil policies reader leaves the API
// open, a nil store disables idempotency keys.
func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, store idempotency.Store, svc Services) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log := logging.GetFromContext(ctx)

	var authenticator auth.Enticator = auth.NewOpenAuthenticator()
	if policies != nil {
		var err error
		authenticator, err = auth.NewAuthenticator(ctx, policies)
		if err != nil {
			return nil, fmt.Errorf("failed to create api authenticator: %w", err)
		}
	} else {
		log.Warn().Msg("no authz policy configured, api is open")
	}

	idempotent := idempotency.Middleware(store)

	router.Route("/api/v0", func(r chi.Router) {
		r.With(authenticator.RequireAccess(auth.FleetWrite)).Post("/rules/evaluate", evaluateRulesHandler(log, svc.Sweeper))

		if svc.Stream != nil {
			r.With(authenticator.RequireAccess(auth.FleetRead)).Get("/events", svc.Stream.ServeHTTP)
		}

		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Use(authenticator.RequireAccess(auth.FleetWrite))

			r.Post("/acknowledge", acknowledgeHandler(log, svc.Ticketing))
			r.With(idempotent).Post("/tickets", createTicketHandler(log, svc.Ticketing))
			r.With(idempotent).Post("/reserve-replacement", reserveHandler(log, svc.Reservation))
		})

		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authenticator.RequireAccess(auth.BillingRead))

				r.Get("/churn-score", churnScoreHandler(log, svc.Customers))
				r.Get("/plan", getPlanHandler(log, svc.Customers))
				r.Get("/usage", usageHandler(log, svc.Billing))
				r.Get("/bills", listBillsHandler(log, svc.Billing))
			})

			r.Group(func(r chi.Router) {
				r.Use(authenticator.RequireAccess(auth.BillingWrite))

				r.Post("/plan", changePlanHandler(log, svc.Customers))
				r.With(idempotent).Post("/bills", generateBillHandler(log, svc.Billing))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticator.RequireAccess(auth.BillingWrite), idempotent)

			r.Post("/bills/{billID}/pay", payBillHandler(log, svc.Billing))
			r.Post("/onboard", onboardHandler(log, svc.Customers))
		})
	})

	return router, nil
}

func evaluateRulesHandler(log zerolog.Logger, sweeper telemetry.Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "evaluate-rules")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		alerts, err := sweeper.Sweep(ctx)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, types.RuleEvaluation{AlertsCreated: len(alerts)})
	}
}

func acknowledgeHandler(log zerolog.Logger, svc ticketing.TicketingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "acknowledge-alerts")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")
		requestLogger = requestLogger.With().Str("device_id", deviceID).Logger()

		ack, err := svc.AcknowledgeAlerts(ctx, deviceID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, ack)
	}
}

func createTicketHandler(log zerolog.Logger, svc ticketing.TicketingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-ticket")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")
		requestLogger = requestLogger.With().Str("device_id", deviceID).Logger()

		req := ticketRequest{}
		err = readOptionalBody(r, &req)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		created, err := svc.CreateTicket(ctx, deviceID, req.Description, req.CreatedBy)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		requestLogger.Info().Uint("ticket_id", created.TicketID).Msg("ticket created")

		writeJSON(w, http.StatusCreated, created)
	}
}

func reserveHandler(log zerolog.Logger, svc inventory.ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "reserve-replacement")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")
		requestLogger = requestLogger.With().Str("device_id", deviceID).Logger()

		reservation, err := svc.Reserve(ctx, deviceID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, reservation)
	}
}

func churnScoreHandler(log zerolog.Logger, svc customers.CustomerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "churn-score")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		score, err := svc.ChurnScore(ctx, customerID, time.Now().UTC())
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, score)
	}
}

func getPlanHandler(log zerolog.Logger, svc customers.CustomerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-plan")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		plan, err := svc.GetPlan(ctx, customerID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, plan)
	}
}

func changePlanHandler(log zerolog.Logger, svc customers.CustomerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "change-plan")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		req := planRequest{}
		err = readBody(r, &req)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		change, err := svc.ChangePlan(ctx, customerID, req.PlanID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, change)
	}
}

func usageHandler(log zerolog.Logger, svc billing.BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "usage-estimate")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		estimate, err := svc.Estimate(ctx, customerID, time.Now().UTC())
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, estimate)
	}
}

func listBillsHandler(log zerolog.Logger, svc billing.BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-bills")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		bills, err := svc.ListBills(ctx, customerID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, ApiResponse{
			Meta: &meta{TotalRecords: uint64(len(bills)), Count: uint64(len(bills))},
			Data: bills,
		})
	}
}

func generateBillHandler(log zerolog.Logger, svc billing.BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "generate-bill")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		customerID, err := idParam(r, "customerID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		req := billRequest{}
		err = readBody(r, &req)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		month, err := req.period()
		if err != nil {
			err = fmt.Errorf("%w: %s", application.ErrValidation, err.Error())
			writeError(w, requestLogger, err)
			return
		}

		bill, err := svc.GenerateBill(ctx, customerID, month)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusCreated, bill)
	}
}

func payBillHandler(log zerolog.Logger, svc billing.BillingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "pay-bill")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		billID, err := idParam(r, "billID")
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		bill, err := svc.Pay(ctx, billID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusOK, bill)
	}
}

func onboardHandler(log zerolog.Logger, svc customers.CustomerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "onboard-customer")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := onboardRequest{}
		err = readBody(r, &req)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		onboarded, err := svc.Onboard(ctx, req.Name, req.City, req.PlanID)
		if err != nil {
			writeError(w, requestLogger, err)
			return
		}

		writeJSON(w, http.StatusCreated, onboarded)
	}
}

func idParam(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", application.ErrValidation, name)
	}
	return uint(id), nil
}

func readBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: unable to read body", application.ErrValidation)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("%w: unable to unmarshal body", application.ErrValidation)
	}

	return nil
}

// readOptionalBody is readBody for endpoints where every field has a default.
func readOptionalBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("%w: unable to read body", application.ErrValidation)
	}

	if len(body) == 0 {
		return nil
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("%w: unable to unmarshal body", application.ErrValidation)
	}

	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, application.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrConfiguration):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = http.StatusText(status)
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
