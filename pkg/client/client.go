package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/tracing"
	"github.com/diwise/fleet-ops/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var tracer = otel.Tracer("fleet-ops-client")

type FleetOpsClient interface {
	EvaluateRules(ctx context.Context) (int, error)
	Acknowledge(ctx context.Context, deviceID string) (types.Acknowledgement, error)
	CreateTicket(ctx context.Context, deviceID, description, createdBy string) (types.TicketCreation, error)
	ReserveReplacement(ctx context.Context, deviceID string) (types.Reservation, error)
	ChurnScore(ctx context.Context, customerID uint) (types.ChurnScore, error)
	Usage(ctx context.Context, customerID uint) (types.UsageEstimate, error)
	PayBill(ctx context.Context, billID uint) error
	Onboard(ctx context.Context, name, city string, planID uint) (types.Onboarding, error)
}

// APIError is returned for every response that is not a success.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type fleetOpsClient struct {
	url        string
	httpClient http.Client
}

// New returns a client for the API at baseURL. When a token URL is given requests are
// authorized with a client credentials token from that endpoint.
func New(ctx context.Context, baseURL, oauthTokenURL, clientID, clientSecret string) (FleetOpsClient, error) {
	transport := otelhttp.NewTransport(http.DefaultTransport)

	c := &fleetOpsClient{
		url:        strings.TrimSuffix(baseURL, "/"),
		httpClient: http.Client{Transport: transport},
	}

	if oauthTokenURL == "" {
		return c, nil
	}

	oauthConfig := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     oauthTokenURL,
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: transport})

	token, err := oauthConfig.Token(tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get client credentials from %s: %w", oauthConfig.TokenURL, err)
	}

	if !token.Valid() {
		return nil, fmt.Errorf("an invalid token was returned from %s", oauthTokenURL)
	}

	c.httpClient = *oauthConfig.Client(tokenCtx)

	return c, nil
}

func (c *fleetOpsClient) EvaluateRules(ctx context.Context) (int, error) {
	result := types.RuleEvaluation{}
	err := c.do(ctx, "evaluate-rules", http.MethodPost, "/api/v0/rules/evaluate", nil, false, &result)
	return result.AlertsCreated, err
}

func (c *fleetOpsClient) Acknowledge(ctx context.Context, deviceID string) (types.Acknowledgement, error) {
	result := types.Acknowledgement{}
	err := c.do(ctx, "acknowledge", http.MethodPost, "/api/v0/devices/"+url.PathEscape(deviceID)+"/acknowledge", nil, false, &result)
	return result, err
}

func (c *fleetOpsClient) CreateTicket(ctx context.Context, deviceID, description, createdBy string) (types.TicketCreation, error) {
	body := map[string]string{"description": description, "createdBy": createdBy}
	result := types.TicketCreation{}
	err := c.do(ctx, "create-ticket", http.MethodPost, "/api/v0/devices/"+url.PathEscape(deviceID)+"/tickets", body, true, &result)
	return result, err
}

func (c *fleetOpsClient) ReserveReplacement(ctx context.Context, deviceID string) (types.Reservation, error) {
	result := types.Reservation{}
	err := c.do(ctx, "reserve-replacement", http.MethodPost, "/api/v0/devices/"+url.PathEscape(deviceID)+"/reserve-replacement", nil, true, &result)
	return result, err
}

func (c *fleetOpsClient) ChurnScore(ctx context.Context, customerID uint) (types.ChurnScore, error) {
	result := types.ChurnScore{}
	err := c.do(ctx, "churn-score", http.MethodGet, fmt.Sprintf("/api/v0/customers/%d/churn-score", customerID), nil, false, &result)
	return result, err
}

func (c *fleetOpsClient) Usage(ctx context.Context, customerID uint) (types.UsageEstimate, error) {
	result := types.UsageEstimate{}
	err := c.do(ctx, "usage", http.MethodGet, fmt.Sprintf("/api/v0/customers/%d/usage", customerID), nil, false, &result)
	return result, err
}

func (c *fleetOpsClient) PayBill(ctx context.Context, billID uint) error {
	return c.do(ctx, "pay-bill", http.MethodPost, fmt.Sprintf("/api/v0/bills/%d/pay", billID), nil, true, nil)
}

func (c *fleetOpsClient) Onboard(ctx context.Context, name, city string, planID uint) (types.Onboarding, error) {
	body := map[string]any{"name": name, "city": city, "planID": planID}
	result := types.Onboarding{}
	err := c.do(ctx, "onboard", http.MethodPost, "/api/v0/onboard", body, true, &result)
	return result, err
}

// do sends the request and decodes a successful response into result. Idempotent
// requests carry a fresh Idempotency-Key and are retried once, with the same key, if
// the server could not be reached.
func (c *fleetOpsClient) do(ctx context.Context, operation, method, path string, body any, idempotent bool, result any) error {
	var err error
	ctx, span := tracer.Start(ctx, operation)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			err = fmt.Errorf("failed to marshal request body: %w", err)
			return err
		}
	}

	key := ""
	attempts := 1
	if idempotent {
		key = uuid.NewString()
		attempts = 2
	}

	var resp *http.Response

	for attempt := 1; attempt <= attempts; attempt++ {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, method, c.url+path, bytes.NewReader(payload))
		if err != nil {
			err = fmt.Errorf("failed to create http request: %w", err)
			return err
		}

		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}

		log.Warn().Err(err).Msgf("%s attempt %d failed", operation, attempt)
	}

	if err != nil {
		err = fmt.Errorf("failed to send %s request: %w", operation, err)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %w", err)
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}

		errResp := types.ErrorResponse{}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Message = errResp.Error
		}

		err = apiErr
		return err
	}

	if result == nil {
		return nil
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body: %w", err)
		return err
	}

	return nil
}
