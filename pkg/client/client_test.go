package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestReserveReplacementSendsIdempotencyKey(t *testing.T) {
	is := is.New(t)

	var key, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Reserved WiFi Router for R-1","item":"WiFi Router","remaining_stock":4}`))
	}))
	defer server.Close()

	c, err := New(context.Background(), server.URL, "", "", "")
	is.NoErr(err)

	reservation, err := c.ReserveReplacement(context.Background(), "R-1")
	is.NoErr(err)
	is.Equal(path, "/api/v0/devices/R-1/reserve-replacement")
	is.True(key != "")
	is.Equal(reservation.Item, "WiFi Router")
	is.Equal(reservation.RemainingStock, 4)
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found: device nope"}`))
	}))
	defer server.Close()

	c, err := New(context.Background(), server.URL, "", "", "")
	is.NoErr(err)

	_, err = c.Acknowledge(context.Background(), "nope")

	apiErr := &APIError{}
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusNotFound)
	is.Equal(apiErr.Message, "not found: device nope")
}

func TestClientCredentialsAreUsed(t *testing.T) {
	is := is.New(t)

	oauth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(TokenResponse))
	}))
	defer oauth.Close()

	var authorization, body string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"customer_id":1,"subscription_id":1,"message":"Asha onboarded on Basic 50"}`))
	}))
	defer server.Close()

	c, err := New(context.Background(), server.URL, oauth.URL+"/token", "fleet-ops", "secret")
	is.NoErr(err)

	onboarded, err := c.Onboard(context.Background(), "Asha", "Pune", 1)
	is.NoErr(err)
	is.Equal(onboarded.CustomerID, uint(1))
	is.Equal(authorization, "Bearer "+accessToken)
	is.True(strings.Contains(body, `"planID":1`))
}

const accessToken string = "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.e30.c2lnbmF0dXJl"

const TokenResponse string = `{"access_token":"` + accessToken + `","expires_in":300,"refresh_expires_in":0,"token_type":"Bearer","not-before-policy":0,"scope":"profile email"}`
