package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/httpserver"
	"carshare/internal/models"
	"carshare/internal/rental"
	"carshare/internal/store"
)

const apiKey = "car-lab-key"

type harness struct {
	t      *testing.T
	router http.Handler
	store  store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	lg := zap.NewNop().Sugar()
	authSvc := auth.NewService(st, lg, "test-secret", time.Hour, apiKey)
	fleetSvc := fleet.NewService(st, lg)
	cmdSvc := command.NewService(st, fleetSvc, lg)
	rentalSvc := rental.NewService(st, cmdSvc, lg, 2.0)

	router := httpserver.NewRouter(httpserver.Deps{
		Store:    st,
		Auth:     authSvc,
		Fleet:    fleetSvc,
		Rental:   rentalSvc,
		Commands: cmdSvc,
		Logger:   lg,
	})
	return &harness{t: t, router: router, store: st}
}

func (h *harness) seedCar(vin string, lat, lon float64) {
	h.t.Helper()
	require.NoError(h.t, h.store.CreateCar(context.Background(), &models.Car{
		VIN: vin, Model: "Hatchback", Status: models.CarStatusAvailable,
		Locked: true, DoorsClosed: true, LightsOff: true, EngineOff: true,
		Lat: lat, Lon: lon, BatteryPct: 100,
	}))
}

// do issues a request against the router and decodes the JSON response.
func (h *harness) do(method, path, token string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (h *harness) registerAndLogin(name, email string, lat, lon float64) string {
	h.t.Helper()
	code, _ := h.do(http.MethodPost, "/register", "", map[string]any{
		"name": name, "email": email,
		"driver_license": "B-12345", "payment_method": "visa-4242", "pin": "1234",
		"lat": lat, "lon": lon,
	})
	require.Equal(h.t, http.StatusCreated, code)

	code, body := h.do(http.MethodPost, "/login", "", map[string]any{"email": email, "pin": "1234"})
	require.Equal(h.t, http.StatusOK, code)
	tok, _ := body["token"].(string)
	require.NotEmpty(h.t, tok)
	return tok
}

func (h *harness) connectCar(vin string) string {
	h.t.Helper()
	code, body := h.do(http.MethodPost, "/car/register", "", map[string]any{"vin": vin, "api_key": apiKey})
	require.Equal(h.t, http.StatusOK, code)
	tok, _ := body["car_token"].(string)
	require.NotEmpty(h.t, tok)
	return tok
}

func TestRegisterLoginListCars(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	h.seedCar("VIN-002", 47.170, 27.575)
	tok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)

	code, body := h.do(http.MethodGet, "/cars", tok, nil)
	require.Equal(t, http.StatusOK, code)
	cars, ok := body["cars"].([]any)
	require.True(t, ok)
	require.Len(t, cars, 2)
	first := cars[0].(map[string]any)
	assert.Equal(t, "VIN-001", first["vin"])
	assert.Zero(t, first["distance_km"])
}

func TestRegisterValidationAndConflict(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/register", "", map[string]any{"name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "email")

	h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)
	code, _ = h.do(http.MethodPost, "/register", "", map[string]any{
		"name": "Ada Again", "email": "ada@example.com",
		"driver_license": "B-99999", "payment_method": "mc-1111", "pin": "5678",
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodGet, "/cars", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.do(http.MethodGet, "/car/commands", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.do(http.MethodGet, "/me", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	h := newHarness(t)
	tok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)

	code, _ := h.do(http.MethodGet, "/me", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(http.MethodPost, "/logout", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(http.MethodGet, "/me", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRentalLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	riderTok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)
	carTok := h.connectCar("VIN-001")

	code, body := h.do(http.MethodPost, "/rentals/start", riderTok, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusOK, code, fmt.Sprint(body))
	car := body["car"].(map[string]any)
	assert.Equal(t, string(models.CarStatusRented), car["status"])

	// The car client picks up the UNLOCK command and acks it.
	code, body = h.do(http.MethodGet, "/car/commands", carTok, nil)
	require.Equal(t, http.StatusOK, code)
	cmds := body["commands"].([]any)
	require.Len(t, cmds, 1)
	cmd := cmds[0].(map[string]any)
	assert.Equal(t, string(models.CommandUnlock), cmd["kind"])

	code, _ = h.do(http.MethodPost, "/car/ack", carTok, map[string]any{"command_id": cmd["id"]})
	require.Equal(t, http.StatusOK, code)

	car2, err := h.store.CarByVIN(context.Background(), "VIN-001")
	require.NoError(t, err)
	assert.False(t, car2.Locked)

	// End the rental; the car goes back to AVAILABLE and a LOCK is queued.
	code, body = h.do(http.MethodPost, "/rentals/end", riderTok, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusOK, code, fmt.Sprint(body))
	car = body["car"].(map[string]any)
	assert.Equal(t, string(models.CarStatusAvailable), car["status"])

	code, body = h.do(http.MethodGet, "/car/commands", carTok, nil)
	require.Equal(t, http.StatusOK, code)
	kinds := map[string]bool{}
	for _, c := range body["commands"].([]any) {
		kinds[c.(map[string]any)["kind"].(string)] = true
	}
	assert.True(t, kinds[string(models.CommandLock)])

	code, body = h.do(http.MethodGet, "/rentals/me", riderTok, nil)
	require.Equal(t, http.StatusOK, code)
	rentals := body["rentals"].([]any)
	require.Len(t, rentals, 1)
	assert.Equal(t, string(models.RentalEnded), rentals[0].(map[string]any)["status"])
}

func TestStartRentalConflictsAndDistance(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	ada := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)
	bob := h.registerAndLogin("Bob", "bob@example.com", 47.156, 27.590)
	far := h.registerAndLogin("Cleo", "cleo@example.com", 47.30, 27.590)

	code, _ := h.do(http.MethodPost, "/rentals/start", far, map[string]any{"vin": "VIN-001"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodPost, "/rentals/start", ada, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(http.MethodPost, "/rentals/start", bob, map[string]any{"vin": "VIN-001"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "car is not available", body["error"])

	code, _ = h.do(http.MethodPost, "/rentals/start", ada, map[string]any{"vin": "VIN-404"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEndRentalSafetyPredicate(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	tok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)

	code, _ := h.do(http.MethodPost, "/rentals/start", tok, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusOK, code)

	// Lab hook: leave the doors open and the engine running.
	code, _ = h.do(http.MethodPatch, "/cars/VIN-001/telematics", "", map[string]any{
		"doors_closed": false, "engine_off": false,
	})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(http.MethodPost, "/rentals/end", tok, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	issues := body["issues"].([]any)
	assert.Equal(t, []any{"doors_open", "engine_on"}, issues)

	// Fix the car; ending now succeeds.
	code, _ = h.do(http.MethodPatch, "/cars/VIN-001/telematics", "", map[string]any{
		"doors_closed": true, "engine_off": true,
	})
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodPost, "/rentals/end", tok, map[string]any{"vin": "VIN-001"})
	assert.Equal(t, http.StatusOK, code)
}

func TestEndWithoutActiveRental(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	tok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)

	code, body := h.do(http.MethodPost, "/rentals/end", tok, map[string]any{"vin": "VIN-001"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no active rental for this car", body["error"])
}

func TestCarHeartbeat(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	carTok := h.connectCar("VIN-001")

	code, body := h.do(http.MethodPost, "/car/heartbeat", carTok, map[string]any{
		"battery_pct": 63, "lights_off": false,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "VIN-001", body["vin"])
	assert.Zero(t, body["pending_commands"])
	car := body["car"].(map[string]any)
	assert.EqualValues(t, 63, car["battery_pct"])
}

func TestCarRegisterRejectsBadKey(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)

	code, _ := h.do(http.MethodPost, "/car/register", "", map[string]any{"vin": "VIN-001", "api_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMyLogs(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)
	tok := h.registerAndLogin("Ada", "ada@example.com", 47.156, 27.590)
	code, _ := h.do(http.MethodPost, "/rentals/start", tok, map[string]any{"vin": "VIN-001"})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(http.MethodGet, "/logs", tok, nil)
	require.Equal(t, http.StatusOK, code)
	logs := body["logs"].([]any)
	require.NotEmpty(t, logs)
	actions := map[string]bool{}
	for _, e := range logs {
		actions[e.(map[string]any)["action"].(string)] = true
	}
	assert.True(t, actions["client.register"])
	assert.True(t, actions["client.login"])
	assert.True(t, actions["rental.start"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	h.seedCar("VIN-001", 47.156, 27.590)

	code, body := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["cars"])
}
