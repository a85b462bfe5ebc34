package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/models"
	"carshare/internal/protocol"
	"carshare/internal/rental"
	"carshare/internal/store"
	"carshare/internal/ws"
)

const apiKey = "car-lab-key"

func newServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	lg := zap.NewNop().Sugar()
	authSvc := auth.NewService(st, lg, "test-secret", time.Hour, apiKey)
	fleetSvc := fleet.NewService(st, lg)
	cmdSvc := command.NewService(st, fleetSvc, lg)
	rentalSvc := rental.NewService(st, cmdSvc, lg, 2.0)
	hub := ws.NewHub(authSvc, fleetSvc, rentalSvc, cmdSvc, lg)
	cmdSvc.SetDispatcher(hub)
	rentalSvc.SetNotifier(hub)

	require.NoError(t, st.CreateCar(context.Background(), &models.Car{
		VIN: "VIN-001", Model: "Hatchback", Status: models.CarStatusAvailable,
		Locked: true, DoorsClosed: true, LightsOff: true, EngineOff: true,
		Lat: 47.156, Lon: 27.590, BatteryPct: 100,
	}))

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, clientID, msgType string, payload any) string {
	t.Helper()
	env, err := protocol.Build(msgType, payload, protocol.WithSender(clientID))
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(env))
	return env.MessageID
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, c *websocket.Conn, msgType string) protocol.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env protocol.Envelope
		require.NoError(t, c.ReadJSON(&env), "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

func registerRider(t *testing.T, c *websocket.Conn, riderID, email string) {
	t.Helper()
	msgID := send(t, c, riderID, protocol.TypeRegisterClient, protocol.RegisterClientPayload{
		FullName:             "Ada",
		Email:                email,
		DrivingLicenseNumber: "B-12345",
		PaymentToken:         "visa-4242",
		PIN:                  "1234",
		Location:             protocol.Location{Lat: 47.156, Lon: 27.590},
	})
	env := readUntil(t, c, protocol.TypeRegisterClientOK)
	require.NotNil(t, env.CorrelationID)
	assert.Equal(t, msgID, *env.CorrelationID)
}

func connectCar(t *testing.T, c *websocket.Conn, carID, vin string) {
	t.Helper()
	send(t, c, carID, protocol.TypeCarConnect, protocol.CarConnectPayload{VIN: vin, APIKey: apiKey})
	env := readUntil(t, c, protocol.TypeRegisterClientOK)
	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.NotEmpty(t, body["carToken"])
}

func TestRegisterAndQueryCars(t *testing.T) {
	srv, _ := newServer(t)
	rider := dial(t, srv)
	registerRider(t, rider, "rider-1", "ada@example.com")

	msgID := send(t, rider, "rider-1", protocol.TypeQueryCars, protocol.QueryCarsPayload{})
	env := readUntil(t, rider, protocol.TypeQueryCarsResult)
	require.NotNil(t, env.CorrelationID)
	assert.Equal(t, msgID, *env.CorrelationID)

	var body struct {
		Cars []fleet.CarWithDistance `json:"cars"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	require.Len(t, body.Cars, 1)
	assert.Equal(t, "VIN-001", body.Cars[0].VIN)
	assert.Zero(t, body.Cars[0].DistanceKm)
}

func TestQueryCarsUnregistered(t *testing.T) {
	srv, _ := newServer(t)
	rider := dial(t, srv)

	send(t, rider, "stranger", protocol.TypeQueryCars, protocol.QueryCarsPayload{})
	env := readUntil(t, rider, protocol.TypeQueryCarsResult)
	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, "client not registered", body["error"])
}

func TestRentalOverChannelPushesCommands(t *testing.T) {
	srv, st := newServer(t)
	car := dial(t, srv)
	connectCar(t, car, "car-1", "VIN-001")
	rider := dial(t, srv)
	registerRider(t, rider, "rider-1", "ada@example.com")

	send(t, rider, "rider-1", protocol.TypeStartRental, protocol.StartRentalPayload{VIN: "VIN-001"})
	okEnv := readUntil(t, rider, protocol.TypeStartRentalOK)
	var okBody struct {
		Rental models.Rental `json:"rental"`
		Car    models.Car    `json:"car"`
	}
	require.NoError(t, json.Unmarshal(okEnv.Payload, &okBody))
	assert.Equal(t, models.CarStatusRented, okBody.Car.Status)

	// The rider also gets the unlock NOTIFY.
	notify := readUntil(t, rider, protocol.TypeNotify)
	var np protocol.NotifyPayload
	require.NoError(t, json.Unmarshal(notify.Payload, &np))
	assert.Contains(t, np.Message, "unlocked")

	// The telematics conn receives the pushed CAR_UNLOCK; its MessageID is
	// the command id, so a correlated state response acks it.
	unlock := readUntil(t, car, protocol.TypeCarUnlock)
	env, err := protocol.Build(protocol.TypeCarStateResponse, protocol.CarStateResponsePayload{
		VIN: "VIN-001", Locked: false, DoorsClosed: true, LightsOff: true, EngineOff: true,
	}, protocol.WithSender("car-1"), protocol.WithCorrelation(unlock.MessageID))
	require.NoError(t, err)
	require.NoError(t, car.WriteJSON(env))

	require.Eventually(t, func() bool {
		cmd, err := st.CommandByID(context.Background(), unlock.MessageID)
		return err == nil && cmd.Status == models.CommandAcked
	}, 5*time.Second, 20*time.Millisecond)

	got, err := st.CarByVIN(context.Background(), "VIN-001")
	require.NoError(t, err)
	assert.False(t, got.Locked)
}

func TestEndRentalErrorCarriesIssues(t *testing.T) {
	srv, st := newServer(t)
	rider := dial(t, srv)
	registerRider(t, rider, "rider-1", "ada@example.com")

	send(t, rider, "rider-1", protocol.TypeStartRental, protocol.StartRentalPayload{VIN: "VIN-001"})
	readUntil(t, rider, protocol.TypeStartRentalOK)

	_, err := st.MutateCar(context.Background(), "VIN-001", func(c *models.Car) error {
		c.DoorsClosed = false
		return nil
	})
	require.NoError(t, err)

	send(t, rider, "rider-1", protocol.TypeEndRental, protocol.EndRentalPayload{VIN: "VIN-001"})
	env := readUntil(t, rider, protocol.TypeEndRentalError)
	var ep protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Equal(t, "car is not in a safe state", ep.Reason)
	assert.Equal(t, []string{"doors_open"}, ep.Issues)
}

func TestCarConnectBadKey(t *testing.T) {
	srv, _ := newServer(t)
	car := dial(t, srv)

	send(t, car, "car-1", protocol.TypeCarConnect, protocol.CarConnectPayload{VIN: "VIN-001", APIKey: "wrong"})
	env := readUntil(t, car, protocol.TypeRegisterClientError)
	var ep protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Equal(t, "invalid car api key", ep.Reason)
}

func TestOfflineCommandsReplayOnConnect(t *testing.T) {
	srv, st := newServer(t)
	rider := dial(t, srv)
	registerRider(t, rider, "rider-1", "ada@example.com")

	// Rental starts while no telematics client is connected; the UNLOCK
	// stays queued.
	send(t, rider, "rider-1", protocol.TypeStartRental, protocol.StartRentalPayload{VIN: "VIN-001"})
	readUntil(t, rider, protocol.TypeStartRentalOK)
	pending, err := st.PendingCommands(context.Background(), "VIN-001")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	car := dial(t, srv)
	connectCar(t, car, "car-1", "VIN-001")
	unlock := readUntil(t, car, protocol.TypeCarUnlock)
	assert.Equal(t, pending[0].ID, unlock.MessageID)
}
