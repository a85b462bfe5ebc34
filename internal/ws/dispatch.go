package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carshare/internal/apperr"
	"carshare/internal/auth"
	"carshare/internal/fleet"
	"carshare/internal/protocol"
)

func (h *Hub) dispatch(ctx context.Context, c *conn, env protocol.Envelope, payload any) {
	switch p := payload.(type) {
	case *protocol.RegisterClientPayload:
		h.handleRegister(ctx, c, env, p)
	case *protocol.QueryCarsPayload:
		h.handleQueryCars(ctx, c, env, p)
	case *protocol.StartRentalPayload:
		h.handleStartRental(ctx, c, env, p)
	case *protocol.EndRentalPayload:
		h.handleEndRental(ctx, c, env, p)
	case *protocol.CarConnectPayload:
		h.handleCarConnect(ctx, c, env, p)
	case *protocol.CarStateResponsePayload:
		h.handleCarStateResponse(ctx, c, env, p)
	default:
		h.sendNotify(c, fmt.Sprintf("unsupported message type %s", env.Type), &env.MessageID)
	}
}

// errorPayload converts a service failure into the *_ERROR payload shape.
func errorPayload(err error) protocol.ErrorPayload {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return protocol.ErrorPayload{Reason: ae.Message, Issues: ae.Issues}
	}
	return protocol.ErrorPayload{Reason: "internal error"}
}

func (h *Hub) handleRegister(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.RegisterClientPayload) {
	h.mu.Lock()
	h.riders[env.ClientID] = c
	h.mu.Unlock()

	profile := auth.Profile{
		Name:          p.FullName,
		Email:         p.Email,
		DriverLicense: p.DrivingLicenseNumber,
		PaymentMethod: p.PaymentToken,
		PIN:           p.PIN,
		Age:           p.Age,
		Lat:           p.Location.Lat,
		Lon:           p.Location.Lon,
	}
	if p.LicenseValidUntil != "" {
		if t, err := parseDate(p.LicenseValidUntil); err == nil {
			profile.LicenseValidUntil = &t
		} else {
			h.reply(c, protocol.TypeRegisterClientError, protocol.ErrorPayload{Reason: "invalid licenseValidUntil"}, env.MessageID)
			return
		}
	}

	client, err := h.auth.Register(ctx, profile)
	if err != nil {
		h.reply(c, protocol.TypeRegisterClientError, errorPayload(err), env.MessageID)
		return
	}

	h.mu.Lock()
	h.riderClients[env.ClientID] = client.ID
	h.clientRiders[client.ID] = env.ClientID
	h.mu.Unlock()

	h.reply(c, protocol.TypeRegisterClientOK, map[string]any{"user": client}, env.MessageID)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// riderID resolves the connection's registered client record, registering
// the conn for pushes as a side effect.
func (h *Hub) riderID(c *conn, envClientID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.riders[envClientID] = c
	id, ok := h.riderClients[envClientID]
	return id, ok
}

func (h *Hub) handleQueryCars(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.QueryCarsPayload) {
	clientID, ok := h.riderID(c, env.ClientID)
	if !ok {
		h.reply(c, protocol.TypeQueryCarsResult, map[string]any{"cars": []any{}, "error": "client not registered"}, env.MessageID)
		return
	}
	if p.Location != nil {
		if err := h.auth.UpdateLocation(ctx, clientID, p.Location.Lat, p.Location.Lon); err != nil {
			h.lg.Warnw("location update failed", "client_id", clientID, "error", err)
		}
	}
	client, err := h.auth.Me(ctx, clientID)
	if err != nil {
		h.reply(c, protocol.TypeQueryCarsResult, map[string]any{"cars": []any{}, "error": "client not registered"}, env.MessageID)
		return
	}
	cars, err := h.fleet.ListAvailable(ctx, client.Lat, client.Lon)
	if err != nil {
		h.reply(c, protocol.TypeQueryCarsResult, map[string]any{"cars": []any{}, "error": "internal error"}, env.MessageID)
		return
	}
	h.reply(c, protocol.TypeQueryCarsResult, map[string]any{"cars": cars}, env.MessageID)
}

func (h *Hub) handleStartRental(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.StartRentalPayload) {
	clientID, ok := h.riderID(c, env.ClientID)
	if !ok {
		h.reply(c, protocol.TypeStartRentalError, protocol.ErrorPayload{Reason: "client not registered"}, env.MessageID)
		return
	}
	rent, car, err := h.rental.Start(ctx, clientID, p.VIN)
	if err != nil {
		h.reply(c, protocol.TypeStartRentalError, errorPayload(err), env.MessageID)
		return
	}
	h.reply(c, protocol.TypeStartRentalOK, map[string]any{"rental": rent, "car": car}, env.MessageID)
}

func (h *Hub) handleEndRental(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.EndRentalPayload) {
	clientID, ok := h.riderID(c, env.ClientID)
	if !ok {
		h.reply(c, protocol.TypeEndRentalError, protocol.ErrorPayload{Reason: "client not registered"}, env.MessageID)
		return
	}
	rent, car, err := h.rental.End(ctx, clientID, p.VIN)
	if err != nil {
		h.reply(c, protocol.TypeEndRentalError, errorPayload(err), env.MessageID)
		return
	}
	h.reply(c, protocol.TypeEndRentalOK, map[string]any{"rental": rent, "car": car}, env.MessageID)
}

func (h *Hub) handleCarConnect(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.CarConnectPayload) {
	token, err := h.auth.RegisterCar(ctx, p.VIN, p.APIKey)
	if err != nil {
		h.reply(c, protocol.TypeRegisterClientError, errorPayload(err), env.MessageID)
		return
	}
	h.mu.Lock()
	h.cars[p.VIN] = c
	h.mu.Unlock()
	if err := h.fleet.SetTelematicsClient(ctx, p.VIN, &env.ClientID); err != nil {
		h.lg.Warnw("telematics client binding failed", "vin", p.VIN, "error", err)
	}
	h.reply(c, protocol.TypeRegisterClientOK, map[string]any{
		"message":  fmt.Sprintf("Car %s connected", p.VIN),
		"carToken": token,
	}, env.MessageID)

	// Deliver anything that queued up while the car was offline.
	if pending, err := h.commands.Poll(ctx, p.VIN); err == nil {
		for _, cmd := range pending {
			h.DispatchCommand(cmd)
		}
	}
}

func telematicsFromState(p *protocol.CarStateResponsePayload) fleet.TelematicsUpdate {
	locked, doors, lights, engine := p.Locked, p.DoorsClosed, p.LightsOff, p.EngineOff
	return fleet.TelematicsUpdate{
		Locked:      &locked,
		DoorsClosed: &doors,
		LightsOff:   &lights,
		EngineOff:   &engine,
	}
}

func (h *Hub) handleCarStateResponse(ctx context.Context, c *conn, env protocol.Envelope, p *protocol.CarStateResponsePayload) {
	h.mu.Lock()
	registered := h.cars[p.VIN] == c
	h.mu.Unlock()
	if !registered {
		h.sendNotify(c, "car not connected", &env.MessageID)
		return
	}
	upd := telematicsFromState(p)
	if _, err := h.fleet.ApplyTelematics(ctx, p.VIN, upd); err != nil {
		h.lg.Warnw("state response apply failed", "vin", p.VIN, "error", err)
		return
	}
	// The pushed CAR_STATE_QUERY carried the command id as its MessageID;
	// a correlated response resolves that command.
	if env.CorrelationID != nil {
		if _, err := h.commands.Ack(ctx, p.VIN, *env.CorrelationID, true, "state report"); err != nil {
			h.lg.Debugw("state response ack skipped", "vin", p.VIN, "error", err)
		}
	}
}
