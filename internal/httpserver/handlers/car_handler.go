package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/fleet"
)

type carRegisterReq struct {
	VIN    string `json:"vin"`
	APIKey string `json:"api_key"`
}

func RegisterCar(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req carRegisterReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if req.VIN == "" || req.APIKey == "" {
			respondError(w, apperr.Validationf("missing fields: vin, api_key"))
			return
		}
		token, err := svc.RegisterCar(r.Context(), req.VIN, req.APIKey)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"vin": req.VIN, "car_token": token})
	}
}

// Heartbeat applies reported telematics for the authenticated VIN and tells
// the car how many commands await it.
func Heartbeat(svc *command.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := auth.VIN(r.Context())
		var upd fleet.TelematicsUpdate
		if err := decodeBody(r, &upd); err != nil {
			respondError(w, err)
			return
		}
		car, pending, err := svc.Heartbeat(r.Context(), vin, upd)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"vin":              vin,
			"status":           "ok",
			"pending_commands": pending,
			"car":              car,
		})
	}
}

// PullCommands returns the VIN's pending commands in enqueue order. Commands
// stay pending until acked.
func PullCommands(svc *command.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := auth.VIN(r.Context())
		cmds, err := svc.Poll(r.Context(), vin)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"vin": vin, "commands": cmds})
	}
}

type ackReq struct {
	CommandID string `json:"command_id"`
	Success   *bool  `json:"success,omitempty"`
	Note      string `json:"note,omitempty"`
}

func AckCommand(svc *command.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := auth.VIN(r.Context())
		var req ackReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if req.CommandID == "" {
			respondError(w, apperr.Validationf("missing fields: command_id"))
			return
		}
		success := true
		if req.Success != nil {
			success = *req.Success
		}
		cmd, err := svc.Ack(r.Context(), vin, req.CommandID, success, req.Note)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"vin": vin, "command": cmd})
	}
}
