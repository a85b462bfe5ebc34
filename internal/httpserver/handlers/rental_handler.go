package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/auth"
	"carshare/internal/rental"
)

type rentalReq struct {
	VIN string `json:"vin"`
}

func StartRental(svc *rental.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rentalReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if req.VIN == "" {
			respondError(w, apperr.Validationf("missing fields: vin"))
			return
		}
		rent, car, err := svc.Start(r.Context(), auth.ClientID(r.Context()), req.VIN)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "Rental started",
			"rental":  rent,
			"car":     car,
		})
	}
}

func EndRental(svc *rental.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rentalReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if req.VIN == "" {
			respondError(w, apperr.Validationf("missing fields: vin"))
			return
		}
		rent, car, err := svc.End(r.Context(), auth.ClientID(r.Context()), req.VIN)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "Rental ended and car locked",
			"rental":  rent,
			"car":     car,
		})
	}
}

func MyRentals(svc *rental.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rentals, err := svc.HistoryFor(r.Context(), auth.ClientID(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"rentals": rentals})
	}
}
