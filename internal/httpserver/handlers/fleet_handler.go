package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/auth"
	"carshare/internal/fleet"
)

// ListCars returns available cars sorted by distance from the rider. The
// rider's stored location is used unless lat/lon query parameters override it.
func ListCars(fleetSvc *fleet.Service, authSvc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := authSvc.Me(r.Context(), auth.ClientID(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		lat, lon := client.Lat, client.Lon
		if q := r.URL.Query(); q.Get("lat") != "" || q.Get("lon") != "" {
			var perr error
			if lat, perr = strconv.ParseFloat(q.Get("lat"), 64); perr != nil {
				respondError(w, apperr.Validationf("lat must be a number"))
				return
			}
			if lon, perr = strconv.ParseFloat(q.Get("lon"), 64); perr != nil {
				respondError(w, apperr.Validationf("lon must be a number"))
				return
			}
		}
		cars, err := fleetSvc.ListAvailable(r.Context(), lat, lon)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"cars": cars, "client": client.Email})
	}
}

// UpdateTelematics is the simulated-state hook used by lab tooling to flip
// vehicle flags without a live telematics client.
func UpdateTelematics(svc *fleet.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := chi.URLParam(r, "vin")
		var upd fleet.TelematicsUpdate
		if err := decodeBody(r, &upd); err != nil {
			respondError(w, err)
			return
		}
		car, err := svc.ApplyTelematics(r.Context(), vin, upd)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, car)
	}
}
