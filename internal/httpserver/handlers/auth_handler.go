package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/auth"
)

type registerReq struct {
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	DriverLicense     string  `json:"driver_license"`
	PaymentMethod     string  `json:"payment_method"`
	PIN               string  `json:"pin"`
	Age               int     `json:"age,omitempty"`
	LicenseValidUntil string  `json:"license_valid_until,omitempty"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
}

func Register(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		profile := auth.Profile{
			Name:          req.Name,
			Email:         req.Email,
			DriverLicense: req.DriverLicense,
			PaymentMethod: req.PaymentMethod,
			PIN:           req.PIN,
			Age:           req.Age,
			Lat:           req.Lat,
			Lon:           req.Lon,
		}
		if s := strings.TrimSpace(req.LicenseValidUntil); s != "" {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				respondError(w, apperr.Validationf("license_valid_until must be YYYY-MM-DD"))
				return
			}
			profile.LicenseValidUntil = &t
		}
		client, err := svc.Register(r.Context(), profile)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, client)
	}
}

type loginReq struct {
	Email string `json:"email"`
	PIN   string `json:"pin"`
}

func Login(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if req.Email == "" || req.PIN == "" {
			respondError(w, apperr.Validationf("email and pin required"))
			return
		}
		tok, client, err := svc.Login(r.Context(), req.Email, req.PIN)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"token": tok, "client": client})
	}
}

func Logout(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		raw := strings.TrimPrefix(h, "Bearer ")
		if err := svc.Logout(r.Context(), raw); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
	}
}

func Me(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := svc.Me(r.Context(), auth.ClientID(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, client)
	}
}
