package handlers

import (
	"net/http"

	"carshare/internal/store"
)

func Health(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, cars, err := st.Counts(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": clients,
			"cars":    cars,
		})
	}
}
