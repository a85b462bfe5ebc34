package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"carshare/internal/auth"
	"carshare/internal/store"
)

// MyLogs returns the rider's own audit trail, newest first.
func MyLogs(st store.Store, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := st.AuditByClient(r.Context(), auth.ClientID(r.Context()), 200)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}
