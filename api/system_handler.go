package api

import (
	"net/http"
)

type triggerSyncRequest struct {
	AccountID string `json:"account_id"`
}

func (a *API) listCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := a.eng.Calendars(r.Context())
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, cals)
}

func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := a.eng.TriggerSync(r.Context(), req.AccountID); err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		a.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
