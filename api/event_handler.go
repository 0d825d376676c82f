package api

import (
	"net/http"

	"github.com/xraph/pendulum/engine"
)

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := a.eng.CreateEvent(r.Context(), req)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondReceipt(w, receipt)
}

func (a *API) updateEvent(w http.ResponseWriter, r *http.Request) {
	var req engine.UpdateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := a.eng.UpdateEvent(r.Context(), req)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondReceipt(w, receipt)
}

func (a *API) deleteEvent(w http.ResponseWriter, r *http.Request) {
	var req engine.DeleteEventRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := a.eng.DeleteEvent(r.Context(), req)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondReceipt(w, receipt)
}

func (a *API) bulkDeleteEvents(w http.ResponseWriter, r *http.Request) {
	var req engine.BulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := a.eng.BulkDeleteEvents(r.Context(), req)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondReceipt(w, receipt)
}
