package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/pendulum/id"
)

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job id: "+err.Error())
		return
	}

	j, err := a.eng.Job(r.Context(), jobID)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, j)
}
