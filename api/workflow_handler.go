package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/pendulum/id"
)

func (a *API) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wfID, err := id.ParseWorkflowID(chi.URLParam(r, "workflowID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid workflow id: "+err.Error())
		return
	}

	wf, err := a.eng.Workflow(r.Context(), wfID)
	if err != nil {
		a.respondMapped(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, wf)
}
