package httpapi

import (
	"net/http"

	"credit_pool/internal/utils"
)

// handleListPricing handles GET /v1/pricing
func (d *Dependencies) handleListPricing(w http.ResponseWriter, r *http.Request) {
	rows, err := d.Store.ListPricing(r.Context(), true)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models": rows,
		"count":  len(rows),
	})
}

// handleGetPricing handles GET /v1/pricing/{model}
func (d *Dependencies) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	pricing, err := d.Store.GetPricing(r.Context(), r.PathValue("model"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, pricing)
}
