package api

import (
	"net/http"
	"strings"

	"vaxhunterbot/internal/store"
)

type SubscriptionHandler struct {
	store *store.PostgresStore
}

func NewSubscriptionHandler(s *store.PostgresStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: s}
}

// List returns subscriptions, optionally filtered by ?postal_code=M5V (comma
// separated for several codes).
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	if filter := r.URL.Query().Get("postal_code"); filter != "" {
		var codes []string
		for _, code := range strings.Split(filter, ",") {
			if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
				codes = append(codes, code)
			}
		}

		subs, err := h.store.FindSubscriptionsByPostalCodes(r.Context(), codes)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
			return
		}
		respondJSON(w, http.StatusOK, subs)
		return
	}

	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}
