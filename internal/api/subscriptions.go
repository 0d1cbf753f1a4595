package api

import (
	"net/http"
	"strings"

	"driveguard/internal/model"
	"driveguard/internal/store"
)

// SubscriptionsHandler lists or creates webhook subscriptions. Admin only.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		cursor, limit := pageParams(r)
		items, next, err := s.Store.ListSubscriptions(ctx, pr.OrgID, cursor, limit)
		if err != nil {
			storeError(w, err, "subscription")
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, page[model.Subscription]{Success: true, Items: items, NextCursor: next})
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		req.OrganizationID = pr.OrgID
		sub, err := s.Store.CreateSubscription(ctx, req)
		if err != nil {
			storeError(w, err, "subscription")
			return
		}
		sub.Secret = ""
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "subscription": sub})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	pr, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id, rest := pathID(r.URL.Path, "/api/subscriptions/")
	if id == "" || len(rest) > 0 {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), pr.OrgID, id); err != nil {
		storeError(w, err, "subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler lists delivery attempts, optionally filtered by ?status=.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	pr, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of: pending retry delivered failed")
		return
	}
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), pr.OrgID, status, cursor, limit)
	if err != nil {
		storeError(w, err, "delivery")
		return
	}
	writeJSON(w, http.StatusOK, page[store.WebhookDelivery]{Success: true, Items: items, NextCursor: next})
}
