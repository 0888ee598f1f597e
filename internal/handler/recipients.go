package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BRKME/LP/internal/store"
)

// RecipientStore lists and removes subscribed Telegram chats.
type RecipientStore interface {
	ListRecipients(ctx context.Context) ([]store.Recipient, error)
	RemoveRecipient(ctx context.Context, chatID int64) error
}

func ListRecipients(s RecipientStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipients, err := s.ListRecipients(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list recipients"}`, http.StatusInternalServerError)
			return
		}
		if recipients == nil {
			recipients = []store.Recipient{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recipients)
	}
}

func DeleteRecipient(s RecipientStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid chat id"}`, http.StatusBadRequest)
			return
		}

		err = s.RemoveRecipient(r.Context(), chatID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, `{"error":"recipient not found"}`, http.StatusNotFound)
		case err != nil:
			http.Error(w, `{"error":"failed to remove recipient"}`, http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
