// Package service is the thin operational surface over the mail
// engine. It keeps the platform's endpoint semantics callable (trigger
// sync, send, list, flag and folder updates) without owning any HTTP
// routing or authentication.
package service

import (
	"context"

	"github.com/taumail/mailsync/internal/model"
	"github.com/taumail/mailsync/internal/sender"
	"github.com/taumail/mailsync/internal/store"
	"github.com/taumail/mailsync/internal/syncer"
)

// Service exposes the engine's operations for one deployment.
type Service struct {
	orchestrator *syncer.Orchestrator
	sender       *sender.Sender
	store        store.EnvelopeStore
}

// New creates a Service.
func New(
	orchestrator *syncer.Orchestrator,
	snd *sender.Sender,
	st store.EnvelopeStore,
) *Service {
	return &Service{
		orchestrator: orchestrator,
		sender:       snd,
		store:        st,
	}
}

// SyncResponse reports how many envelopes a sync run persisted.
type SyncResponse struct {
	Triggered int `json:"triggered"`
}

// TriggerSync runs one sync for the user's folder.
func (s *Service) TriggerSync(
	ctx context.Context,
	userID string,
	folder model.Folder,
) (*SyncResponse, error) {
	res, err := s.orchestrator.Sync(ctx, userID, folder)
	if err != nil {
		return nil, err
	}
	return &SyncResponse{Triggered: res.Persisted}, nil
}

// SendResponse reports the message ID of an accepted outbound message.
type SendResponse struct {
	MessageID string `json:"messageId"`
}

// Send composes, transmits, and records an outbound message.
func (s *Service) Send(
	ctx context.Context,
	userID string,
	msg model.OutgoingMessage,
) (*SendResponse, error) {
	res, err := s.sender.Send(ctx, userID, msg)
	if err != nil {
		return nil, err
	}
	return &SendResponse{MessageID: res.MessageID}, nil
}

// ListRequest selects a page of envelopes. Page numbering starts at 1.
type ListRequest struct {
	Folder   model.Folder
	Page     int
	PageSize int
	Search   string
}

// ListResponse is one page of envelopes plus pagination info.
type ListResponse struct {
	Envelopes []model.Envelope
	Page      int
	PageSize  int
	Total     int
}

// ListEnvelopes returns a paginated folder listing with optional
// case-insensitive search over subject, body, and sender.
func (s *Service) ListEnvelopes(
	ctx context.Context,
	userID string,
	req ListRequest,
) (*ListResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	envelopes, err := s.store.ListEnvelopes(ctx, userID, store.ListOptions{
		Folder: req.Folder,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
		Search: req.Search,
	})
	if err != nil {
		return nil, err
	}

	// The total spans the same filtered set the page came from, so
	// search results report their own page math.
	total, err := s.store.CountEnvelopes(ctx, userID, store.ListOptions{
		Folder: req.Folder,
		Search: req.Search,
	})
	if err != nil {
		return nil, err
	}

	return &ListResponse{
		Envelopes: envelopes,
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
	}, nil
}

// ListFolders returns the user's folders with total and unread
// counts. Standard folders are always listed, even when empty.
func (s *Service) ListFolders(
	ctx context.Context,
	userID string,
) ([]store.FolderCount, error) {
	return s.store.FolderCounts(ctx, userID)
}

// GetEnvelope returns one envelope and marks it read, matching the
// open-message behavior of the mail clients.
func (s *Service) GetEnvelope(
	ctx context.Context,
	userID, id string,
) (*model.Envelope, error) {
	env, err := s.store.GetEnvelope(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if !env.IsRead {
		isRead := true
		if err := s.store.UpdateFlags(ctx, userID, id, store.FlagUpdate{
			IsRead: &isRead,
		}); err != nil {
			return nil, err
		}
		env.IsRead = true
	}

	return env, nil
}

// UpdateFlags applies partial read/starred updates.
func (s *Service) UpdateFlags(
	ctx context.Context,
	userID, id string,
	update store.FlagUpdate,
) error {
	return s.store.UpdateFlags(ctx, userID, id, update)
}

// MoveFolder reclassifies an envelope into another folder.
func (s *Service) MoveFolder(
	ctx context.Context,
	userID, id string,
	folder model.Folder,
) error {
	return s.store.MoveFolder(ctx, userID, id, folder)
}

// MoveToTrash is the delete operation: envelopes are never physically
// removed, only reclassified.
func (s *Service) MoveToTrash(
	ctx context.Context,
	userID, id string,
) error {
	return s.store.MoveFolder(ctx, userID, id, model.FolderTrash)
}
