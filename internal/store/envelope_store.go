package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taumail/mailsync/internal/model"
)

// envelopeRow is the database representation of a model.Envelope.
// Multi-valued fields are stored as JSON text columns.
type envelopeRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	MessageID   sql.NullString `db:"message_id"`
	FromEmail   string         `db:"from_email"`
	ToEmails    string         `db:"to_emails"`
	Subject     string         `db:"subject"`
	BodyText    string         `db:"body_text"`
	BodyHTML    string         `db:"body_html"`
	Folder      string         `db:"folder"`
	IsRead      bool           `db:"is_read"`
	IsStarred   bool           `db:"is_starred"`
	ReceivedAt  time.Time      `db:"received_at"`
	Headers     string         `db:"headers"`
	Attachments string         `db:"attachments"`
}

// UpsertEnvelope inserts env for userID. A uniqueness conflict on a
// non-empty message ID is treated as a confirmed no-op success, which
// is what makes re-syncs and concurrent retries idempotent: the
// storage engine's own constraint serializes conflicting writers and
// exactly one insert survives.
func (s *SQLiteStore) UpsertEnvelope(
	ctx context.Context,
	env model.Envelope,
	userID string,
) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("upserting envelope: owner user id must not be empty")
	}

	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Folder == "" {
		env.Folder = model.FolderInbox
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now()
	}

	// An empty message ID is stored as NULL so that identity-less
	// envelopes never collide with each other.
	var messageID sql.NullString
	if env.MessageID != "" {
		messageID = sql.NullString{String: env.MessageID, Valid: true}
	}

	toEmails, err := json.Marshal(env.To)
	if err != nil {
		return false, fmt.Errorf("marshaling recipients: %w", err)
	}
	headers, err := json.Marshal(env.Headers)
	if err != nil {
		return false, fmt.Errorf("marshaling headers: %w", err)
	}
	attachments, err := json.Marshal(env.Attachments)
	if err != nil {
		return false, fmt.Errorf("marshaling attachments: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO envelopes (
			id, user_id, message_id,
			from_email, to_emails, subject,
			body_text, body_html,
			folder, is_read, is_starred,
			received_at, headers, attachments
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`,
		env.ID, userID, messageID,
		env.From, string(toEmails), env.Subject,
		env.BodyText, env.BodyHTML,
		string(env.Folder), env.IsRead, env.IsStarred,
		env.ReceivedAt.UTC(), string(headers), string(attachments),
	)
	if err != nil {
		return false, fmt.Errorf("upserting envelope %s: %w", env.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking upsert result: %w", err)
	}

	return n > 0, nil
}

// ListEnvelopes returns a page of the user's envelopes in the given
// folder, newest first. Search is a case-insensitive substring match
// over subject, text body, and sender.
func (s *SQLiteStore) ListEnvelopes(
	ctx context.Context,
	userID string,
	opts ListOptions,
) ([]model.Envelope, error) {
	where, args := listConditions(userID, opts)
	query := "SELECT * FROM envelopes WHERE " + where +
		" ORDER BY received_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	var rows []envelopeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing envelopes: %w", err)
	}

	envelopes := make([]model.Envelope, 0, len(rows))
	for _, row := range rows {
		env, err := rowToEnvelope(row)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}

	return envelopes, nil
}

// CountEnvelopes returns the number of envelopes a listing with the
// same options spans. The search filter applies; limit and offset do
// not.
func (s *SQLiteStore) CountEnvelopes(
	ctx context.Context,
	userID string,
	opts ListOptions,
) (int, error) {
	where, args := listConditions(userID, opts)

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM envelopes WHERE "+where, args...,
	)
	if err != nil {
		return 0, fmt.Errorf("counting envelopes: %w", err)
	}
	return count, nil
}

// FolderCounts tallies the user's envelopes per folder. The standard
// folders always appear so clients can render an empty mailbox.
func (s *SQLiteStore) FolderCounts(
	ctx context.Context,
	userID string,
) ([]FolderCount, error) {
	var rows []FolderCount
	err := s.db.SelectContext(ctx, &rows, `
		SELECT folder,
		       COUNT(*) AS total,
		       SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END) AS unread
		FROM envelopes
		WHERE user_id = ?
		GROUP BY folder
		ORDER BY folder`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting folders: %w", err)
	}

	present := make(map[model.Folder]bool, len(rows))
	for _, row := range rows {
		present[row.Folder] = true
	}
	for _, folder := range []model.Folder{
		model.FolderInbox, model.FolderSent, model.FolderTrash,
	} {
		if !present[folder] {
			rows = append(rows, FolderCount{Folder: folder})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Folder < rows[j].Folder
	})

	return rows, nil
}

// listConditions builds the WHERE clause shared by listing and
// counting so both always agree on which rows are in scope.
func listConditions(userID string, opts ListOptions) (string, []interface{}) {
	folder := opts.Folder
	if folder == "" {
		folder = model.FolderInbox
	}

	conditions := []string{"user_id = ?", "folder = ?"}
	args := []interface{}{userID, string(folder)}

	if opts.Search != "" {
		conditions = append(conditions,
			"(LOWER(subject) LIKE ? OR LOWER(body_text) LIKE ? OR LOWER(from_email) LIKE ?)")
		q := "%" + strings.ToLower(opts.Search) + "%"
		args = append(args, q, q, q)
	}

	return strings.Join(conditions, " AND "), args
}

// GetEnvelope retrieves a single envelope by ID, scoped to its owner.
func (s *SQLiteStore) GetEnvelope(
	ctx context.Context,
	userID, id string,
) (*model.Envelope, error) {
	var row envelopeRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM envelopes WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting envelope %s: %w", id, err)
	}

	env, err := rowToEnvelope(row)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// UpdateFlags applies partial read/starred updates to one envelope.
func (s *SQLiteStore) UpdateFlags(
	ctx context.Context,
	userID, id string,
	update FlagUpdate,
) error {
	var sets []string
	var args []interface{}

	if update.IsRead != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, *update.IsRead)
	}
	if update.IsStarred != nil {
		sets = append(sets, "is_starred = ?")
		args = append(args, *update.IsStarred)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id, userID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE envelopes SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating flags for envelope %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking flag update result: %w", err)
	}
	if n == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

// MoveFolder reclassifies an envelope into the given folder. Trash is
// just another folder; nothing is physically deleted.
func (s *SQLiteStore) MoveFolder(
	ctx context.Context,
	userID, id string,
	folder model.Folder,
) error {
	if folder == "" {
		return fmt.Errorf("moving envelope %s: folder must not be empty", id)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE envelopes SET folder = ? WHERE id = ? AND user_id = ?",
		string(folder), id, userID,
	)
	if err != nil {
		return fmt.Errorf("moving envelope %s to %s: %w", id, folder, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking move result: %w", err)
	}
	if n == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

// rowToEnvelope converts a database row back into a model.Envelope.
func rowToEnvelope(row envelopeRow) (model.Envelope, error) {
	env := model.Envelope{
		ID:         row.ID,
		UserID:     row.UserID,
		From:       row.FromEmail,
		Subject:    row.Subject,
		BodyText:   row.BodyText,
		BodyHTML:   row.BodyHTML,
		Folder:     model.Folder(row.Folder),
		IsRead:     row.IsRead,
		IsStarred:  row.IsStarred,
		ReceivedAt: row.ReceivedAt,
	}
	if row.MessageID.Valid {
		env.MessageID = row.MessageID.String
	}

	if row.ToEmails != "" {
		if err := json.Unmarshal([]byte(row.ToEmails), &env.To); err != nil {
			return model.Envelope{}, fmt.Errorf("unmarshaling recipients for %s: %w", row.ID, err)
		}
	}
	if row.Headers != "" {
		if err := json.Unmarshal([]byte(row.Headers), &env.Headers); err != nil {
			return model.Envelope{}, fmt.Errorf("unmarshaling headers for %s: %w", row.ID, err)
		}
	}
	if row.Attachments != "" {
		if err := json.Unmarshal([]byte(row.Attachments), &env.Attachments); err != nil {
			return model.Envelope{}, fmt.Errorf("unmarshaling attachments for %s: %w", row.ID, err)
		}
	}

	return env, nil
}
