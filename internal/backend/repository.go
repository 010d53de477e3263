// Package backend is the durable store and realtime relay the console talks
// to: a chi REST surface over Postgres plus a websocket hub speaking the
// shared envelope vocabulary.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoaqhienn/admin-tech-home-sub000/internal/logger"
	"github.com/hoaqhienn/admin-tech-home-sub000/internal/model"
)

var ErrNotFound = errors.New("backend: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserForToken resolves a bearer token to a user ID. Empty when unknown.
func (r *Repository) UserForToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token = $1`, token,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repo.UserForToken: %w", err)
	}
	return userID, nil
}

// RoomsForMember returns the rooms the member belongs to, members included.
func (r *Repository) RoomsForMember(ctx context.Context, memberID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("repo.RoomsForMember", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.display_name, r.kind
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.member_id = $1
		 ORDER BY r.created_at`, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo.RoomsForMember query: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		var room model.Room
		if err := rows.Scan(&room.ID, &room.DisplayName, &room.Kind); err != nil {
			return nil, fmt.Errorf("repo.RoomsForMember scan: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.RoomsForMember rows: %w", err)
	}

	for i := range rooms {
		members, err := r.RoomMembers(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].Members = members
	}
	return rooms, nil
}

func (r *Repository) RoomMembers(ctx context.Context, roomID string) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT member_id, display_name FROM room_members WHERE room_id = $1 ORDER BY joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo.RoomMembers query: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("repo.RoomMembers scan: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsMember reports whether memberID belongs to roomID.
func (r *Repository) IsMember(ctx context.Context, roomID, memberID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND member_id = $2)`,
		roomID, memberID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("repo.IsMember: %w", err)
	}
	return ok, nil
}

// AddMember is idempotent: re-adding an existing member only refreshes the name.
func (r *Repository) AddMember(ctx context.Context, roomID, memberID, displayName string) error {
	defer logger.DeferLogDuration("repo.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, member_id, display_name, joined_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (room_id, member_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		roomID, memberID, displayName,
	)
	if err != nil {
		return fmt.Errorf("repo.AddMember: %w", err)
	}
	return nil
}

func (r *Repository) RemoveMember(ctx context.Context, roomID, memberID string) error {
	defer logger.DeferLogDuration("repo.RemoveMember", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND member_id = $2`, roomID, memberID,
	)
	if err != nil {
		return fmt.Errorf("repo.RemoveMember: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Messages returns a page of the room's history, oldest first, attachments
// included.
func (r *Repository) Messages(ctx context.Context, roomID string, offset, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("repo.Messages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, sender_id, content, client_temp_id, created_at
		 FROM messages
		 WHERE room_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("repo.Messages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.ClientTempID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo.Messages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.Messages rows: %w", err)
	}

	for i := range messages {
		atts, err := r.attachments(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = atts
	}
	return messages, nil
}

func (r *Repository) attachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT file_name, mime_type, category, size_bytes, url
		 FROM attachments WHERE message_id = $1 ORDER BY id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("repo.attachments query: %w", err)
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.FileName, &a.MIMEType, &a.Category, &a.SizeBytes, &a.URL); err != nil {
			return nil, fmt.Errorf("repo.attachments scan: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// CreateMessage persists the message and its attachments in one transaction.
func (r *Repository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("repo.CreateMessage", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repo.CreateMessage begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, client_temp_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.ClientTempID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo.CreateMessage insert: %w", err)
	}
	for _, a := range m.Attachments {
		_, err = tx.Exec(ctx,
			`INSERT INTO attachments (message_id, file_name, mime_type, category, size_bytes, url)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, a.FileName, a.MIMEType, a.Category, a.SizeBytes, a.URL,
		)
		if err != nil {
			return fmt.Errorf("repo.CreateMessage attachment: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repo.CreateMessage commit: %w", err)
	}
	return nil
}

// DeleteMessage soft-deletes; only the sender may delete their own message.
func (r *Repository) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	defer logger.DeferLogDuration("repo.DeleteMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = now()
		 WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL`,
		messageID, senderID,
	)
	if err != nil {
		return fmt.Errorf("repo.DeleteMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
