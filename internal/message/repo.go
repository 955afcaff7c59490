package message

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a message does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("message not found")

// Repo handles database operations for direct messages.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepo creates a new message repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

const selectMessage = `
	SELECT m.id, m.sender_id, m.receiver_id,
	       COALESCE(NULLIF(us.name, ''), us.email, '') AS sender_name,
	       COALESCE(NULLIF(ur.name, ''), ur.email, '') AS receiver_name,
	       m.content, m.is_read, m.created_at
	FROM direct_messages m
	LEFT JOIN users us ON us.id = m.sender_id
	LEFT JOIN users ur ON ur.id = m.receiver_id`

// ListForUser returns every message the user sent or received, oldest first.
func (r *Repo) ListForUser(userID int64) ([]Message, error) {
	rows, err := r.db.Query(selectMessage+`
		WHERE m.sender_id = ? OR m.receiver_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages for user %d: %w", userID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// Get returns a single message by id.
func (r *Repo) Get(id int64) (*Message, error) {
	msg, err := scanMessage(r.db.QueryRow(selectMessage+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, nil
}

// Post stores a new message and returns it as persisted.
func (r *Repo) Post(senderID, recipientID int64, content string) (*Message, error) {
	result, err := r.db.Exec(`
		INSERT INTO direct_messages (sender_id, receiver_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, senderID, recipientID, content, r.now().UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}
	return r.Get(id)
}

// MarkRead sets the read flag on a message addressed to recipientID.
func (r *Repo) MarkRead(id, recipientID int64, read bool) (*Message, error) {
	res, err := r.db.Exec(`
		UPDATE direct_messages SET is_read = ? WHERE id = ? AND receiver_id = ?
	`, read, id, recipientID)
	if err != nil {
		return nil, fmt.Errorf("mark message %d read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("read rows affected for message %d: %w", id, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg       Message
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID,
		&msg.SenderName, &msg.RecipientName, &msg.Content, &msg.Read, &createdAt); err != nil {
		return nil, err
	}
	msg.Timestamp = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}
