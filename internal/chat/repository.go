package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository implements Store plus the bulk reads the dashboard and
// history endpoints need, over Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindPrivateChat returns the id of the private chat both users share, or
// 0 when none exists.
func (r *Repository) FindPrivateChat(ctx context.Context, user1ID, user2ID int) (int, error) {
	query := `
		SELECT c.id
		FROM chats c
		JOIN chat_participants p1 ON p1.chat_id = c.id AND p1.user_id = $1
		JOIN chat_participants p2 ON p2.chat_id = c.id AND p2.user_id = $2
		WHERE NOT c.is_group
		LIMIT 1
	`
	var chatID int
	err := r.db.QueryRowContext(ctx, query, user1ID, user2ID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return chatID, nil
}

func (r *Repository) CreateChat(ctx context.Context, name string, isGroup bool, at time.Time) (int, error) {
	query := "INSERT INTO chats (name, is_group, last_updated) VALUES ($1, $2, $3) RETURNING id"
	var chatID int
	if err := r.db.QueryRowContext(ctx, query, name, isGroup, at).Scan(&chatID); err != nil {
		return 0, err
	}
	return chatID, nil
}

func (r *Repository) InsertParticipants(ctx context.Context, chatID int, userIDs []int, at time.Time) error {
	query := `
		INSERT INTO chat_participants (chat_id, user_id, last_visited)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	for _, userID := range userIDs {
		if _, err := r.db.ExecContext(ctx, query, chatID, userID, at); err != nil {
			return err
		}
	}
	return nil
}

// DeleteParticipant removes the participation record and returns how many
// participants the chat still has.
func (r *Repository) DeleteParticipant(ctx context.Context, chatID, userID int) (int, error) {
	del := "DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2"
	if _, err := r.db.ExecContext(ctx, del, chatID, userID); err != nil {
		return 0, err
	}

	var remaining int
	count := "SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1"
	if err := r.db.QueryRowContext(ctx, count, chatID).Scan(&remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// DeleteChat removes the chat; participants and messages go with it via
// the schema's ON DELETE CASCADE.
func (r *Repository) DeleteChat(ctx context.Context, chatID int) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", chatID)
	return err
}

func (r *Repository) AddMessage(ctx context.Context, chatID, senderID int, content string, at time.Time) (int, error) {
	query := `
		INSERT INTO messages (chat_id, sender_id, content, sent_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var messageID int
	if err := r.db.QueryRowContext(ctx, query, chatID, senderID, content, at).Scan(&messageID); err != nil {
		// A foreign-key violation means the chat (or sender) is gone, e.g.
		// the last participant left while the message was in flight.
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
		}
		return 0, err
	}
	return messageID, nil
}

// isForeignKeyViolation reports whether err is Postgres error 23503
// (foreign_key_violation).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// UpdateChatLastUpdated advances the chat's activity stamp. GREATEST keeps
// it monotonic: the final stamp after concurrent sends is the latest sentAt
// regardless of which sender committed last.
func (r *Repository) UpdateChatLastUpdated(ctx context.Context, chatID int, at time.Time) error {
	query := "UPDATE chats SET last_updated = GREATEST(last_updated, $2) WHERE id = $1"
	res, err := r.db.ExecContext(ctx, query, chatID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
	}
	return nil
}

func (r *Repository) UpdateChatLastVisited(ctx context.Context, userID, chatID int, at time.Time) error {
	query := "UPDATE chat_participants SET last_visited = $3 WHERE user_id = $1 AND chat_id = $2"
	res, err := r.db.ExecContext(ctx, query, userID, chatID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("participant %d in chat %d: %w", userID, chatID, ErrNotFound)
	}
	return nil
}

func (r *Repository) UserChatIDs(ctx context.Context, userID int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT chat_id FROM chat_participants WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chatIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, id)
	}
	return chatIDs, rows.Err()
}

// Chats returns every chat. The dashboard derivation works off bulk reads.
func (r *Repository) Chats(ctx context.Context) ([]Chat, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, is_group, last_updated FROM chats")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.ChatName, &c.IsGroup, &c.LastUpdated); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (r *Repository) Participants(ctx context.Context) ([]ChatParticipant, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT chat_id, user_id, last_visited FROM chat_participants")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []ChatParticipant
	for rows.Next() {
		var p ChatParticipant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.LastVisited); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (r *Repository) Messages(ctx context.Context) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, chat_id, sender_id, content, sent_at FROM messages")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesForChat returns the chat's messages ordered by sent time.
func (r *Repository) MessagesForChat(ctx context.Context, chatID int) ([]Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, sent_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY sent_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// HourReports returns the average message length per UTC hour of the day
// starting at date.
func (r *Repository) HourReports(ctx context.Context, date time.Time) ([]HourReport, error) {
	query := `
		SELECT EXTRACT(HOUR FROM sent_at)::int AS hour, AVG(LENGTH(content))::float8 AS avg_len
		FROM messages
		WHERE sent_at >= $1 AND sent_at < $2
		GROUP BY hour
		ORDER BY hour
	`
	rows, err := r.db.QueryContext(ctx, query, date, date.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []HourReport
	for rows.Next() {
		var hr HourReport
		if err := rows.Scan(&hr.Hour, &hr.AvgMessageLength); err != nil {
			return nil, err
		}
		reports = append(reports, hr)
	}
	return reports, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.SenderID, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
