package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-backend/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID, senderID, content, messageType string) (models.Message, error)
	GetMessageWithSender(ctx context.Context, messageID string) (models.MessageWithSender, error)
	ListChatMessages(ctx context.Context, chatID string, page, limit int) ([]models.MessageWithSender, error)
	SoftDeleteMessage(ctx context.Context, messageID string) error
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the persisted row.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID, senderID, content, messageType string) (models.Message, error) {
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, sender_id, chat_id, content, message_type)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, sender_id, chat_id, content, message_type, is_deleted, created_at`,
		uuid.NewString(), senderID, chatID, content, messageType).StructScan(&msg)
	return msg, err
}

type messageSenderRow struct {
	models.Message
	SenderUsername string `db:"sender_username"`
	SenderEmail    string `db:"sender_email"`
	SenderAvatar   string `db:"sender_avatar"`
	SenderOnline   bool   `db:"sender_online"`
}

func (row messageSenderRow) withSender() models.MessageWithSender {
	return models.MessageWithSender{
		Message: row.Message,
		Sender: models.PublicUser{
			ID:       row.SenderID,
			Username: row.SenderUsername,
			Email:    row.SenderEmail,
			Avatar:   row.SenderAvatar,
			IsOnline: row.SenderOnline,
		},
	}
}

const messageSenderColumns = `m.id, m.sender_id, m.chat_id, m.content, m.message_type, m.is_deleted, m.created_at,
         u.username AS sender_username, u.email AS sender_email, u.avatar AS sender_avatar, u.is_online AS sender_online`

// GetMessageWithSender reloads a message joined with its sender profile.
func (r *MessageRepo) GetMessageWithSender(ctx context.Context, messageID string) (models.MessageWithSender, error) {
	var row messageSenderRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+messageSenderColumns+`
         FROM messages m INNER JOIN users u ON u.id = m.sender_id
         WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageWithSender{}, ErrMessageNotFound
	}
	if err != nil {
		return models.MessageWithSender{}, err
	}
	return row.withSender(), nil
}

// ListChatMessages returns a page of non-deleted messages in chronological
// order. Pagination counts backwards from the newest message, so page 1 is
// the most recent window. Ties on created_at break on id.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID string, page, limit int) ([]models.MessageWithSender, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	var rows []messageSenderRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+messageSenderColumns+`
         FROM messages m INNER JOIN users u ON u.id = m.sender_id
         WHERE m.chat_id=$1 AND m.is_deleted = FALSE
         ORDER BY m.created_at DESC, m.id DESC
         LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.MessageWithSender, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.withSender()
	}
	return msgs, nil
}

// SoftDeleteMessage hides a message from reads while keeping the row.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
