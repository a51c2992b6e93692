package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-backend/internal/models"
)

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrSelfChat            = errors.New("cannot create chat with self")
	ErrNoValidParticipants = errors.New("no valid participants")
)

const chatColumns = `id, name, is_group, admin_id, chat_type, pair_key, last_activity, created_at`

// ChatRepository abstracts chat and membership persistence. IsParticipant is
// the authorization gate for every chat-scoped read and write.
type ChatRepository interface {
	CreateOrGetPersonalChat(ctx context.Context, userID, otherID string) (models.Chat, error)
	CreateGroupChat(ctx context.Context, name, adminID string, participantIDs []string) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	GetChatDetail(ctx context.Context, chatID string) (models.ChatDetail, error)
	ListUserChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	AddParticipant(ctx context.Context, chatID, userID string) error
	RemoveParticipant(ctx context.Context, chatID, userID string) error
	UpdateLastActivity(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db    *sqlx.DB
	users UserRepository
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB, users UserRepository) *ChatRepo {
	return &ChatRepo{db: db, users: users}
}

// PairKey is the canonical key of an unordered participant pair. A partial
// unique index on chats(pair_key) makes personal-chat creation race-safe.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// CreateOrGetPersonalChat finds or creates the single personal chat between
// two users. Idempotent under concurrent invite-redemption races: the insert
// lands on the pair_key unique index and losers re-fetch the winner's row.
func (r *ChatRepo) CreateOrGetPersonalChat(ctx context.Context, userID, otherID string) (models.Chat, error) {
	if userID == otherID {
		return models.Chat{}, ErrSelfChat
	}
	key := PairKey(userID, otherID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (id, is_group, chat_type, pair_key) VALUES ($1, FALSE, $2, $3)
         ON CONFLICT (pair_key) WHERE chat_type = 'personal' DO NOTHING
         RETURNING `+chatColumns,
		uuid.NewString(), models.ChatTypePersonal, key).StructScan(&chat)
	if errors.Is(err, sql.ErrNoRows) {
		// lost the race or the chat already exists
		err = tx.GetContext(ctx, &chat,
			`SELECT `+chatColumns+` FROM chats WHERE pair_key=$1 AND chat_type=$2`,
			key, models.ChatTypePersonal)
	}
	if err != nil {
		return models.Chat{}, err
	}

	for _, id := range []string{userID, otherID} {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)
             ON CONFLICT (chat_id, user_id) DO NOTHING`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// CreateGroupChat creates a chat with the given participants plus the admin.
// Participant ids that do not resolve to real users are dropped; when the
// filtered set (admin excluded) has a single member the chat degrades to a
// personal-type chat rather than a group.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, name, adminID string, participantIDs []string) (models.Chat, error) {
	valid, err := r.users.FilterExistingIDs(ctx, participantIDs)
	if err != nil {
		return models.Chat{}, err
	}
	if len(valid) == 0 {
		return models.Chat{}, ErrNoValidParticipants
	}

	isGroup := len(valid) > 1
	chatType := models.ChatTypePersonal
	if isGroup {
		chatType = models.ChatTypeGroup
	}

	memberSet := map[string]struct{}{adminID: {}}
	for _, id := range valid {
		memberSet[id] = struct{}{}
	}
	members := make([]string, 0, len(memberSet))
	for id := range memberSet {
		members = append(members, id)
	}
	sort.Strings(members)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (id, name, is_group, admin_id, chat_type) VALUES ($1, $2, $3, $4, $5)
         RETURNING `+chatColumns,
		uuid.NewString(), name, isGroup, adminID, chatType).StructScan(&chat); err != nil {
		return models.Chat{}, err
	}

	for _, id := range members {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`,
		chatID, userID)
	return exists, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChatDetail fetches a chat with its full participant roster.
func (r *ChatRepo) GetChatDetail(ctx context.Context, chatID string) (models.ChatDetail, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.ChatDetail{}, err
	}
	participants, err := r.chatParticipants(ctx, chatID)
	if err != nil {
		return models.ChatDetail{}, err
	}
	return models.ChatDetail{Chat: chat, Participants: participants}, nil
}

func (r *ChatRepo) chatParticipants(ctx context.Context, chatID string) ([]models.PublicUser, error) {
	participants := []models.PublicUser{}
	err := r.db.SelectContext(ctx, &participants,
		`SELECT u.id, u.username, u.email, u.avatar, u.is_online
         FROM users u INNER JOIN chat_participants cp ON cp.user_id = u.id
         WHERE cp.chat_id=$1 ORDER BY cp.joined_at`, chatID)
	return participants, err
}

// ListUserChats returns every chat the user belongs to, annotated with the
// participant roster and the most recent non-deleted message, ordered by
// last activity (message time, falling back to chat creation) descending.
func (r *ChatRepo) ListUserChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats,
		`SELECT c.id, c.name, c.is_group, c.admin_id, c.chat_type, c.pair_key, c.last_activity, c.created_at
         FROM chats c INNER JOIN chat_participants cp ON cp.chat_id = c.id
         WHERE cp.user_id=$1`, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		participants, err := r.chatParticipants(ctx, chat.ID)
		if err != nil {
			return nil, err
		}

		var last models.LastMessage
		err = r.db.GetContext(ctx, &last,
			`SELECT m.content, m.created_at, u.username AS sender_username
             FROM messages m INNER JOIN users u ON u.id = m.sender_id
             WHERE m.chat_id=$1 AND m.is_deleted = FALSE
             ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, chat.ID)
		summary := models.ChatSummary{Chat: chat, Participants: participants}
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaryActivity(summaries[i]).After(summaryActivity(summaries[j]))
	})
	return summaries, nil
}

func summaryActivity(s models.ChatSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}

// AddParticipant joins a user to a chat; a no-op if already joined.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)
         ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, userID)
	return err
}

// RemoveParticipant removes a user from a chat.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	return err
}

// UpdateLastActivity bumps the chat's activity timestamp.
func (r *ChatRepo) UpdateLastActivity(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chats SET last_activity = NOW() WHERE id=$1`, chatID)
	return err
}

// DeleteChat removes the chat and its memberships while soft-deleting the
// messages for audit, as one atomic unit.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id=$1`, chatID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE chat_id=$1`, chatID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrChatNotFound
		return err
	}
	err = tx.Commit()
	return err
}
