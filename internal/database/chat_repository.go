package database

import (
	"context"
	"database/sql"
	"time"
)

const chatRepoTimeout = 2 * time.Second

// ChatPrefs are the durable per-chat preferences. PlayMode is "direct" or
// "inline"; ChannelID is the channel-play target, 0 when unset.
type ChatPrefs struct {
	Language  string
	PlayMode  string
	ChannelID int64
}

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{db: GetDB()}
}

func (r *ChatRepository) Get(ctx context.Context, chatID int64) (ChatPrefs, error) {
	prefs := ChatPrefs{Language: "en", PlayMode: "direct"}
	if r == nil || r.db == nil {
		return prefs, nil
	}

	ctx, cancel := context.WithTimeout(ctx, chatRepoTimeout)
	defer cancel()

	const query = `
		SELECT language, play_mode, channel_id
		FROM chat_settings
		WHERE chat_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&prefs.Language, &prefs.PlayMode, &prefs.ChannelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return prefs, nil
		}
		return prefs, err
	}
	return prefs, nil
}

func (r *ChatRepository) SetLanguage(ctx context.Context, chatID int64, language string) error {
	return r.upsert(ctx, chatID, "language", language)
}

func (r *ChatRepository) SetPlayMode(ctx context.Context, chatID int64, mode string) error {
	return r.upsert(ctx, chatID, "play_mode", mode)
}

func (r *ChatRepository) SetChannel(ctx context.Context, chatID, channelID int64) error {
	return r.upsert(ctx, chatID, "channel_id", channelID)
}

func (r *ChatRepository) upsert(ctx context.Context, chatID int64, column string, value interface{}) error {
	if r == nil || r.db == nil {
		return nil
	}
	if chatID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, chatRepoTimeout)
	defer cancel()

	// column comes from the fixed call sites above, never from input.
	query := `
		INSERT INTO chat_settings (chat_id, ` + column + `, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chat_id)
		DO UPDATE SET ` + column + ` = EXCLUDED.` + column + `, updated_at = NOW();
	`

	_, err := r.db.ExecContext(ctx, query, chatID, value)
	return err
}

func (r *ChatRepository) Delete(ctx context.Context, chatID int64) error {
	if r == nil || r.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, chatRepoTimeout)
	defer cancel()

	const query = `
		DELETE FROM chat_settings
		WHERE chat_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, chatID)
	return err
}
