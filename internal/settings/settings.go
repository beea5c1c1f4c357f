// Package settings backs the coordinator's settings store with redis for the
// volatile playback flags and postgres for durable per-chat preferences.
package settings

import (
	"context"
	"fmt"
	"strconv"

	redislib "github.com/redis/go-redis/v9"

	"github.com/hxnx/chorus/internal/database"
)

const (
	loopKeyPrefix  = "chorus:loop:"
	musicKeyPrefix = "chorus:music:"

	activeChatsKey  = "chorus:active_chats"
	activeVideoKey  = "chorus:active_video_chats"
	autoEndKey      = "chorus:autoend"
	loopCounterMax  = 10
	defaultLanguage = "en"
)

type Service struct {
	redis *redislib.Client
	chats *database.ChatRepository
}

func New(redis *redislib.Client, chats *database.ChatRepository) *Service {
	return &Service{redis: redis, chats: chats}
}

func (s *Service) ensure() error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	return nil
}

func (s *Service) Loop(ctx context.Context, chatID int64) (int, error) {
	if err := s.ensure(); err != nil {
		return 0, err
	}

	v, err := s.redis.Get(ctx, loopKey(chatID)).Result()
	if err == redislib.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Service) SetLoop(ctx context.Context, chatID int64, count int) error {
	if err := s.ensure(); err != nil {
		return err
	}

	if count < 0 {
		count = 0
	}
	if count > loopCounterMax {
		count = loopCounterMax
	}
	if count == 0 {
		return s.redis.Del(ctx, loopKey(chatID)).Err()
	}
	return s.redis.Set(ctx, loopKey(chatID), count, 0).Err()
}

func (s *Service) AutoEnd(ctx context.Context) (bool, error) {
	if err := s.ensure(); err != nil {
		return false, err
	}

	v, err := s.redis.Get(ctx, autoEndKey).Result()
	if err == redislib.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *Service) SetAutoEnd(ctx context.Context, enabled bool) error {
	if err := s.ensure(); err != nil {
		return err
	}

	if !enabled {
		return s.redis.Del(ctx, autoEndKey).Err()
	}
	return s.redis.Set(ctx, autoEndKey, "1", 0).Err()
}

func (s *Service) Lang(ctx context.Context, chatID int64) (string, error) {
	prefs, err := s.chats.Get(ctx, chatID)
	if err != nil || prefs.Language == "" {
		return defaultLanguage, err
	}
	return prefs.Language, nil
}

func (s *Service) SetLang(ctx context.Context, chatID int64, language string) error {
	return s.chats.SetLanguage(ctx, chatID, language)
}

func (s *Service) PlayMode(ctx context.Context, chatID int64) (string, error) {
	prefs, err := s.chats.Get(ctx, chatID)
	return prefs.PlayMode, err
}

func (s *Service) ChannelMode(ctx context.Context, chatID int64) (int64, error) {
	prefs, err := s.chats.Get(ctx, chatID)
	return prefs.ChannelID, err
}

// MusicOn flags that music playback has begun in the chat.
func (s *Service) MusicOn(ctx context.Context, chatID int64) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.redis.Set(ctx, musicKeyPrefix+formatChat(chatID), "1", 0).Err()
}

func (s *Service) AddActiveChat(ctx context.Context, chatID int64) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, activeChatsKey, chatID).Err()
}

func (s *Service) RemoveActiveChat(ctx context.Context, chatID int64) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.redis.SRem(ctx, activeChatsKey, chatID).Err()
}

func (s *Service) AddActiveVideoChat(ctx context.Context, chatID int64) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, activeVideoKey, chatID).Err()
}

func (s *Service) RemoveActiveVideoChat(ctx context.Context, chatID int64) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.redis.SRem(ctx, activeVideoKey, chatID).Err()
}

func (s *Service) IsActiveChat(ctx context.Context, chatID int64) (bool, error) {
	if err := s.ensure(); err != nil {
		return false, err
	}
	return s.redis.SIsMember(ctx, activeChatsKey, chatID).Result()
}

func (s *Service) ActiveChats(ctx context.Context) ([]int64, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}

	members, err := s.redis.SMembers(ctx, activeChatsKey).Result()
	if err != nil {
		return nil, err
	}

	chats := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			chats = append(chats, id)
		}
	}
	return chats, nil
}

func (s *Service) ActiveVideoChats(ctx context.Context) ([]int64, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}

	members, err := s.redis.SMembers(ctx, activeVideoKey).Result()
	if err != nil {
		return nil, err
	}

	chats := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			chats = append(chats, id)
		}
	}
	return chats, nil
}

func loopKey(chatID int64) string {
	return loopKeyPrefix + formatChat(chatID)
}

func formatChat(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
