package hub

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"syncplayer/internal/policy"
	"syncplayer/internal/session"
	"syncplayer/pkg/types"
)

// Chat appends a message and broadcasts the whole log. The log keeps the
// newest ChatHistoryLimit messages.
func (h *Hub) Chat(ctx context.Context, req *types.ChatRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionChat); err != nil {
			return err
		}
		text := strings.TrimSpace(req.Message)
		if text == "" {
			return types.Validationf("message can not be empty")
		}
		if n := utf8.RuneCountInString(text); n > h.opts.ChatMaxLength {
			return types.Capacityf("message is %d characters, the limit is %d", n, h.opts.ChatMaxLength)
		}

		sentAt := req.SentAt(h.now())
		id, err := ulid.New(ulid.Timestamp(sentAt), ulid.DefaultEntropy())
		if err != nil {
			return types.Validationf("invalid message timestamp")
		}
		msg := types.ChatMessage{
			ID:     id.String(),
			Author: types.ChatAuthor{ID: m.ID, Name: m.Name, ProfileImage: m.ProfileImage},
			Text:   text,
			SentAt: sentAt,
		}
		chats := append(slices.Clone(s.ChatLog), msg)
		if over := len(chats) - h.opts.ChatHistoryLimit; over > 0 {
			chats = chats[over:]
		}

		updated, err := h.registry.Upsert(req.RoomID, session.Patch{ChatLog: &chats})
		if err != nil {
			return err
		}
		h.broadcaster.Broadcast(req.RoomID, types.EventChat, types.ChatState{Chats: updated.ChatLog})
		return nil
	})
}

func (h *Hub) ClearChat(ctx context.Context, req *types.Base) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionClearChat); err != nil {
			return err
		}
		updated, err := h.registry.Upsert(req.RoomID, session.Patch{ChatLog: &[]types.ChatMessage{}})
		if err != nil {
			return err
		}
		h.broadcaster.Broadcast(req.RoomID, types.EventChat, types.ChatState{Chats: updated.ChatLog})
		h.notify(req.RoomID, "Chats cleared", fmt.Sprintf("%s cleared the chats", displayName(m)))
		return nil
	})
}

// Voice relays an audio clip to every other peer. Nothing is stored.
func (h *Hub) Voice(ctx context.Context, req *types.VoiceRequest) error {
	return h.submit(ctx, req.RoomID, func(ctx context.Context) error {
		s, m, err := h.memberOf(req.RoomID, req.UserID)
		if err != nil {
			return err
		}
		if err := policy.Check(s, m.Role, policy.ActionVoice); err != nil {
			return err
		}
		h.broadcaster.BroadcastExcept(req.RoomID, req.UserID, types.EventVoice, types.VoicePayload{
			UserID:    m.ID,
			User:      types.ChatAuthor{ID: m.ID, Name: m.Name, ProfileImage: m.ProfileImage},
			Audio:     "data:audio/ogg;" + req.Audio,
			Timestamp: h.now(),
		})
		return nil
	})
}
