// Package chat implements the messaging core: message persistence with
// edit history, reactions and soft delete, read receipts, typing
// broadcast, and the query surface over stored conversations. Every
// successful mutation publishes one event on the injected bus after the
// storage write commits; a crash between the two loses the event.
package chat

import (
	"errors"
	"strings"
	"time"

	"chatcore/pkg/bus"
	"chatcore/pkg/cache"
	"chatcore/pkg/config"
	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
	"chatcore/pkg/utils"
)

// Service is the messaging core. Construct with NewService and share
// one instance per process.
type Service struct {
	bus   *bus.Bus
	cfg   config.ChatConfig
	cache *cache.Cache
}

// NewService wires the messaging core to an event bus.
func NewService(b *bus.Bus, cfg config.ChatConfig) *Service {
	return &Service{
		bus:   b,
		cfg:   cfg,
		cache: cache.New(cfg.CacheTTLOrDefault()),
	}
}

// SendInput is the payload for Send. Thread, Receiver, Channel and
// ReplyTo are optional; an empty thread starts a new conversation.
type SendInput struct {
	Content     string
	Receiver    string
	Thread      string
	Channel     string
	ReplyTo     string
	Attachments []models.Attachment
}

// Send persists a new message and publishes a message event. Guests are
// materialized into user rows before the message is written.
func (s *Service) Send(id Identity, in SendInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, validationf("message content is required")
	}
	if max := s.cfg.MaxContentLen; max > 0 && len(content) > max {
		return nil, validationf("message content exceeds %d bytes", max)
	}
	for _, a := range in.Attachments {
		if !models.ValidAttachmentType(a.Type) {
			return nil, validationf("unknown attachment type: %q", a.Type)
		}
	}
	// thread ids become row key segments; a ':' would bleed into another
	// thread's prefix scan
	if strings.Contains(in.Thread, ":") {
		return nil, validationf("thread id must not contain ':'")
	}
	sender, err := resolveSender(id)
	if err != nil {
		return nil, err
	}

	thread := in.Thread
	if in.ReplyTo != "" {
		parent, err := store.GetMessage(in.ReplyTo)
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf("reply-to message not found")
		}
		if err != nil {
			return nil, storageErr("load reply-to", err)
		}
		if thread == "" {
			thread = parent.Thread
		}
	}
	if thread == "" {
		thread = utils.GenThreadID()
	}

	now := time.Now().UTC().UnixNano()
	m := &models.Message{
		ID:          utils.GenID(),
		Thread:      thread,
		Channel:     in.Channel,
		Sender:      sender,
		Receiver:    in.Receiver,
		Content:     content,
		ReplyTo:     in.ReplyTo,
		Attachments: in.Attachments,
		CreatedTS:   now,
		UpdatedTS:   now,
	}
	if err := store.SaveMessage(m); err != nil {
		return nil, storageErr("save message", err)
	}
	logger.Info("message_sent", "msg_id", m.ID, "thread", m.Thread, "sender", sender)
	s.bus.Publish(bus.Event{Type: bus.TypeMessage, Thread: m.Thread, TS: now, Payload: m})
	return m, nil
}

// Edit replaces a message's content within the edit window, recording
// the previous content in the append-only history.
func (s *Service) Edit(callerID, msgID, newContent string) (*models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	content := strings.TrimSpace(newContent)
	if content == "" {
		return nil, validationf("message content is required")
	}
	m, err := store.GetMessage(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load message", err)
	}
	if m.Sender != callerID {
		return nil, ErrForbidden
	}
	now := time.Now().UTC().UnixNano()
	window := s.cfg.EditWindowOrDefault()
	if now-m.CreatedTS >= int64(window) {
		return nil, ErrEditWindowExpired
	}

	rec := models.EditRecord{PreviousContent: m.Content, TS: now}
	m.Content = content
	m.IsEdited = true
	m.EditCount++
	m.UpdatedTS = now
	// one batch: a failed rewrite must not grow the history
	if err := store.SaveEdit(m, rec); err != nil {
		return nil, storageErr("save edit", err)
	}
	logger.Info("message_edited", "msg_id", m.ID, "edits", m.EditCount)
	s.bus.Publish(bus.Event{Type: bus.TypeMessageEdited, Thread: m.Thread, TS: now, Payload: m})
	return m, nil
}

// UpdateInput carries the metadata fields a sender may revise on an
// existing message. Nil fields are left untouched.
type UpdateInput struct {
	Channel     *string
	Attachments *[]models.Attachment
}

// Update revises a message's metadata. Content is out of scope here,
// so unlike Edit there is no window check and no history record.
func (s *Service) Update(callerID, msgID string, in UpdateInput) (*models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	if in.Channel == nil && in.Attachments == nil {
		return nil, validationf("no updatable fields supplied")
	}
	m, err := store.GetMessage(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load message", err)
	}
	if m.DeletedTS != 0 {
		return nil, ErrNotFound
	}
	if m.Sender != callerID {
		return nil, ErrForbidden
	}
	if in.Attachments != nil {
		for _, a := range *in.Attachments {
			if !models.ValidAttachmentType(a.Type) {
				return nil, validationf("unknown attachment type: %q", a.Type)
			}
		}
		m.Attachments = *in.Attachments
	}
	if in.Channel != nil {
		m.Channel = *in.Channel
	}
	now := time.Now().UTC().UnixNano()
	m.UpdatedTS = now
	if err := store.PutMessage(m); err != nil {
		return nil, storageErr("update message", err)
	}
	logger.Info("message_updated", "msg_id", m.ID)
	s.bus.Publish(bus.Event{Type: bus.TypeMessageEdited, Thread: m.Thread, TS: now, Payload: m})
	return m, nil
}

// Delete soft-deletes a message. Ownership is enforced by scoping:
// someone else's message reads as not found, never as forbidden.
func (s *Service) Delete(callerID, msgID string) (*models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthorized
	}
	m, err := store.GetMessage(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load message", err)
	}
	if m.Sender != callerID || m.DeletedTS != 0 {
		return nil, ErrNotFound
	}
	now := time.Now().UTC().UnixNano()
	m.DeletedTS = now
	m.UpdatedTS = now
	if err := store.PutMessage(m); err != nil {
		return nil, storageErr("update message", err)
	}
	logger.Info("message_deleted", "msg_id", m.ID, "thread", m.Thread)
	s.bus.Publish(bus.Event{Type: bus.TypeMessageDeleted, Thread: m.Thread, TS: now, Payload: m})
	return m, nil
}

// React toggles the caller's (emoji) reaction on a message: present
// removes, absent adds. Each call publishes a reaction event whose
// Removed flag tells the two apart.
func (s *Service) React(callerID, msgID, emoji string) (*models.Reaction, bool, error) {
	if callerID == "" {
		return nil, false, ErrUnauthorized
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > 32 {
		return nil, false, validationf("invalid emoji")
	}
	m, err := store.GetMessage(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, storageErr("load message", err)
	}

	now := time.Now().UTC().UnixNano()
	existing, err := store.GetReaction(msgID, callerID, emoji)
	switch {
	case err == nil:
		if err := store.DeleteReaction(msgID, callerID, emoji); err != nil {
			return nil, false, storageErr("delete reaction", err)
		}
		logger.Debug("reaction_removed", "msg_id", msgID, "user", callerID)
		s.bus.Publish(bus.Event{Type: bus.TypeMessageReaction, Thread: m.Thread, TS: now, Payload: bus.ReactionEvent{
			MessageID: msgID,
			Thread:    m.Thread,
			Reaction:  *existing,
			Removed:   true,
		}})
		return existing, true, nil
	case errors.Is(err, store.ErrNotFound):
		r := models.Reaction{
			ID:       utils.GenID(),
			Emoji:    emoji,
			User:     callerID,
			UserName: displayName(callerID),
			TS:       now,
		}
		if err := store.SetReaction(msgID, r); err != nil {
			return nil, false, storageErr("save reaction", err)
		}
		logger.Debug("reaction_added", "msg_id", msgID, "user", callerID, "emoji", emoji)
		s.bus.Publish(bus.Event{Type: bus.TypeMessageReaction, Thread: m.Thread, TS: now, Payload: bus.ReactionEvent{
			MessageID: msgID,
			Thread:    m.Thread,
			Reaction:  r,
		}})
		return &r, false, nil
	default:
		return nil, false, storageErr("load reaction", err)
	}
}

// MarkAllRead marks every unread message addressed to the caller as
// read, optionally scoped by sender and thread, and publishes one
// messagesRead event describing the scope.
func (s *Service) MarkAllRead(callerID, senderID, threadID string) (int, error) {
	if callerID == "" {
		return 0, ErrUnauthorized
	}
	now := time.Now().UTC().UnixNano()
	n, err := store.MarkRead(callerID, senderID, threadID, now)
	if err != nil {
		return 0, storageErr("mark read", err)
	}
	logger.Info("messages_read", "receiver", callerID, "count", n)
	s.bus.Publish(bus.Event{Type: bus.TypeMessagesRead, Thread: threadID, TS: now, Payload: bus.ReadEvent{
		Receiver: callerID,
		Sender:   senderID,
		Thread:   threadID,
		Count:    n,
		TS:       now,
	}})
	return n, nil
}

// Typing broadcasts a typing indicator. Nothing is persisted.
func (s *Service) Typing(callerID, threadID string, isTyping bool) error {
	if callerID == "" {
		return ErrUnauthorized
	}
	if threadID == "" {
		return validationf("thread is required")
	}
	now := time.Now().UTC().UnixNano()
	s.bus.Publish(bus.Event{Type: bus.TypeTyping, Thread: threadID, TS: now, Payload: models.TypingIndicator{
		User:     callerID,
		UserName: displayName(callerID),
		Thread:   threadID,
		IsTyping: isTyping,
		TS:       now,
	}})
	return nil
}

// Get returns a message by id regardless of soft-delete state.
func (s *Service) Get(msgID string) (*models.Message, error) {
	m, err := store.GetMessage(msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("load message", err)
	}
	return m, nil
}

// EditHistory returns a message's edit records in chronological order.
func (s *Service) EditHistory(msgID string) ([]models.EditRecord, error) {
	recs, err := store.ListEdits(msgID)
	if err != nil {
		return nil, storageErr("list edits", err)
	}
	return recs, nil
}

// Reactions returns a message's current reaction set.
func (s *Service) Reactions(msgID string) ([]models.Reaction, error) {
	rs, err := store.ListReactions(msgID)
	if err != nil {
		return nil, storageErr("list reactions", err)
	}
	return rs, nil
}
