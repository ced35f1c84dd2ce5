package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

var db *pebble.DB
var dbPath string

// seq provides a small counter to reduce key collisions when multiple
// messages share the same nanosecond timestamp.
var seq uint64

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// Key layout. Message rows live under their thread with a sortable
// creation-time prefix; an id index points back at the row key. Edit
// history and reactions are separate append-oriented sub-collections so
// concurrent writers never rewrite each other's entries.
//
//	thread:<threadID>:msg:<created_ns>-<seq>   -> message JSON (row)
//	msg:<msgID>                                -> {"thread":...,"key":...}
//	edit:msg:<msgID>:<ns>-<seq>                -> edit record JSON
//	react:msg:<msgID>:<userID>:<emoji-hex>     -> reaction JSON
//	user:<userID>                              -> user JSON
//	user:email:<lowercased email>              -> userID
func rowKey(threadID string, ts int64, s uint64) string {
	return fmt.Sprintf("thread:%s:msg:%020d-%06d", threadID, ts, s)
}

type msgIndex struct {
	Thread string `json:"thread"`
	Key    string `json:"key"`
}

func mapErr(err error) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func get(key string) ([]byte, error) {
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return nil, mapErr(err)
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// SaveMessage writes a new message row keyed by its creation time and
// indexes it by message id. The row key is stable for the lifetime of
// the message; edits and soft deletes rewrite the row in place.
func SaveMessage(m *models.Message) error {
	if db == nil {
		return notOpened()
	}
	if m.ID == "" || m.Thread == "" {
		return fmt.Errorf("message id and thread required")
	}
	ts := m.CreatedTS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
		m.CreatedTS = ts
	}
	s := atomic.AddUint64(&seq, 1)
	key := rowKey(m.Thread, ts, s)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "thread", m.Thread, "key", key, "error", err)
		return err
	}
	idx, _ := json.Marshal(msgIndex{Thread: m.Thread, Key: key})
	if err := db.Set([]byte("msg:"+m.ID), idx, pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "msg_id", m.ID, "error", err)
		return err
	}
	logger.Debug("message_saved", "thread", m.Thread, "msg_id", m.ID)
	return nil
}

// GetMessage returns the current state of a message by id, including
// soft-deleted rows.
func GetMessage(id string) (*models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	iv, err := get("msg:" + id)
	if err != nil {
		return nil, err
	}
	var idx msgIndex
	if err := json.Unmarshal(iv, &idx); err != nil {
		return nil, fmt.Errorf("invalid message index: %w", err)
	}
	rv, err := get(idx.Key)
	if err != nil {
		return nil, err
	}
	var m models.Message
	if err := json.Unmarshal(rv, &m); err != nil {
		return nil, fmt.Errorf("invalid stored message: %w", err)
	}
	return &m, nil
}

// PutMessage rewrites an existing message row in place.
func PutMessage(m *models.Message) error {
	if db == nil {
		return notOpened()
	}
	iv, err := get("msg:" + m.ID)
	if err != nil {
		return err
	}
	var idx msgIndex
	if err := json.Unmarshal(iv, &idx); err != nil {
		return fmt.Errorf("invalid message index: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(idx.Key), data, pebble.Sync); err != nil {
		logger.Error("put_message_failed", "msg_id", m.ID, "error", err)
		return err
	}
	return nil
}

// ScanMessages walks message rows in creation order and invokes fn with
// the row key and decoded message. An empty threadID walks every thread.
// fn returning false stops the scan.
func ScanMessages(threadID string, fn func(key string, m *models.Message) bool) error {
	if db == nil {
		return notOpened()
	}
	prefix := []byte("thread:")
	if threadID != "" {
		prefix = []byte("thread:" + threadID + ":msg:")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := string(iter.Key())
		// all-thread scans pass over every thread:* key; only rows qualify
		if threadID == "" && !strings.Contains(k, ":msg:") {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("scan_invalid_row", "key", k, "error", err)
			continue
		}
		if !fn(k, &m) {
			break
		}
	}
	return iter.Error()
}

// UpdateAt rewrites a message row at a known key. Used by bulk updates
// that already hold the row key from a scan.
func UpdateAt(key string, m *models.Message) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return db.Set([]byte(key), data, pebble.Sync)
}

// MarkRead sets is_read and read_ts in a single pass over all unread
// messages addressed to receiver, optionally scoped by sender and
// thread. It returns the number of rows updated.
func MarkRead(receiver, sender, threadID string, readTS int64) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	type hit struct {
		key string
		m   *models.Message
	}
	var hits []hit
	err := ScanMessages(threadID, func(key string, m *models.Message) bool {
		if m.DeletedTS != 0 || m.IsRead {
			return true
		}
		if m.Receiver != receiver {
			return true
		}
		if sender != "" && m.Sender != sender {
			return true
		}
		hits = append(hits, hit{key: key, m: m})
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, h := range hits {
		h.m.IsRead = true
		h.m.ReadTS = readTS
		h.m.UpdatedTS = readTS
		if err := UpdateAt(h.key, h.m); err != nil {
			return 0, err
		}
	}
	logger.Debug("messages_marked_read", "receiver", receiver, "count", len(hits))
	return len(hits), nil
}

// SaveEdit rewrites a message row and appends the edit record that
// produced it in one atomic batch, so a failed rewrite never leaves an
// orphan history entry behind.
func SaveEdit(m *models.Message, rec models.EditRecord) error {
	if db == nil {
		return notOpened()
	}
	iv, err := get("msg:" + m.ID)
	if err != nil {
		return err
	}
	var idx msgIndex
	if err := json.Unmarshal(iv, &idx); err != nil {
		return fmt.Errorf("invalid message index: %w", err)
	}
	row, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	edit, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s := atomic.AddUint64(&seq, 1)
	editKey := fmt.Sprintf("edit:msg:%s:%020d-%06d", m.ID, rec.TS, s)

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(idx.Key), row, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(editKey), edit, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("save_edit_failed", "msg_id", m.ID, "error", err)
		return err
	}
	return nil
}

// ListEdits returns a message's edit history in chronological order.
func ListEdits(msgID string) ([]models.EditRecord, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("edit:msg:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.EditRecord
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var rec models.EditRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("invalid edit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func reactionKey(msgID, userID, emoji string) string {
	// emoji is caller input; hex-encode it so the key separator stays safe
	return fmt.Sprintf("react:msg:%s:%s:%x", msgID, userID, emoji)
}

// GetReaction returns the reaction for (user, emoji) on a message, or
// ErrNotFound.
func GetReaction(msgID, userID, emoji string) (*models.Reaction, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, err := get(reactionKey(msgID, userID, emoji))
	if err != nil {
		return nil, err
	}
	var r models.Reaction
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("invalid reaction: %w", err)
	}
	return &r, nil
}

// SetReaction stores a reaction entry. The key is derived from
// (message, user, emoji) so at most one entry per pair can exist and
// concurrent reactions from different users write disjoint keys.
func SetReaction(msgID string, r models.Reaction) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return db.Set([]byte(reactionKey(msgID, r.User, r.Emoji)), data, pebble.Sync)
}

// DeleteReaction removes the (user, emoji) reaction from a message.
func DeleteReaction(msgID, userID, emoji string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete([]byte(reactionKey(msgID, userID, emoji)), pebble.Sync)
}

// ListReactions returns all reactions on a message.
func ListReactions(msgID string) ([]models.Reaction, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("react:msg:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Reaction
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.Reaction
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("invalid reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// SaveUser stores a user record and maintains the email index used for
// guest upserts.
func SaveUser(u *models.User) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := db.Set([]byte("user:"+u.ID), data, pebble.Sync); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	if u.Email != "" {
		ek := "user:email:" + strings.ToLower(u.Email)
		if err := db.Set([]byte(ek), []byte(u.ID), pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

// GetUser returns a user record by id.
func GetUser(id string) (*models.User, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, err := get("user:" + id)
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal(v, &u); err != nil {
		return nil, fmt.Errorf("invalid stored user: %w", err)
	}
	return &u, nil
}

// FindUserByEmail resolves a user by (case-insensitive) email.
func FindUserByEmail(email string) (*models.User, error) {
	if db == nil {
		return nil, notOpened()
	}
	v, err := get("user:email:" + strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	return GetUser(string(v))
}

// ListUsersByRole returns all users carrying the given role, optionally
// scoped by agency.
func ListUsersByRole(role, agency string) ([]models.User, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("user:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.User
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if strings.HasPrefix(string(iter.Key()), "user:email:") {
			continue
		}
		var u models.User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			continue
		}
		if u.Role != role {
			continue
		}
		if agency != "" && u.Agency != agency {
			continue
		}
		out = append(out, u)
	}
	return out, iter.Error()
}

// CountMessages returns total and soft-deleted message row counts.
func CountMessages() (total, deleted int64, err error) {
	err = ScanMessages("", func(_ string, m *models.Message) bool {
		total++
		if m.DeletedTS != 0 {
			deleted++
		}
		return true
	})
	return total, deleted, err
}

// CountUsers returns the number of stored user records.
func CountUsers() (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := []byte("user:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if strings.HasPrefix(string(iter.Key()), "user:email:") {
			continue
		}
		n++
	}
	return n, iter.Error()
}

// PurgeDeletedBefore permanently removes message rows soft-deleted before
// cutoff, together with their id index, edit history and reactions. At
// most batch rows are removed per call; batch <= 0 means no limit.
// budget caps the accumulated row bytes per call, 0 means no cap. When
// dryRun is set nothing is deleted and only the would-be count returns.
func PurgeDeletedBefore(cutoff int64, batch int, budget uint64, dryRun bool) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	type victim struct {
		key string
		id  string
	}
	var victims []victim
	var spent uint64
	prefix := []byte("thread:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := string(iter.Key())
		if !strings.Contains(k, ":msg:") {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("scan_invalid_row", "key", k, "error", err)
			continue
		}
		if m.DeletedTS == 0 || m.DeletedTS >= cutoff {
			continue
		}
		victims = append(victims, victim{key: k, id: m.ID})
		spent += uint64(len(iter.Key()) + len(iter.Value()))
		if batch > 0 && len(victims) >= batch {
			break
		}
		if budget > 0 && spent >= budget {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if dryRun {
		return len(victims), nil
	}
	for _, v := range victims {
		for _, p := range []string{"edit:msg:" + v.id + ":", "react:msg:" + v.id + ":"} {
			if err := deletePrefix(p); err != nil {
				return 0, err
			}
		}
		if err := db.Delete([]byte("msg:"+v.id), pebble.Sync); err != nil {
			return 0, err
		}
		if err := db.Delete([]byte(v.key), pebble.Sync); err != nil {
			return 0, err
		}
	}
	if len(victims) > 0 {
		logger.Info("purged_deleted_messages", "count", len(victims))
	}
	return len(victims), nil
}

func deletePrefix(prefix string) error {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	var keys [][]byte
	p := []byte(prefix)
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}
