// Package store implements chat persistence on top of the kv boundary using
// two coupled structures:
//
//   - Records: one hash per chat at "chat:<id>" holding a full snapshot.
//   - Index:   one sorted set per user at "user:chat:<userId>" whose members
//     are record keys scored by save time (unix milliseconds).
//
// Chats composes both: Save, Delete and Clear submit the record write and
// the index write as one kv batch. The kv layer decides whether that batch is
// atomic; when it is not, readers must tolerate index entries without a
// record (see Chats.List).
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/kv"
)

// ErrNotFound is returned when a chat record does not exist.
var ErrNotFound = errors.New("chat record not found")

const (
	chatKeyPrefix  = "chat:"
	indexKeyPrefix = "user:chat:"
)

// ChatKey returns the record key of a chat.
func ChatKey(id string) string { return chatKeyPrefix + id }

// IndexKey returns the index key of a user.
func IndexKey(userID string) string { return indexKeyPrefix + userID }

// ChatIDFromRef extracts the chat id from an index reference.
func ChatIDFromRef(ref string) string { return strings.TrimPrefix(ref, chatKeyPrefix) }

// Records is the chat record store.
type Records struct {
	kv kv.Store
}

// NewRecords constructs a record store.
func NewRecords(s kv.Store) *Records { return &Records{kv: s} }

// Get returns the record, or ErrNotFound when it is absent.
func (r *Records) Get(ctx context.Context, id string) (*domain.ChatRecord, error) {
	m, err := r.kv.HGetAll(ctx, ChatKey(id))
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(m)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// GetMany resolves several records in one round-trip. The result is aligned
// with ids; absent records are nil.
func (r *Records) GetMany(ctx context.Context, ids []string) ([]*domain.ChatRecord, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ChatKey(id)
	}
	maps, err := r.kv.HGetAllMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ChatRecord, len(ids))
	for i, m := range maps {
		rec, err := decodeRecord(m)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Owner reads only the owner field of a record.
func (r *Records) Owner(ctx context.Context, id string) (string, error) {
	uid, ok, err := r.kv.HGet(ctx, ChatKey(id), fieldUserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return uid, nil
}

// Put writes a full snapshot (last writer wins).
func (r *Records) Put(ctx context.Context, rec *domain.ChatRecord) error {
	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return r.kv.Batch(ctx, func(b kv.Batch) { b.HSet(ChatKey(rec.ID), fields) })
}

// SetSharePath publishes a record by writing only its share fields, so a
// concurrent Chats.Save of the same record keeps its messages and title.
func (r *Records) SetSharePath(ctx context.Context, rec *domain.ChatRecord) error {
	return r.kv.Batch(ctx, func(b kv.Batch) {
		b.HSet(ChatKey(rec.ID), map[string]string{
			fieldID:        rec.ID,
			fieldUserID:    rec.UserID,
			fieldSharePath: rec.SharePath,
		})
	})
}

// Delete removes a record. Deleting an absent record is not an error.
func (r *Records) Delete(ctx context.Context, id string) error {
	return r.kv.Batch(ctx, func(b kv.Batch) { b.Del(ChatKey(id)) })
}

// Index is the per-user ordered chat index.
type Index struct {
	kv kv.Store
}

// NewIndex constructs an index.
func NewIndex(s kv.Store) *Index { return &Index{kv: s} }

// Add inserts ref for userID, or moves it to score if present.
func (x *Index) Add(ctx context.Context, userID, ref string, score float64) error {
	return x.kv.Batch(ctx, func(b kv.Batch) { b.ZAdd(IndexKey(userID), ref, score) })
}

// Remove deletes ref from the user's index.
func (x *Index) Remove(ctx context.Context, userID, ref string) error {
	return x.kv.Batch(ctx, func(b kv.Batch) { b.ZRem(IndexKey(userID), ref) })
}

// List returns entries most-recent-first. A limit <= 0 returns everything
// from offset on.
func (x *Index) List(ctx context.Context, userID string, offset, limit int) ([]domain.IndexEntry, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	members, err := x.kv.ZRevRange(ctx, IndexKey(userID), int64(offset), stop)
	if err != nil {
		return nil, err
	}
	out := make([]domain.IndexEntry, 0, len(members))
	for _, m := range members {
		out = append(out, domain.IndexEntry{Ref: m.Member, Score: m.Score})
	}
	return out, nil
}

// Stats returns the entry count and the highest score of the user's index.
func (x *Index) Stats(ctx context.Context, userID string) (count int64, maxScore float64, err error) {
	count, err = x.kv.ZCard(ctx, IndexKey(userID))
	if err != nil || count == 0 {
		return count, 0, err
	}
	top, err := x.kv.ZRevRange(ctx, IndexKey(userID), 0, 0)
	if err != nil {
		return 0, 0, err
	}
	if len(top) > 0 {
		maxScore = top[0].Score
	}
	return count, maxScore, nil
}

// Clock yields strictly increasing unix-millisecond scores so two saves in
// the same process never tie.
type Clock struct {
	mu   sync.Mutex
	last float64
	now  func() time.Time
}

// Next returns the next score.
func (c *Clock) Next() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	s := float64(now().UnixMilli())
	if s <= c.last {
		s = c.last + 1
	}
	c.last = s
	return s
}

// Chats composes Records and Index into coupled operations.
type Chats struct {
	Records *Records
	Index   *Index

	kv    kv.Store
	clock *Clock
}

// NewChats constructs the coupled chat store.
func NewChats(s kv.Store) *Chats {
	return &Chats{
		Records: NewRecords(s),
		Index:   NewIndex(s),
		kv:      s,
		clock:   &Clock{},
	}
}

// Save writes the record and moves its index entry to the head of the
// owner's index in one batch. It returns the score used. An empty SharePath
// is not written: a share path, once set, survives a Save that raced with
// the Share.
func (c *Chats) Save(ctx context.Context, rec *domain.ChatRecord) (float64, error) {
	fields, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	if rec.SharePath == "" {
		delete(fields, fieldSharePath)
	}
	score := c.clock.Next()
	err = c.kv.Batch(ctx, func(b kv.Batch) {
		b.HSet(ChatKey(rec.ID), fields)
		b.ZAdd(IndexKey(rec.UserID), ChatKey(rec.ID), score)
	})
	return score, err
}

// Delete removes the record and its index entry in one batch.
func (c *Chats) Delete(ctx context.Context, id, ownerID string) error {
	return c.kv.Batch(ctx, func(b kv.Batch) {
		b.Del(ChatKey(id))
		b.ZRem(IndexKey(ownerID), ChatKey(id))
	})
}

// Clear removes every chat in the user's index, records and entries, in one
// batch. It returns the number of index entries removed.
func (c *Chats) Clear(ctx context.Context, userID string) (int, error) {
	entries, err := c.Index.List(ctx, userID, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	refs := make([]string, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref
	}
	err = c.kv.Batch(ctx, func(b kv.Batch) {
		b.Del(refs...)
		b.ZRem(IndexKey(userID), refs...)
	})
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

// Anomaly describes an index entry that could not be resolved to a record
// owned by the index's user.
type Anomaly struct {
	Ref    string
	Reason string
}

// List pages through the user's index most-recent-first and resolves each
// entry in one round-trip. Entries whose record is missing, or owned by a
// different user, are skipped and returned as anomalies.
func (c *Chats) List(ctx context.Context, userID string, offset, limit int) ([]*domain.ChatRecord, []Anomaly, error) {
	entries, err := c.Index.List(ctx, userID, offset, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return []*domain.ChatRecord{}, nil, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = ChatIDFromRef(e.Ref)
	}
	recs, err := c.Records.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	out := make([]*domain.ChatRecord, 0, len(recs))
	var anomalies []Anomaly
	for i, rec := range recs {
		switch {
		case rec == nil:
			anomalies = append(anomalies, Anomaly{Ref: entries[i].Ref, Reason: "index entry without record"})
		case rec.UserID != userID:
			anomalies = append(anomalies, Anomaly{Ref: entries[i].Ref, Reason: "record owned by another user"})
		default:
			out = append(out, rec)
		}
	}
	return out, anomalies, nil
}
