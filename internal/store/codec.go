package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Hash field names of a chat record.
const (
	fieldID        = "id"
	fieldUserID    = "userId"
	fieldTitle     = "title"
	fieldPath      = "path"
	fieldMessages  = "messages"
	fieldSharePath = "sharePath"
	fieldCreatedAt = "createdAt"
)

// encodeRecord flattens a record into hash fields. Every field is always
// written so a put fully replaces the previous snapshot.
func encodeRecord(rec *domain.ChatRecord) (map[string]string, error) {
	msgs := rec.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return map[string]string{
		fieldID:        rec.ID,
		fieldUserID:    rec.UserID,
		fieldTitle:     rec.Title,
		fieldPath:      rec.Path,
		fieldMessages:  string(b),
		fieldSharePath: rec.SharePath,
		fieldCreatedAt: strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
	}, nil
}

// decodeRecord rebuilds a record from hash fields. An empty map decodes to
// (nil, nil): the record is absent.
func decodeRecord(m map[string]string) (*domain.ChatRecord, error) {
	if len(m) == 0 {
		return nil, nil
	}
	rec := &domain.ChatRecord{
		ID:        m[fieldID],
		UserID:    m[fieldUserID],
		Title:     m[fieldTitle],
		Path:      m[fieldPath],
		SharePath: m[fieldSharePath],
	}
	if raw := m[fieldMessages]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of chat %q: %w", rec.ID, err)
		}
	}
	if raw := m[fieldCreatedAt]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode createdAt of chat %q: %w", rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}
