package model

import (
	"fmt"
	"strconv"
	"strings"

	"chitter/pkg/trace"

	"github.com/ServiceWeaver/weaver"
)

// User is the public identity record. Credential material (password hash,
// salt) never leaves the identity service and is not part of this type.
type User struct {
	weaver.AutoMarshal
	UserID       int64  `bson:"user_id"`
	FirstName    string `bson:"first_name"`
	LastName     string `bson:"last_name"`
	Email        string `bson:"email"`
	ProfileImage string `bson:"profile_image,omitempty"`
	CreatedAt    int64  `bson:"created_at"` // epoch seconds
}

// Location is a chit check-in. Both coordinates are present or the whole
// struct is absent from the chit.
type Location struct {
	weaver.AutoMarshal
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
}

type Chit struct {
	weaver.AutoMarshal
	ChitID    int64     `bson:"chit_id"`
	AuthorID  int64     `bson:"author_id"`
	Content   string    `bson:"content"`
	Location  *Location `bson:"location,omitempty"`
	ImageRef  string    `bson:"image_ref,omitempty"`
	CreatedAt int64     `bson:"created_at"` // epoch seconds
	// Place is a cosmetic reverse-geocoded annotation filled in on feed
	// reads. It is never persisted.
	Place string `bson:"-"`
}

// FeedCursor marks the last chit a previous feed page ended on. Feed order is
// (created_at desc, chit_id asc), so the next page starts strictly after this
// position.
type FeedCursor struct {
	weaver.AutoMarshal
	CreatedAt int64
	ChitID    int64
}

type FeedPage struct {
	weaver.AutoMarshal
	Chits []Chit
	// NextCursor is empty when there are no more chits.
	NextCursor string
}

// ChitPosted is the fan-out bus message published after a chit is stored.
// It travels over RabbitMQ as JSON, not over weaver RPC.
type ChitPosted struct {
	ReqID     int64 `json:"req_id"`
	ChitID    int64 `json:"chit_id"`
	AuthorID  int64 `json:"author_id"`
	Timestamp int64 `json:"timestamp"`
	// tracing
	SpanContext trace.SpanContext `json:"span_context"`
	// evaluation metrics
	NotificationSendTs int64 `json:"notification_send_ts"`
}

func (c FeedCursor) Encode() string {
	return fmt.Sprintf("%d_%d", c.CreatedAt, c.ChitID)
}

// ParseCursor decodes a cursor previously produced by Encode. An empty string
// is a valid "from the top" cursor and yields nil.
func ParseCursor(s string) (*FeedCursor, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed feed cursor %q", s)
	}
	createdAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed feed cursor %q", s)
	}
	chitID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed feed cursor %q", s)
	}
	return &FeedCursor{CreatedAt: createdAt, ChitID: chitID}, nil
}
