package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Actions recorded for a token lifecycle.
const (
	ActionLogin      = "login"
	ActionRenew      = "renew"
	ActionInvalidate = "invalidate"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event describes one authentication outcome. The token value is never part
// of an event; Accessor identifies the token instead.
type Event struct {
	EventID    string
	OccurredAt time.Time
	Method     string
	Action     string
	Outcome    string
	Accessor   string
	TTL        time.Duration
	Attempts   int
	Detail     string
}

type Writer interface {
	InsertAuthEvent(ctx context.Context, ev Event) (string, error)
}

type Store struct {
	DB Writer
}

func New() *Store {
	return &Store{}
}

func NewWithDB(db Writer) *Store {
	return &Store{DB: db}
}

// Record persists ev. A nil store or a store without writer drops the event.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if strings.TrimSpace(ev.Method) == "" {
		return errors.New("method required")
	}
	if strings.TrimSpace(ev.Action) == "" {
		return errors.New("action required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.DB.InsertAuthEvent(ctx, ev)
	return err
}
