package session

import "context"

// Persister is the optional durable backend holding one record per session
// id. Load returns (nil, nil) for an unknown id.
type Persister interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, sessionID string) (*Record, error)
}
