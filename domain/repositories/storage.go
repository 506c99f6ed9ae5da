package repositories

import "context"

// ProfileStore persists enrollment clips as raw PCM. Saving a profile
// replaces any previous one atomically from the caller's point of view:
// either all clips are stored or the old profile survives.
type ProfileStore interface {
	SaveProfile(ctx context.Context, clips [][]byte) error

	// LoadProfile returns the stored clips in enrollment order, or an
	// empty slice when no profile exists.
	LoadProfile(ctx context.Context) ([][]byte, error)

	ClearProfile(ctx context.Context) error
}

// SettingsStore holds small durable flags (enrollment status, streaming
// toggle) that must survive process restarts.
type SettingsStore interface {
	SetBool(key string, value bool) error

	// GetBool returns false for keys that were never written.
	GetBool(key string) (bool, error)

	Close() error
}
