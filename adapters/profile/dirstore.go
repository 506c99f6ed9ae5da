// Package profile persists enrollment clips on the local filesystem.
package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/voicegate/voicegate/domain/repositories"
)

const clipExtension = ".pcm"

// DirStore stores each enrollment clip as clip_N.pcm in a directory.
// SaveProfile wipes the old profile first so the directory always holds
// exactly one enrollment.
type DirStore struct {
	dir string
}

var _ repositories.ProfileStore = (*DirStore)(nil)

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) SaveProfile(ctx context.Context, clips [][]byte) error {
	if err := s.ClearProfile(ctx); err != nil {
		return err
	}
	for i, clip := range clips {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(s.dir, fmt.Sprintf("clip_%d%s", i, clipExtension))
		if err := os.WriteFile(path, clip, 0o600); err != nil {
			return fmt.Errorf("write profile clip %d: %w", i, err)
		}
	}
	return nil
}

func (s *DirStore) LoadProfile(ctx context.Context) ([][]byte, error) {
	names, err := s.clipNames()
	if err != nil {
		return nil, err
	}
	clips := make([][]byte, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read profile clip %s: %w", name, err)
		}
		clips = append(clips, data)
	}
	return clips, nil
}

func (s *DirStore) ClearProfile(ctx context.Context) error {
	names, err := s.clipNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("remove profile clip %s: %w", name, err)
		}
	}
	return nil
}

// clipNames returns clip files in enrollment order. Names embed a
// zero-based index, so a lexicographic sort with a numeric tiebreak on
// length keeps clip_10 after clip_9.
func (s *DirStore) clipNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profile directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "clip_") || !strings.HasSuffix(name, clipExtension) {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names, nil
}
