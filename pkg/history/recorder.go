package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/echo"
)

// Recorder stores every echoed response. It implements echo.Observer.
type Recorder struct {
	Store    *Store
	Database *SQLite
	Now      func() time.Time
}

func (r *Recorder) Observe(ctx context.Context, id string, res *echo.Response) {
	now := time.Now

	if r.Now != nil {
		now = r.Now
	}

	e := Entry{
		ID:        id,
		Timestamp: now().UTC(),
		Response:  res,
	}

	r.Store.Add(e)

	if r.Database == nil {
		return
	}

	if err := r.Database.Add(context.WithoutCancel(ctx), e); err != nil {
		zerolog.Ctx(ctx).Warn().Stack().Err(err).Str("id", id).Msg("Failed to persist the request")
	}
}

// Restore loads the most recent persisted entries into the store.
func (r *Recorder) Restore(ctx context.Context, limit int) (int, error) {
	if r.Database == nil {
		return 0, nil
	}

	entries, err := r.Database.Recent(ctx, limit)

	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		r.Store.Add(e)
	}

	return len(entries), nil
}
