package queue

import (
	"context"
	"fmt"

	"remotedev/internal/envelope"
	"remotedev/internal/services"
	"remotedev/internal/store"
)

const archivePrefix = "envelope:terminal:"

// Archive durably records envelopes that reached COMPLETED or FAILED.
type Archive struct {
	store store.Store
}

// NewArchive constructs an Archive backed by st.
func NewArchive(st store.Store) *Archive {
	return &Archive{store: st}
}

// Record stores env under its id, replacing any earlier record.
func (a *Archive) Record(ctx context.Context, env *envelope.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return services.Wrap(services.ErrValidation, "archive", "record", "encode envelope", err)
	}
	if err := a.store.Set(ctx, archivePrefix+env.ID, raw); err != nil {
		return fmt.Errorf("archive %s: %w", env.ID, err)
	}
	return nil
}

// Get returns the archived envelope for id.
func (a *Archive) Get(ctx context.Context, id string) (*envelope.Envelope, error) {
	raw, ok, err := a.store.Get(ctx, archivePrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "archive", "get", "no terminal envelope "+id, nil)
	}
	return envelope.Unmarshal(raw)
}

// List returns every archived envelope ordered by id.
func (a *Archive) List(ctx context.Context) ([]*envelope.Envelope, error) {
	keys, err := a.store.Keys(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*envelope.Envelope, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
