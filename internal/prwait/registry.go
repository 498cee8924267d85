package prwait

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/services"
	"remotedev/internal/store"
)

const (
	pendingPrefix = "prwait:pending:"
	outcomePrefix = "prwait:outcome:"
)

// Status is the lifecycle status of a registration.
type Status string

const (
	StatusPending Status = "pending"
	StatusMerged  Status = "merged"
	StatusClosed  Status = "closed"
	StatusTimeout Status = "timeout"
)

// Registration is one outstanding pull request wait.
type Registration struct {
	EventID          string             `json:"event_id"`
	PRNumber         int                `json:"pr_number"`
	PRURL            string             `json:"pr_url,omitempty"`
	RepoOwner        string             `json:"repo_owner"`
	RepoName         string             `json:"repo_name"`
	AgentName        string             `json:"agent_name"`
	NextAgent        string             `json:"next_agent"`
	Snapshot         *envelope.Envelope `json:"envelope_snapshot"`
	CreatedAt        time.Time          `json:"created_at"`
	LastCheckedAt    time.Time          `json:"last_checked_at,omitempty"`
	Status           Status             `json:"status"`
	ActionedReviewID int64              `json:"actioned_review_id,omitempty"`

	// stored is the encoded value this registration was read from; writes
	// from the poller only land while the store still holds it.
	stored []byte
}

// Outcome records how a registration ended.
type Outcome struct {
	EventID    string             `json:"event_id"`
	PRNumber   int                `json:"pr_number"`
	RepoOwner  string             `json:"repo_owner"`
	RepoName   string             `json:"repo_name"`
	Status     Status             `json:"status"`
	Detail     string             `json:"detail,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at"`
	Snapshot   *envelope.Envelope `json:"envelope_snapshot,omitempty"`
}

// Registry persists registrations and outcomes in the durable store.
type Registry struct {
	store store.Store
	now   func() time.Time
}

// NewRegistry constructs a Registry backed by st.
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st, now: time.Now}
}

// Register stores reg, replacing any registration with the same event id.
func (r *Registry) Register(ctx context.Context, reg Registration) error {
	if err := reg.validate(); err != nil {
		return err
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = r.now().UTC()
	}
	reg.Status = StatusPending
	if reg.ActionedReviewID == 0 {
		// A rework pass that pushed to the same pull request must not act on
		// the review it already answered.
		if prev, err := r.Get(ctx, reg.EventID); err == nil && prev.PRNumber == reg.PRNumber &&
			prev.RepoOwner == reg.RepoOwner && prev.RepoName == reg.RepoName {
			reg.ActionedReviewID = prev.ActionedReviewID
		}
	}
	return r.put(ctx, reg)
}

func (reg Registration) validate() error {
	var problems []string
	if strings.TrimSpace(reg.EventID) == "" {
		problems = append(problems, "event_id is empty")
	}
	if reg.PRNumber <= 0 {
		problems = append(problems, "pr_number must be positive")
	}
	if strings.TrimSpace(reg.RepoOwner) == "" || strings.TrimSpace(reg.RepoName) == "" {
		problems = append(problems, "repository owner and name are required")
	}
	if strings.TrimSpace(reg.AgentName) == "" {
		problems = append(problems, "agent_name is empty")
	}
	if reg.Snapshot == nil {
		problems = append(problems, "envelope snapshot is missing")
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrValidation, "prwait", "register", strings.Join(problems, "; "), nil)
	}
	return nil
}

// Update writes reg back only if the stored registration is still the one reg
// was read from. It reports false when the wait was re-registered or removed
// in the meantime; reg is left untouched in that case.
func (r *Registry) Update(ctx context.Context, reg *Registration) (bool, error) {
	raw, err := encode(*reg)
	if err != nil {
		return false, err
	}
	swapped, err := r.store.CompareAndSwap(ctx, pendingPrefix+reg.EventID, reg.stored, raw)
	if err != nil {
		return false, fmt.Errorf("update registration %s: %w", reg.EventID, err)
	}
	if swapped {
		reg.stored = raw
	}
	return swapped, nil
}

// Release removes reg if it has not been replaced since it was read.
func (r *Registry) Release(ctx context.Context, reg Registration) (bool, error) {
	if reg.stored == nil {
		return false, nil
	}
	released, err := r.store.CompareAndSwap(ctx, pendingPrefix+reg.EventID, reg.stored, nil)
	if err != nil {
		return false, fmt.Errorf("release registration %s: %w", reg.EventID, err)
	}
	return released, nil
}

// Restore puts back a released registration unless a new one took its place.
func (r *Registry) Restore(ctx context.Context, reg Registration) error {
	raw, err := encode(reg)
	if err != nil {
		return err
	}
	if _, err := r.store.CompareAndSwap(ctx, pendingPrefix+reg.EventID, nil, raw); err != nil {
		return fmt.Errorf("restore registration %s: %w", reg.EventID, err)
	}
	return nil
}

func (r *Registry) put(ctx context.Context, reg Registration) error {
	raw, err := encode(reg)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, pendingPrefix+reg.EventID, raw); err != nil {
		return fmt.Errorf("store registration %s: %w", reg.EventID, err)
	}
	return nil
}

func encode(reg Registration) ([]byte, error) {
	raw, err := json.Marshal(reg)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "prwait", "store", "encode registration", err)
	}
	return raw, nil
}

// Get returns the registration for eventID.
func (r *Registry) Get(ctx context.Context, eventID string) (Registration, error) {
	raw, ok, err := r.store.Get(ctx, pendingPrefix+eventID)
	if err != nil {
		return Registration{}, err
	}
	if !ok {
		return Registration{}, services.Wrap(services.ErrNotFound, "prwait", "get", "no pull request wait for "+eventID, nil)
	}
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registration{}, services.Wrap(services.ErrValidation, "prwait", "get", "decode registration", err)
	}
	reg.stored = raw
	return reg, nil
}

// List returns registrations ordered by creation time. Undecodable entries
// are skipped.
func (r *Registry) List(ctx context.Context) ([]Registration, error) {
	keys, err := r.store.Keys(ctx, pendingPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(keys))
	for _, key := range keys {
		reg, err := r.Get(ctx, strings.TrimPrefix(key, pendingPrefix))
		if err != nil {
			continue
		}
		out = append(out, reg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Count reports the number of registrations.
func (r *Registry) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, pendingPrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// RecordOutcome stores how a registration ended.
func (r *Registry) RecordOutcome(ctx context.Context, outcome Outcome) error {
	if outcome.ResolvedAt.IsZero() {
		outcome.ResolvedAt = r.now().UTC()
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return services.Wrap(services.ErrValidation, "prwait", "record outcome", "encode outcome", err)
	}
	return r.store.Set(ctx, outcomePrefix+outcome.EventID, raw)
}

// Outcome returns the recorded outcome for eventID.
func (r *Registry) Outcome(ctx context.Context, eventID string) (Outcome, error) {
	raw, ok, err := r.store.Get(ctx, outcomePrefix+eventID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, services.Wrap(services.ErrNotFound, "prwait", "outcome", "no outcome for "+eventID, nil)
	}
	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, services.Wrap(services.ErrValidation, "prwait", "outcome", "decode outcome", err)
	}
	return outcome, nil
}

// Outcomes lists every recorded outcome ordered by resolution time.
func (r *Registry) Outcomes(ctx context.Context) ([]Outcome, error) {
	keys, err := r.store.Keys(ctx, outcomePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(keys))
	for _, key := range keys {
		outcome, err := r.Outcome(ctx, strings.TrimPrefix(key, outcomePrefix))
		if err != nil {
			continue
		}
		out = append(out, outcome)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ResolvedAt.Before(out[j].ResolvedAt)
	})
	return out, nil
}
