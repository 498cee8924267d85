package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"remotedev/internal/services"
	"remotedev/internal/store"
)

const (
	workItemPrefix = "workitem:"
	workItemIndex  = "workitem:index"
	// StateCreated is the history state recorded when a work item is created.
	StateCreated = "CREATED"
)

// WorkItemKey returns the store key holding a work item.
func WorkItemKey(id string) string { return workItemPrefix + id }

// WorkItemHistory is one entry in a work item's history.
type WorkItemHistory struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// WorkItem is the unit advanced by a workflow definition.
type WorkItem struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	WorkflowName  string            `json:"workflow_name"`
	CurrentState  string            `json:"current_state"`
	ApprovalFlags map[string]bool   `json:"approval_flags"`
	Meta          map[string]any    `json:"meta"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	History       []WorkItemHistory `json:"history"`
}

func newWorkItemID() string {
	return "wi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (w *WorkItem) addHistory(state, message string, at time.Time) {
	w.History = append(w.History, WorkItemHistory{State: state, Timestamp: at, Message: message})
	w.UpdatedAt = at
}

// MetaString returns a string meta value.
func (w *WorkItem) MetaString(key string) string {
	if w == nil || w.Meta == nil {
		return ""
	}
	if s, ok := w.Meta[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// workItems persists work items as JSON documents plus an id index set.
type workItems struct {
	store store.Store
}

func (r workItems) save(ctx context.Context, item *WorkItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return services.Wrap(services.ErrValidation, "orchestrator", "save work item", "encode", err)
	}
	if err := r.store.Set(ctx, WorkItemKey(item.ID), raw); err != nil {
		return fmt.Errorf("save %s: %w", WorkItemKey(item.ID), err)
	}
	if err := r.store.SetAdd(ctx, workItemIndex, item.ID); err != nil {
		return fmt.Errorf("index %s: %w", item.ID, err)
	}
	return nil
}

func (r workItems) get(ctx context.Context, id string) (*WorkItem, error) {
	raw, ok, err := r.store.Get(ctx, WorkItemKey(id))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", WorkItemKey(id), err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "load work item", "work item "+id+" not found", nil)
	}
	var item WorkItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "load work item", "decode "+id, err)
	}
	if item.ApprovalFlags == nil {
		item.ApprovalFlags = map[string]bool{}
	}
	if item.Meta == nil {
		item.Meta = map[string]any{}
	}
	return &item, nil
}

func (r workItems) list(ctx context.Context) ([]*WorkItem, error) {
	ids, err := r.store.SetMembers(ctx, workItemIndex)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	items := make([]*WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := r.get(ctx, id)
		if err != nil {
			// An index entry without a document is skipped.
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r workItems) delete(ctx context.Context, id string) (bool, error) {
	existed, err := r.store.Delete(ctx, WorkItemKey(id))
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", WorkItemKey(id), err)
	}
	if err := r.store.SetRemove(ctx, workItemIndex, id); err != nil {
		return existed, fmt.Errorf("unindex %s: %w", id, err)
	}
	return existed, nil
}
