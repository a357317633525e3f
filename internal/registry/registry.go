// Package registry holds the running actions of the current session.
//
// Membership is the only signal for "this action is running". Entries can be
// written through to a Journal so that other deck processes (and the next
// session) see them. Remove doubles as a claim: the caller that gets true is
// the one allowed to record the run.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/models"
)

// Journal persists registry entries. DeleteRunningAction reports whether a
// row was actually removed.
type Journal interface {
	InsertRunningAction(ra *models.RunningAction) error
	UpdateRunningAction(ra *models.RunningAction) error
	DeleteRunningAction(id string) (bool, error)
	ListRunningActions() ([]*models.RunningAction, error)
}

type entry struct {
	ra        models.RunningAction
	journaled bool
}

type Registry struct {
	mu      sync.Mutex
	entries []*entry
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Registry)

func WithJournal(j Journal) Option { return func(r *Registry) { r.journal = j } }

func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add stores ra, filling in ID and StartedAt when unset, and returns the
// stored copy.
func (r *Registry) Add(ra models.RunningAction) models.RunningAction {
	if ra.ID == "" {
		ra.ID = uuid.NewString()
	}
	if ra.StartedAt.IsZero() {
		ra.StartedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{ra: ra}
	if r.journal != nil {
		if err := r.journal.InsertRunningAction(&ra); err != nil {
			r.logger.Error("failed to journal running action", zap.String("id", ra.ID), zap.Error(err))
		} else {
			e.journaled = true
		}
	}
	r.entries = append(r.entries, e)
	r.logger.Debug("running action added",
		zap.String("id", ra.ID),
		zap.Int64("action_id", ra.ActionID),
		zap.Int("pid", ra.ProcessID))
	return ra
}

// Remove drops the entry with id and reports whether this call claimed it.
// A journaled entry is only claimed when its journal row was deleted here.
// When the journal cannot be written the entry stays and the error is
// returned, so the caller can try again.
func (r *Registry) Remove(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return false, nil
	}
	e := r.entries[i]

	deleted := true
	if e.journaled {
		var err error
		deleted, err = r.journal.DeleteRunningAction(id)
		if err != nil {
			r.logger.Error("failed to delete journaled running action", zap.String("id", id), zap.Error(err))
			return false, fmt.Errorf("failed to release running action %s: %w", id, err)
		}
		if !deleted {
			r.logger.Debug("running action already claimed elsewhere", zap.String("id", id))
		}
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return deleted, nil
}

func (r *Registry) GetAll() []models.RunningAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.RunningAction, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.ra
	}
	return out
}

func (r *Registry) GetByWorkspace(workspaceID int64) []models.RunningAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.RunningAction
	for _, e := range r.entries {
		if e.ra.WorkspaceID == workspaceID {
			out = append(out, e.ra)
		}
	}
	return out
}

// Find returns the newest entry for the action.
func (r *Registry) Find(workspaceID, actionID int64) (models.RunningAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		ra := r.entries[i].ra
		if ra.WorkspaceID == workspaceID && ra.ActionID == actionID {
			return ra, true
		}
	}
	return models.RunningAction{}, false
}

func (r *Registry) IsRunning(workspaceID, actionID int64) bool {
	_, ok := r.Find(workspaceID, actionID)
	return ok
}

type Patch struct {
	ProcessID  *int
	ActionName *string
}

// Update applies the non-nil fields of p to the entry with id.
func (r *Registry) Update(id string, p Patch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return false
	}
	e := r.entries[i]
	if p.ProcessID != nil {
		e.ra.ProcessID = *p.ProcessID
	}
	if p.ActionName != nil {
		e.ra.ActionName = *p.ActionName
	}
	if e.journaled {
		if err := r.journal.UpdateRunningAction(&e.ra); err != nil {
			r.logger.Error("failed to update journaled running action", zap.String("id", id), zap.Error(err))
		}
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear forgets every in-memory entry. The journal keeps its rows so a later
// session can still reconcile them.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Sync brings the in-memory entries in line with the journal: rows written by
// other processes are adopted and journaled entries whose rows are gone are
// dropped. Without a journal it does nothing.
func (r *Registry) Sync() error {
	if r.journal == nil {
		return nil
	}
	rows, err := r.journal.ListRunningActions()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]bool, len(rows))
	for _, ra := range rows {
		present[ra.ID] = true
	}

	kept := r.entries[:0]
	known := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		if e.journaled && !present[e.ra.ID] {
			continue
		}
		kept = append(kept, e)
		known[e.ra.ID] = true
	}
	r.entries = kept

	for _, ra := range rows {
		if !known[ra.ID] {
			r.entries = append(r.entries, &entry{ra: *ra, journaled: true})
		}
	}
	return nil
}

func (r *Registry) index(id string) int {
	for i, e := range r.entries {
		if e.ra.ID == id {
			return i
		}
	}
	return -1
}
