package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/models"
)

type memJournal struct {
	mu        sync.Mutex
	rows      map[string]models.RunningAction
	insertErr error
	deleteErr error
}

func newMemJournal() *memJournal {
	return &memJournal{rows: make(map[string]models.RunningAction)}
}

func (j *memJournal) InsertRunningAction(ra *models.RunningAction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.insertErr != nil {
		return j.insertErr
	}
	j.rows[ra.ID] = *ra
	return nil
}

func (j *memJournal) UpdateRunningAction(ra *models.RunningAction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows[ra.ID] = *ra
	return nil
}

func (j *memJournal) DeleteRunningAction(id string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.deleteErr != nil {
		return false, j.deleteErr
	}
	_, ok := j.rows[id]
	delete(j.rows, id)
	return ok, nil
}

func (j *memJournal) ListRunningActions() ([]*models.RunningAction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*models.RunningAction
	for _, ra := range j.rows {
		ra := ra
		out = append(out, &ra)
	}
	return out, nil
}

func TestAddAssignsIdentity(t *testing.T) {
	r := New(zap.NewNop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	a := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 2, ActionName: "api", ProcessID: 100})
	b := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 2, ActionName: "api", ProcessID: 101})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, fixed, a.StartedAt)
	assert.Equal(t, 2, r.Len())
}

func TestGetAllReturnsCopies(t *testing.T) {
	r := New(zap.NewNop())
	r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	all := r.GetAll()
	all[0].ProcessID = 999

	assert.Equal(t, 10, r.GetAll()[0].ProcessID)
}

func TestRemoveClaimsOnce(t *testing.T) {
	r := New(zap.NewNop())
	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	claimed, err := r.Remove(ra.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = r.Remove(ra.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, r.GetAll())
}

func TestConcurrentRemoveHasOneWinner(t *testing.T) {
	r := New(zap.NewNop(), WithJournal(newMemJournal()))
	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if claimed, _ := r.Remove(ra.ID); claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestGetByWorkspaceAndFind(t *testing.T) {
	r := New(zap.NewNop())
	r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})
	r.Add(models.RunningAction{WorkspaceID: 2, ActionID: 5, ProcessID: 20})
	newest := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 11})

	assert.Len(t, r.GetByWorkspace(1), 2)
	assert.Len(t, r.GetByWorkspace(2), 1)
	assert.Empty(t, r.GetByWorkspace(3))

	found, ok := r.Find(1, 1)
	require.True(t, ok)
	assert.Equal(t, newest.ID, found.ID)

	_, ok = r.Find(2, 1)
	assert.False(t, ok)
	assert.True(t, r.IsRunning(2, 5))
}

func TestUpdate(t *testing.T) {
	j := newMemJournal()
	r := New(zap.NewNop(), WithJournal(j))
	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ActionName: "old", ProcessID: 10})

	pid := 42
	assert.True(t, r.Update(ra.ID, Patch{ProcessID: &pid}))
	got, _ := r.Find(1, 1)
	assert.Equal(t, 42, got.ProcessID)
	assert.Equal(t, "old", got.ActionName)
	assert.Equal(t, 42, j.rows[ra.ID].ProcessID)

	assert.False(t, r.Update("missing", Patch{ProcessID: &pid}))
}

func TestRemoveFailsClaimWhenJournalRowGone(t *testing.T) {
	j := newMemJournal()
	r := New(zap.NewNop(), WithJournal(j))
	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	// another deck process claimed it
	_, _ = j.DeleteRunningAction(ra.ID)

	claimed, err := r.Remove(ra.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, r.GetAll())
}

func TestRemoveKeepsEntryWhenJournalFails(t *testing.T) {
	j := newMemJournal()
	r := New(zap.NewNop(), WithJournal(j))
	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	j.deleteErr = errors.New("database is locked")
	claimed, err := r.Remove(ra.ID)
	require.ErrorContains(t, err, "database is locked")
	assert.False(t, claimed)
	assert.True(t, r.IsRunning(1, 1))

	j.deleteErr = nil
	claimed, err = r.Remove(ra.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.False(t, r.IsRunning(1, 1))
}

func TestUnjournaledEntryStillClaimable(t *testing.T) {
	j := newMemJournal()
	j.insertErr = errors.New("disk full")
	r := New(zap.NewNop(), WithJournal(j))

	ra := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})
	claimed, err := r.Remove(ra.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSyncAdoptsAndDrops(t *testing.T) {
	j := newMemJournal()
	r := New(zap.NewNop(), WithJournal(j))
	mine := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})
	gone := r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 2, ProcessID: 11})

	_, _ = j.DeleteRunningAction(gone.ID)
	require.NoError(t, j.InsertRunningAction(&models.RunningAction{ID: "other", WorkspaceID: 1, ActionID: 3, ProcessID: 12}))

	require.NoError(t, r.Sync())

	ids := make([]string, 0)
	for _, ra := range r.GetAll() {
		ids = append(ids, ra.ID)
	}
	assert.ElementsMatch(t, []string{mine.ID, "other"}, ids)
	claimed, err := r.Remove("other")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClearKeepsJournal(t *testing.T) {
	j := newMemJournal()
	r := New(zap.NewNop(), WithJournal(j))
	r.Add(models.RunningAction{WorkspaceID: 1, ActionID: 1, ProcessID: 10})

	r.Clear()
	assert.Zero(t, r.Len())
	assert.Len(t, j.rows, 1)

	require.NoError(t, r.Sync())
	assert.Equal(t, 1, r.Len())
}
