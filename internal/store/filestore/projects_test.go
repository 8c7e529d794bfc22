package filestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

func newTestProjectStore(test *testing.T) *ProjectStore {
	test.Helper()
	store, err := NewProjectStore(test.TempDir(), nil, WithLockRetryDelay(10*time.Millisecond))
	if err != nil {
		test.Fatalf("new project store: %v", err)
	}
	return store
}

func mustStoreProject(test *testing.T, store *ProjectStore, projectID string, owner string, target int64) {
	test.Helper()
	project := funding.Project{
		ProjectID:    projectID,
		Owner:        owner,
		Title:        "Project " + projectID,
		TargetAmount: target,
		Status:       funding.ProjectStatusActive,
	}
	if err := store.Create(context.Background(), project); err != nil {
		test.Fatalf("create project %s: %v", projectID, err)
	}
}

func mustID(test *testing.T, raw string) funding.ProjectID {
	test.Helper()
	projectID, err := funding.NewProjectID(raw)
	if err != nil {
		test.Fatalf("project id %q: %v", raw, err)
	}
	return projectID
}

func mustOwner(test *testing.T, raw string) funding.OwnerID {
	test.Helper()
	owner, err := funding.NewOwnerID(raw)
	if err != nil {
		test.Fatalf("owner id %q: %v", raw, err)
	}
	return owner
}

func TestCreateAndFindActiveProject(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	mustStoreProject(test, store, "1", "alice", 1000)

	project, location, err := store.Find(context.Background(), mustID(test, "1"))
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if location != funding.LocationActive {
		test.Fatalf("expected active location, got %s", location)
	}
	if project.ProjectID != "1" || project.Owner != "alice" || project.TargetAmount != 1000 {
		test.Fatalf("unexpected project: %+v", project)
	}
}

func TestCreateRejectsDuplicateAcrossSets(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 1000)

	duplicate := funding.Project{ProjectID: "1", Owner: "alice", Status: funding.ProjectStatusActive}
	if err := store.Create(ctx, duplicate); !errors.Is(err, funding.ErrProjectExists) {
		test.Fatalf("expected %v, got %v", funding.ErrProjectExists, err)
	}
	if err := store.Relocate(ctx, mustID(test, "1")); err != nil {
		test.Fatalf("relocate: %v", err)
	}
	if err := store.Create(ctx, duplicate); !errors.Is(err, funding.ErrProjectExists) {
		test.Fatalf("completed project must still block reuse, got %v", err)
	}
}

func TestCreateRejectsUnsafeIdentifiers(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	cases := []struct {
		name    string
		project funding.Project
	}{
		{name: "traversal project id", project: funding.Project{ProjectID: "../1", Owner: "alice"}},
		{name: "traversal owner", project: funding.Project{ProjectID: "1", Owner: "../alice"}},
		{name: "empty owner", project: funding.Project{ProjectID: "1"}},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := store.Create(ctx, testCase.project); err == nil {
				test.Fatalf("expected rejection for %+v", testCase.project)
			}
		})
	}
}

func TestUpdateActivePersistsMutation(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 1000)

	updated, err := store.UpdateActive(ctx, mustID(test, "1"), func(project funding.Project) (funding.Project, error) {
		project.CurrentAmount = 250
		project.SupportersCount = 1
		project.RecentDonations = []funding.DonationEntry{{Donor: "Bob", Amount: 250, Timestamp: "2025-03-14T12:00:00Z"}}
		return project, nil
	})
	if err != nil {
		test.Fatalf("update: %v", err)
	}
	if updated.CurrentAmount != 250 {
		test.Fatalf("expected 250, got %d", updated.CurrentAmount)
	}
	reread, _, err := store.Find(ctx, mustID(test, "1"))
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if reread.CurrentAmount != 250 || reread.SupportersCount != 1 || len(reread.RecentDonations) != 1 {
		test.Fatalf("mutation not persisted: %+v", reread)
	}
}

func TestUpdateActiveAfterRelocationReportsNotActive(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 1000)
	if err := store.Relocate(ctx, mustID(test, "1")); err != nil {
		test.Fatalf("relocate: %v", err)
	}

	_, err := store.UpdateActive(ctx, mustID(test, "1"), func(project funding.Project) (funding.Project, error) {
		return project, nil
	})
	if !errors.Is(err, funding.ErrProjectNotActive) {
		test.Fatalf("expected %v, got %v", funding.ErrProjectNotActive, err)
	}
}

func TestRelocateMovesDocumentExactlyOnce(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 1000)

	if err := store.Relocate(ctx, mustID(test, "1")); err != nil {
		test.Fatalf("relocate: %v", err)
	}
	_, location, err := store.Find(ctx, mustID(test, "1"))
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if location != funding.LocationCompleted {
		test.Fatalf("expected completed location, got %s", location)
	}
	if err := store.Relocate(ctx, mustID(test, "1")); !errors.Is(err, funding.ErrProjectNotActive) {
		test.Fatalf("second relocation must lose, got %v", err)
	}
}

func TestNextActiveOrdersNumericallyAndFilters(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "10", "alice", 100)
	mustStoreProject(test, store, "2", "alice", 100)
	mustStoreProject(test, store, "3", "alice", 100)
	mustStoreProject(test, store, "1", "bertha", 100)

	next, err := store.NextActive(ctx, mustOwner(test, "alice"), mustID(test, "2"))
	if err != nil {
		test.Fatalf("next active: %v", err)
	}
	if next.ProjectID != "3" {
		test.Fatalf("expected numeric ordering with exclusion, got %s", next.ProjectID)
	}

	next, err = store.NextActive(ctx, mustOwner(test, "alice"), funding.ProjectID{})
	if err != nil {
		test.Fatalf("next active: %v", err)
	}
	if next.ProjectID != "2" {
		test.Fatalf("expected lowest numeric id, got %s", next.ProjectID)
	}

	if _, err := store.NextActive(ctx, mustOwner(test, "carla"), funding.ProjectID{}); !errors.Is(err, funding.ErrNoQueuedProject) {
		test.Fatalf("expected %v, got %v", funding.ErrNoQueuedProject, err)
	}
}

func TestNextActiveSkipsCompletedStatusLeftInActiveSet(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 100)
	mustStoreProject(test, store, "2", "alice", 100)

	// A crash between the status mark and the relocation leaves a completed
	// document in the active directory.
	if _, err := store.UpdateActive(ctx, mustID(test, "1"), func(project funding.Project) (funding.Project, error) {
		project.Status = funding.ProjectStatusCompleted
		return project, nil
	}); err != nil {
		test.Fatalf("mark completed: %v", err)
	}

	next, err := store.NextActive(ctx, mustOwner(test, "alice"), funding.ProjectID{})
	if err != nil {
		test.Fatalf("next active: %v", err)
	}
	if next.ProjectID != "2" {
		test.Fatalf("expected stranded completed document skipped, got %s", next.ProjectID)
	}
}

func TestListActiveSpansOwners(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 100)
	mustStoreProject(test, store, "2", "bertha", 100)
	mustStoreProject(test, store, "3", "alice", 100)
	if err := store.Relocate(ctx, mustID(test, "3")); err != nil {
		test.Fatalf("relocate: %v", err)
	}

	projects, err := store.ListActive(ctx)
	if err != nil {
		test.Fatalf("list active: %v", err)
	}
	if len(projects) != 2 {
		test.Fatalf("expected 2 active projects, got %d", len(projects))
	}
}

func TestUpdateActiveSerializesConcurrentWriters(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 0)

	const writers = 4
	var waitGroup sync.WaitGroup
	var successMutex sync.Mutex
	successes := 0
	for worker := 0; worker < writers; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := store.UpdateActive(ctx, mustID(test, "1"), func(project funding.Project) (funding.Project, error) {
				project.CurrentAmount++
				return project, nil
			})
			if err == nil {
				successMutex.Lock()
				successes++
				successMutex.Unlock()
				return
			}
			if !errors.Is(err, funding.ErrLockContention) {
				test.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	project, _, err := store.Find(ctx, mustID(test, "1"))
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if successes == 0 {
		test.Fatalf("expected at least one writer to succeed")
	}
	// Every successful read-modify-write must be visible: no lost updates.
	if project.CurrentAmount != int64(successes) {
		test.Fatalf("lost update: %d successes but balance %d", successes, project.CurrentAmount)
	}
}

func TestUpdateActiveReportsContentionWhileLockHeld(test *testing.T) {
	test.Parallel()
	store := newTestProjectStore(test)
	ctx := context.Background()
	mustStoreProject(test, store, "1", "alice", 100)

	holder := flock.New(store.lockPath(mustID(test, "1")))
	if err := holder.Lock(); err != nil {
		test.Fatalf("hold lock: %v", err)
	}
	defer func() { _ = holder.Unlock() }()

	_, err := store.UpdateActive(ctx, mustID(test, "1"), func(project funding.Project) (funding.Project, error) {
		return project, nil
	})
	if !errors.Is(err, funding.ErrLockContention) {
		test.Fatalf("expected %v, got %v", funding.ErrLockContention, err)
	}
}
