package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

const (
	activeDirName    = "active"
	completedDirName = "completed"
	lockDirName      = ".locks"
	documentSuffix   = ".html"

	lockAttempts      = 3
	defaultLockDelay  = 150 * time.Millisecond
	directoryFileMode = 0o755
	documentFileMode  = 0o644
)

var (
	errMalformedDocument = errors.New("malformed project document")
)

// ProjectStore keeps one template document per project, partitioned per owner
// into an active and a completed directory. The document file is the unit of
// mutual exclusion; unrelated projects update without contention.
type ProjectStore struct {
	root      string
	logger    *zap.Logger
	lockDelay time.Duration
}

// ProjectStoreOption configures a ProjectStore.
type ProjectStoreOption func(*ProjectStore)

// WithLockRetryDelay overrides the fixed delay between lock attempts.
func WithLockRetryDelay(delay time.Duration) ProjectStoreOption {
	return func(store *ProjectStore) {
		if delay > 0 {
			store.lockDelay = delay
		}
	}
}

// NewProjectStore prepares the storage root.
func NewProjectStore(root string, logger *zap.Logger, options ...ProjectStoreOption) (*ProjectStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, lockDirName), directoryFileMode); err != nil {
		return nil, fmt.Errorf("prepare project root: %w", err)
	}
	store := &ProjectStore{
		root:      root,
		logger:    logger,
		lockDelay: defaultLockDelay,
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store, nil
}

// Create renders a fresh document from the template into the owner's active set.
func (store *ProjectStore) Create(ctx context.Context, project funding.Project) error {
	projectID, err := funding.NewProjectID(project.ProjectID)
	if err != nil {
		return err
	}
	if _, err := funding.NewOwnerID(project.Owner); err != nil {
		return err
	}
	if _, _, findErr := store.Find(ctx, projectID); findErr == nil {
		return funding.ErrProjectExists
	}
	activeDir := filepath.Join(store.root, project.Owner, activeDirName)
	if err := os.MkdirAll(activeDir, directoryFileMode); err != nil {
		return fmt.Errorf("prepare owner dirs: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(store.root, project.Owner, completedDirName), directoryFileMode); err != nil {
		return fmt.Errorf("prepare owner dirs: %w", err)
	}
	document, renderErr := renderProjectDocument(documentTemplate, project)
	if renderErr != nil {
		return renderErr
	}
	return atomicWrite(filepath.Join(activeDir, project.ProjectID+documentSuffix), document)
}

// Find searches every owner's active set, then every completed set.
func (store *ProjectStore) Find(ctx context.Context, projectID funding.ProjectID) (funding.Project, funding.ProjectLocation, error) {
	for _, setName := range []string{activeDirName, completedDirName} {
		path, found, err := store.locate(projectID, setName)
		if err != nil {
			return funding.Project{}, "", err
		}
		if !found {
			continue
		}
		project, parseErr := store.readDocument(path)
		if parseErr != nil {
			return funding.Project{}, "", parseErr
		}
		location := funding.LocationActive
		if setName == completedDirName {
			location = funding.LocationCompleted
		}
		return project, location, nil
	}
	return funding.Project{}, "", funding.ErrUnknownProject
}

// UpdateActive runs the locked read-modify-write cycle on an active project:
// acquire the per-project lock with bounded retries, re-read the document
// under the lock, apply the mutation, and persist atomically.
func (store *ProjectStore) UpdateActive(ctx context.Context, projectID funding.ProjectID, mutate func(project funding.Project) (funding.Project, error)) (funding.Project, error) {
	path, found, err := store.locate(projectID, activeDirName)
	if err != nil {
		return funding.Project{}, err
	}
	if !found {
		return funding.Project{}, funding.ErrProjectNotActive
	}

	fileLock, err := store.acquireLock(ctx, projectID)
	if err != nil {
		return funding.Project{}, err
	}
	defer func() { _ = fileLock.Unlock() }()

	// The document may have been relocated while we waited on the lock.
	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return funding.Project{}, funding.ErrProjectNotActive
		}
		return funding.Project{}, fmt.Errorf("read project document: %w", readErr)
	}
	document := string(raw)
	project, parseErr := parseProjectDocument(document)
	if parseErr != nil {
		return funding.Project{}, parseErr
	}
	mutated, mutateErr := mutate(project)
	if mutateErr != nil {
		return funding.Project{}, mutateErr
	}
	rendered, renderErr := renderProjectDocument(document, mutated)
	if renderErr != nil {
		return funding.Project{}, renderErr
	}
	if writeErr := atomicWrite(path, rendered); writeErr != nil {
		return funding.Project{}, writeErr
	}
	return mutated, nil
}

// Relocate moves a project's document from the owner's active directory to
// the completed one. The rename either happens once or reports the project
// as no longer active, which makes it safe as a completion tie-breaker.
func (store *ProjectStore) Relocate(ctx context.Context, projectID funding.ProjectID) error {
	fileLock, err := store.acquireLock(ctx, projectID)
	if err != nil {
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	path, found, err := store.locate(projectID, activeDirName)
	if err != nil {
		return err
	}
	if !found {
		return funding.ErrProjectNotActive
	}
	ownerDir := filepath.Dir(filepath.Dir(path))
	completedDir := filepath.Join(ownerDir, completedDirName)
	if err := os.MkdirAll(completedDir, directoryFileMode); err != nil {
		return fmt.Errorf("prepare completed dir: %w", err)
	}
	target := filepath.Join(completedDir, filepath.Base(path))
	if renameErr := os.Rename(path, target); renameErr != nil {
		if os.IsNotExist(renameErr) {
			return funding.ErrProjectNotActive
		}
		return fmt.Errorf("relocate project document: %w", renameErr)
	}
	return nil
}

// NextActive resolves the owner's next queued project: the lowest numeric id
// in the active set, excluding the project being completed.
func (store *ProjectStore) NextActive(ctx context.Context, owner funding.OwnerID, exclude funding.ProjectID) (funding.Project, error) {
	activeDir := filepath.Join(store.root, owner.String(), activeDirName)
	entries, err := os.ReadDir(activeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return funding.Project{}, funding.ErrNoQueuedProject
		}
		return funding.Project{}, fmt.Errorf("list active projects: %w", err)
	}
	candidates := make([]funding.ProjectID, 0, len(entries))
	for _, entry := range entries {
		candidate, ok := projectIDFromFilename(entry.Name())
		if !ok || candidate.String() == exclude.String() {
			continue
		}
		candidates = append(candidates, candidate)
	}
	sort.Slice(candidates, func(left, right int) bool {
		return candidates[left].Number() < candidates[right].Number()
	})
	for _, candidate := range candidates {
		project, readErr := store.readDocument(filepath.Join(activeDir, candidate.String()+documentSuffix))
		if readErr != nil {
			// A relocation may have raced this scan.
			continue
		}
		if project.Status != funding.ProjectStatusActive {
			continue
		}
		return project, nil
	}
	return funding.Project{}, funding.ErrNoQueuedProject
}

// ListActive returns every owner's active projects, for reconciliation passes.
func (store *ProjectStore) ListActive(ctx context.Context) ([]funding.Project, error) {
	owners, err := os.ReadDir(store.root)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	var projects []funding.Project
	for _, owner := range owners {
		if !owner.IsDir() || owner.Name() == lockDirName {
			continue
		}
		activeDir := filepath.Join(store.root, owner.Name(), activeDirName)
		entries, readErr := os.ReadDir(activeDir)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue
			}
			return nil, fmt.Errorf("list active projects: %w", readErr)
		}
		for _, entry := range entries {
			if _, ok := projectIDFromFilename(entry.Name()); !ok {
				continue
			}
			project, parseErr := store.readDocument(filepath.Join(activeDir, entry.Name()))
			if parseErr != nil {
				store.logger.Warn("skipping unreadable project document",
					zap.String("owner", owner.Name()),
					zap.String("file", entry.Name()),
					zap.Error(parseErr))
				continue
			}
			projects = append(projects, project)
		}
	}
	return projects, nil
}

// acquireLock takes the per-project advisory lock with a bounded retry
// budget. The lock path lives outside the active/completed split so its
// identity is stable across relocation.
func (store *ProjectStore) acquireLock(ctx context.Context, projectID funding.ProjectID) (*flock.Flock, error) {
	fileLock := flock.New(store.lockPath(projectID))
	for attempt := 1; attempt <= lockAttempts; attempt++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire project lock: %w", err)
		}
		if locked {
			return fileLock, nil
		}
		if attempt == lockAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(store.lockDelay):
		}
	}
	store.logger.Warn("project lock contention exhausted retries",
		zap.String("project_id", projectID.String()),
		zap.Int("attempts", lockAttempts))
	return nil, funding.ErrLockContention
}

func (store *ProjectStore) lockPath(projectID funding.ProjectID) string {
	return filepath.Join(store.root, lockDirName, projectID.String()+".lock")
}

func (store *ProjectStore) locate(projectID funding.ProjectID, setName string) (string, bool, error) {
	owners, err := os.ReadDir(store.root)
	if err != nil {
		return "", false, fmt.Errorf("list owners: %w", err)
	}
	filename := projectID.String() + documentSuffix
	for _, owner := range owners {
		if !owner.IsDir() || owner.Name() == lockDirName {
			continue
		}
		path := filepath.Join(store.root, owner.Name(), setName, filename)
		if _, statErr := os.Stat(path); statErr == nil {
			return path, true, nil
		}
	}
	return "", false, nil
}

func (store *ProjectStore) readDocument(path string) (funding.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return funding.Project{}, fmt.Errorf("read project document: %w", err)
	}
	return parseProjectDocument(string(raw))
}

// atomicWrite renders to a temp file in the target directory and renames it
// into place, so readers never observe a half-written document.
func atomicWrite(path string, content string) error {
	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write project document: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.WriteString(content); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("write project document: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("write project document: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write project document: %w", err)
	}
	if err := os.Chmod(tempPath, documentFileMode); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write project document: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write project document: %w", err)
	}
	return nil
}

func projectIDFromFilename(name string) (funding.ProjectID, bool) {
	base, found := strings.CutSuffix(name, documentSuffix)
	if !found {
		return funding.ProjectID{}, false
	}
	projectID, err := funding.NewProjectID(base)
	if err != nil {
		return funding.ProjectID{}, false
	}
	return projectID, true
}
