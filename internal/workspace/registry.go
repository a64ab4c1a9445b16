// Package workspace holds the gateway's workspace/session registry: the
// rare-write, read-mostly store of Workspace records (each with an ordered
// MuxRule list and optional custom instructions) and the single active
// Session that selects which workspace is in effect.
//
// Grounded on the teacher's management.DomainRegistry: a mutex-guarded map
// with a JSON snapshot persisted to disk via atomic temp-file-then-rename,
// generalized from a flat domain set to the richer Workspace/Session shapes
// spec.md §5 describes.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// Registry holds every Workspace and the single active Session.
type Registry struct {
	mu          sync.RWMutex
	workspaces  map[string]model.Workspace
	session     model.Session
	persistPath string // empty = no persistence
}

type registrySnapshot struct {
	Workspaces []model.Workspace `json:"workspaces"`
	Session    model.Session     `json:"session"`
}

// New creates a Registry seeded with the built-in default workspace (spec.md
// §5: "a default workspace always exists, cannot be archived or deleted").
// If persistPath is non-empty and the file exists, its contents take
// precedence over the seeded default.
func New(persistPath string) *Registry {
	r := &Registry{
		workspaces:  make(map[string]model.Workspace),
		persistPath: persistPath,
	}

	if persistPath != "" {
		if snap, err := loadFromDisk(persistPath); err == nil {
			for _, ws := range snap.Workspaces {
				r.workspaces[ws.ID] = ws
			}
			r.session = snap.Session
			return r
		}
	}

	def := model.Workspace{
		ID:        uuid.NewString(),
		Name:      model.DefaultWorkspaceName,
		State:     model.WorkspaceActive,
		MuxRules:  []model.MuxRule{{MatcherType: model.MatcherCatchAll}},
		CreatedAt: time.Now(),
	}
	r.workspaces[def.ID] = def
	r.session = model.Session{ID: uuid.NewString(), ActiveWorkspaceID: def.ID, UpdatedAt: time.Now()}
	return r
}

// Resolve returns the workspace with the given ID. Satisfies
// pipeline.WorkspaceLookup.
func (r *Registry) Resolve(id string) (model.Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	return ws, ok
}

// ActiveWorkspace returns the workspace the current session points at.
func (r *Registry) ActiveWorkspace() (model.Workspace, bool) {
	r.mu.RLock()
	id := r.session.ActiveWorkspaceID
	r.mu.RUnlock()
	return r.Resolve(id)
}

// Session returns the current session record.
func (r *Registry) Session() model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// All returns every workspace, sorted by name.
func (r *Registry) All() []model.Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create adds a new active workspace with no mux rules and persists the
// registry.
func (r *Registry) Create(name, customInstructions string) model.Workspace {
	r.mu.Lock()
	ws := model.Workspace{
		ID:                 uuid.NewString(),
		Name:               name,
		State:              model.WorkspaceActive,
		CustomInstructions: customInstructions,
		CreatedAt:          time.Now(),
	}
	r.workspaces[ws.ID] = ws
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return ws
}

// Archive marks a workspace archived. The default workspace can never be
// archived (spec.md §5).
func (r *Registry) Archive(id string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q not found", id)
	}
	if ws.Name == model.DefaultWorkspaceName {
		r.mu.Unlock()
		return fmt.Errorf("the default workspace cannot be archived")
	}
	ws.State = model.WorkspaceArchived
	r.workspaces[id] = ws
	if r.session.ActiveWorkspaceID == id {
		r.activateDefaultLocked()
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return nil
}

// Recover restores an archived workspace to the active state, without
// changing which workspace the current session points at.
func (r *Registry) Recover(id string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q not found", id)
	}
	ws.State = model.WorkspaceActive
	r.workspaces[id] = ws
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return nil
}

// Delete removes a workspace entirely. The default workspace can never be
// deleted (spec.md §5).
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q not found", id)
	}
	if ws.Name == model.DefaultWorkspaceName {
		r.mu.Unlock()
		return fmt.Errorf("the default workspace cannot be deleted")
	}
	delete(r.workspaces, id)
	if r.session.ActiveWorkspaceID == id {
		r.activateDefaultLocked()
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return nil
}

// activateDefaultLocked points the session at the default workspace. Caller
// must hold r.mu.
func (r *Registry) activateDefaultLocked() {
	for id, ws := range r.workspaces {
		if ws.Name == model.DefaultWorkspaceName {
			r.session.ActiveWorkspaceID = id
			r.session.UpdatedAt = time.Now()
			return
		}
	}
}

// Activate switches the session's active workspace.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q not found", id)
	}
	if ws.State == model.WorkspaceArchived {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q is archived", ws.Name)
	}
	r.session.ActiveWorkspaceID = id
	r.session.UpdatedAt = time.Now()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return nil
}

// SetMuxRules replaces a workspace's ordered mux rule list wholesale.
func (r *Registry) SetMuxRules(id string, rules []model.MuxRule) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("workspace %q not found", id)
	}
	ws.MuxRules = rules
	r.workspaces[id] = ws
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snap)
	return nil
}

// snapshotLocked returns a sorted, JSON-ready copy of the registry. Caller
// must hold r.mu.
func (r *Registry) snapshotLocked() registrySnapshot {
	out := make([]model.Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return registrySnapshot{Workspaces: out, Session: r.session}
}

func loadFromDisk(path string) (registrySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return registrySnapshot{}, err
	}
	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return registrySnapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return snap, nil
}

// persist writes snap to r.persistPath via temp-file-then-rename, the same
// atomic-write pattern as the teacher's DomainRegistry.persist.
func (r *Registry) persist(snap registrySnapshot) {
	if r.persistPath == "" {
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".workspaces-*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()         //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return
	}
}
