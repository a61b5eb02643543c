package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trestle-dev/trestle/internal/wire"
)

// projectStore is the simulator's in-memory project tree.
type projectStore struct {
	mu       sync.RWMutex
	order    []string
	projects map[string]*project
}

type project struct {
	id        string
	name      string
	path      string
	createdAt time.Time
	files     map[string]string
}

func newProjectStore(seed []ScenarioProject) *projectStore {
	s := &projectStore{projects: make(map[string]*project)}
	for _, sp := range seed {
		files := make(map[string]string, len(sp.Files))
		for path, content := range sp.Files {
			files[path] = content
		}
		s.projects[sp.ID] = &project{
			id:        sp.ID,
			name:      sp.Name,
			path:      sp.Path,
			createdAt: time.Now(),
			files:     files,
		}
		s.order = append(s.order, sp.ID)
	}
	return s
}

// snapshot returns the project list in creation order.
func (s *projectStore) snapshot() []wire.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wire.Project, 0, len(s.order))
	for _, id := range s.order {
		p := s.projects[id]
		out = append(out, wire.Project{
			ID:        p.id,
			Name:      p.name,
			Path:      p.path,
			CreatedAt: p.createdAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (s *projectStore) create(name string) wire.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &project{
		id:        "proj-" + uuid.NewString()[:8],
		name:      name,
		path:      "/srv/projects/" + slugify(name),
		createdAt: time.Now(),
		files: map[string]string{
			"README.md": fmt.Sprintf("# %s\n", name),
		},
	}
	s.projects[p.id] = p
	s.order = append(s.order, p.id)

	return wire.Project{
		ID:        p.id,
		Name:      p.name,
		Path:      p.path,
		CreatedAt: p.createdAt.UTC().Format(time.RFC3339),
	}
}

func (s *projectStore) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s not found", id)
	}
	delete(s.projects, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *projectStore) exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[id]
	return ok
}

func (s *projectStore) readFile(projectID, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return "", fmt.Errorf("project %s not found", projectID)
	}
	content, ok := p.files[path]
	if !ok {
		return "", fmt.Errorf("file %s not found in project %s", path, projectID)
	}
	return content, nil
}

func (s *projectStore) writeFile(projectID, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	p.files[path] = content
	return nil
}
