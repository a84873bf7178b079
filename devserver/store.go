// ABOUTME: In-memory project store for the stub backend with uuid ids and copy-out reads.
// ABOUTME: Tracks generation status, file counts, and the running mark per project.
package devserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a project's generation status.
type Status string

const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Project is one generated project.
type Project struct {
	ID           string    `json:"project_id"`
	Prompt       string    `json:"prompt"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	FilesCreated int       `json:"files_created,omitempty"`
	Running      bool      `json:"-"`
	RunMethod    string    `json:"-"`
}

var errEmptyPrompt = errors.New("prompt is required")

// Store provides in-memory storage for projects.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{projects: make(map[string]*Project)}
}

// Create makes a new generating project for prompt.
func (s *Store) Create(prompt string) (Project, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Project{}, errEmptyPrompt
	}
	p := &Project{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Status:    StatusGenerating,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.projects[p.ID] = p
	s.mu.Unlock()
	return *p, nil
}

// Get returns a copy of the project with id.
func (s *Store) Get(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, false
	}
	return *p, true
}

// Update applies fn to the stored project under the write lock and
// returns the updated copy.
func (s *Store) Update(id string, fn func(p *Project)) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, false
	}
	fn(p)
	return *p, true
}

// List returns copies of every project, newest first.
func (s *Store) List() []Project {
	s.mu.RLock()
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Running returns the ids of running projects sorted.
func (s *Store) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, p := range s.projects {
		if p.Running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
