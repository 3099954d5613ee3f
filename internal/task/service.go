package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/apiclient"
)

const (
	tasksPath      = "/api/system/tasks"
	tasksClearPath = "/api/system/tasks/clear"
)

// Handler receives applied task events.
type Handler func(Event)

// Service owns the local mirror of server-side background jobs. The mirror
// is replaced wholesale by Fetch and then maintained by push events; it is
// always kept sorted by creation time descending.
type Service struct {
	client *apiclient.Client
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   []Task
	subs    map[int]Handler
	nextSub int
}

// NewService creates a task mirror service.
func NewService(client *apiclient.Client, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		logger: logger.With().Str("component", "tasks").Logger(),
		subs:   make(map[int]Handler),
	}
}

// Fetch replaces the mirror with the backend's authoritative snapshot.
// A malformed or non-array body degrades to an empty list instead of
// failing; transport and HTTP errors propagate.
func (s *Service) Fetch(ctx context.Context) error {
	var body json.RawMessage
	if err := s.client.GetJSON(ctx, tasksPath, nil, &body); err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		s.logger.Warn().Err(err).Msg("Task snapshot was not an array, using empty list")
		raw = nil
	}

	tasks := make([]Task, 0, len(raw))
	for _, entry := range raw {
		var t Task
		if err := mergeTask(&t, entry); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed task in snapshot")
			continue
		}
		tasks = append(tasks, t)
	}

	s.mu.Lock()
	s.tasks = tasks
	s.sortLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(tasks)).Msg("Task snapshot applied")
	return nil
}

// Apply folds one push event into the mirror and notifies subscribers.
// Upserts are idempotent per-field merges, so duplicate or out-of-order
// update events are tolerated. A deletion is terminal for that ID — though
// with no sequence numbers in the payload, a stray update arriving after
// the deletion will recreate the task; that matches the backend's contract
// and is accepted as a known limitation.
func (s *Service) Apply(action Action, raw map[string]interface{}) {
	if action == ActionDeleted {
		id := coerceString(raw["id"])
		if id == "" {
			s.logger.Warn().Msg("Dropping deleted event without id")
			return
		}

		s.mu.Lock()
		removed := s.removeLocked(id)
		s.mu.Unlock()

		if removed {
			s.emit(Event{Action: ActionDeleted, ID: id})
		}
		return
	}

	s.mu.Lock()
	id := coerceString(raw["id"])
	base := Task{}
	if existing := s.findLocked(id); existing != nil {
		base = *existing
	}
	if err := mergeTask(&base, raw); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("action", string(action)).Msg("Dropping malformed task event")
		return
	}
	s.upsertLocked(base)
	s.sortLocked()
	s.mu.Unlock()

	s.emit(Event{Action: action, Task: base, ID: base.ID})
}

func (s *Service) findLocked(id string) *Task {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return &s.tasks[i]
		}
	}
	return nil
}

func (s *Service) upsertLocked(t Task) {
	for i := range s.tasks {
		if s.tasks[i].ID == t.ID {
			s.tasks[i] = t
			return
		}
	}
	s.tasks = append(s.tasks, t)
}

func (s *Service) removeLocked(id string) bool {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) sortLocked() {
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].CreatedAt.After(s.tasks[j].CreatedAt)
	})
}

// Subscribe registers a handler for applied events and returns its
// unsubscribe func. A panicking handler is isolated so it cannot break
// delivery to the others.
func (s *Service) Subscribe(handler Handler) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		s.callHandler(h, ev)
	}
}

func (s *Service) callHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Task event handler panicked")
		}
	}()
	h(ev)
}

// Clear asks the backend to delete every task with the given terminal
// status. The mirror is not touched optimistically; the matching deleted
// events arrive over the push channel. Returns the count the server
// reports as cleared.
func (s *Service) Clear(ctx context.Context, status Status) (int, error) {
	if status != StatusFailed && status != StatusSuccess {
		return 0, fmt.Errorf("cannot clear tasks by status %q", status)
	}

	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := s.client.PostJSON(ctx, tasksClearPath, map[string]string{"status": string(status)}, &resp); err != nil {
		return 0, fmt.Errorf("failed to clear tasks: %w", err)
	}
	return resp.Cleared, nil
}

// Tasks returns a copy of the mirror, newest first.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get returns one mirrored task.
func (s *Service) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.findLocked(id); t != nil {
		return *t, true
	}
	return Task{}, false
}

// Counts returns derived counters over the mirror.
func (s *Service) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counts
	for _, t := range s.tasks {
		switch {
		case t.Status.Active():
			c.Active++
		case t.Status == StatusFailed:
			c.Failed++
		case t.Status == StatusSuccess:
			c.Succeeded++
		}
	}
	return c
}
