package stub

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// stubTask is the wire shape of a simulated background job.
type stubTask struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Type      string    `json:"type,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// taskStore simulates server-side background jobs: each tick advances every
// running task and broadcasts the matching task_update push event.
type taskStore struct {
	hub    *Hub
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*stubTask
	sched gocron.Scheduler
}

func newTaskStore(hub *Hub, logger zerolog.Logger) *taskStore {
	return &taskStore{
		hub:    hub,
		logger: logger.With().Str("component", "stubtasks").Logger(),
		tasks:  make(map[string]*stubTask),
	}
}

// startSimulator begins advancing tasks every tick.
func (t *taskStore) startSimulator(tick time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(t.advance),
		gocron.WithName("task-simulator"),
	)
	if err != nil {
		sched.Shutdown()
		return err
	}
	sched.Start()
	t.mu.Lock()
	t.sched = sched
	t.mu.Unlock()
	return nil
}

func (t *taskStore) stopSimulator() {
	t.mu.Lock()
	sched := t.sched
	t.sched = nil
	t.mu.Unlock()
	if sched != nil {
		sched.Shutdown()
	}
}

// create registers a new pending task and announces it.
func (t *taskStore) create(name, taskType string, total int) stubTask {
	task := &stubTask{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    "pending",
		Type:      taskType,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.tasks[task.ID] = task
	snapshot := *task
	t.mu.Unlock()

	t.push("created", snapshot)
	return snapshot
}

// list returns every task, unordered; the console sorts its own mirror.
func (t *taskStore) list() []stubTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]stubTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, *task)
	}
	return out
}

// clear removes every task in the given terminal status and announces each
// removal as a deleted event, mirroring how the real backend settles the
// console's clear request asynchronously.
func (t *taskStore) clear(status string) int {
	t.mu.Lock()
	var removed []string
	for id, task := range t.tasks {
		if task.Status == status {
			removed = append(removed, id)
			delete(t.tasks, id)
		}
	}
	t.mu.Unlock()

	for _, id := range removed {
		t.push("deleted", stubTask{ID: id})
	}
	return len(removed)
}

// advance moves every live task one step forward.
func (t *taskStore) advance() {
	t.mu.Lock()
	var started, updated, finished []stubTask
	for _, task := range t.tasks {
		switch task.Status {
		case "pending":
			task.Status = "running"
			started = append(started, *task)
		case "running":
			task.Progress += 20
			if task.Total > 0 {
				task.Done = task.Total * task.Progress / 100
			}
			if task.Progress >= 100 {
				task.Progress = 100
				task.Done = task.Total
				task.Status = "success"
				task.Message = "completed"
				finished = append(finished, *task)
			} else {
				updated = append(updated, *task)
			}
		}
	}
	t.mu.Unlock()

	for _, task := range started {
		t.push("updated", task)
	}
	for _, task := range updated {
		t.push("updated", task)
	}
	for _, task := range finished {
		t.push("finished", task)
	}
}

func (t *taskStore) push(action string, task stubTask) {
	err := t.hub.Broadcast("task_update", map[string]interface{}{
		"action": action,
		"task":   task,
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("action", action).Msg("Failed to broadcast task update")
	}
}
