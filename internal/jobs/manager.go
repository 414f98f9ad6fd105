package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/product-image-scraper/internal/database"
	"github.com/maltedev/product-image-scraper/internal/images"
	"github.com/maltedev/product-image-scraper/internal/queue"
	"golang.org/x/sync/errgroup"
)

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Downloader is satisfied by *images.Downloader.
type Downloader interface {
	DownloadImages(ctx context.Context, opts images.Options) (*images.Summary, error)
}

// SessionRecorder is satisfied by *events.Publisher.
type SessionRecorder interface {
	RecordSession(ctx context.Context, jobID, pageURL string, summary *images.Summary) (*database.ImageSession, error)
}

// Request describes one product page to download. Empty fields fall back
// to the manager defaults.
type Request struct {
	URL        string `json:"url"`
	Selector   string `json:"selector,omitempty"`
	ParentDir  string `json:"parent_dir,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	UseAltJSON *bool  `json:"use_alt_json,omitempty"`
	MaxThreads int    `json:"max_threads,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// Job is a download request and its live progress.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Selector    string     `json:"selector"`
	Status      Status     `json:"status"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	Downloaded  int        `json:"downloaded"`
	Skipped     int        `json:"skipped"`
	ProductName string     `json:"product_name,omitempty"`
	Folder      string     `json:"folder,omitempty"`
	FirstImage  string     `json:"first_image,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	opts images.Options
}

type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	QueueSize     int `json:"queue_size"`
}

type Manager struct {
	downloader Downloader
	recorder   SessionRecorder
	queue      *queue.InMemoryQueue
	defaults   images.Options
	workers    int
	logger     *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(downloader Downloader, defaults images.Options, workers int, logger *slog.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		downloader: downloader,
		queue:      queue.NewInMemoryQueue(0),
		defaults:   defaults,
		workers:    workers,
		logger:     logger.With("component", "job_manager"),
		jobs:       make(map[string]*Job),
	}
}

// SetRecorder enables session history for jobs finished after the call.
func (m *Manager) SetRecorder(r SessionRecorder) {
	m.recorder = r
}

func (m *Manager) CreateJob(ctx context.Context, req Request) (*Job, error) {
	if err := images.ValidateURL(req.URL); err != nil {
		return nil, err
	}

	opts := m.defaults
	opts.URL = req.URL
	if req.Selector != "" {
		opts.Selector = req.Selector
	}
	if req.ParentDir != "" {
		opts.ParentDir = req.ParentDir
	}
	if req.UserAgent != "" {
		opts.UserAgent = req.UserAgent
	}
	if req.UseAltJSON != nil {
		opts.UseAltJSON = *req.UseAltJSON
	}
	if req.MaxThreads > 0 {
		opts.MaxThreads = req.MaxThreads
	}

	job := &Job{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Selector:  opts.Selector,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		opts:      opts,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{ID: job.ID, URL: job.URL, Priority: req.Priority, CreatedAt: job.CreatedAt}); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", job.URL)
	return m.snapshot(job), nil
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return m.snapshotLocked(job), nil
}

// ListJobs returns jobs newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshotLocked(job))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (m *Manager) GetStats(ctx context.Context) *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueueSize: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}
	return stats
}

// Start runs the workers until ctx is done. Queued jobs that never started
// stay pending.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("job workers started", "workers", m.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := range m.workers {
		g.Go(func() error {
			m.work(ctx, i)
			return nil
		})
	}

	<-ctx.Done()
	m.queue.Close()
	err := g.Wait()

	m.logger.Info("job workers stopped")
	return err
}

func (m *Manager) work(ctx context.Context, worker int) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			return
		}
		m.process(ctx, worker, task.ID)
	}
}

func (m *Manager) process(ctx context.Context, worker int, jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	opts := job.opts
	m.mu.Unlock()

	logger := m.logger.With("job_id", jobID, "worker", worker)
	logger.Info("processing job", "url", opts.URL)

	opts.Progress = func(index, total int) {
		m.mu.Lock()
		job.Processed++
		job.Total = total
		m.mu.Unlock()
	}

	summary, err := m.downloader.DownloadImages(ctx, opts)
	if err != nil {
		logger.Error("job failed", "error", err)
		m.finish(job, StatusFailed, func(j *Job) { j.Error = err.Error() })
		return
	}

	var sessionID string
	if m.recorder != nil {
		session, err := m.recorder.RecordSession(ctx, jobID, opts.URL, summary)
		if err != nil {
			logger.Error("failed to record session", "error", err)
		} else {
			sessionID = session.ID.String()
		}
	}

	m.finish(job, StatusCompleted, func(j *Job) {
		j.Total = summary.Total
		j.Downloaded = summary.Downloaded
		j.Skipped = summary.Skipped
		j.ProductName = summary.ProductName
		j.Folder = summary.Folder
		j.FirstImage = summary.FirstImage
		j.SessionID = sessionID
	})

	logger.Info("job completed",
		"downloaded", summary.Downloaded,
		"skipped", summary.Skipped,
		"folder", summary.Folder)
}

func (m *Manager) finish(job *Job, status Status, update func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	update(job)
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(job)
}

func (m *Manager) snapshotLocked(job *Job) *Job {
	cp := *job
	cp.opts = images.Options{}
	return &cp
}
