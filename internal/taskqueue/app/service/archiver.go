package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/metrics"
)

const (
	defaultArchiveSchedule  = "@daily"
	defaultArchiveBatchSize = 1000
	defaultArchiveRetention = 30 * 24 * time.Hour

	archiveContentType = "application/x-ndjson"
)

// ObjectStore is the archival sink
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// ArchiveTerminalTasks exports terminal tasks last touched before the
// cutoff to the object store as one JSON Lines object per queue, then
// deletes the exported documents. A failed upload leaves its queue's
// batch in place for the next run. Returns the number of archived
// tasks.
func (s *Service) ArchiveTerminalTasks(ctx context.Context, cutoff time.Time, batchSize int64, sink ObjectStore) (int, error) {
	tasks, err := s.store.Tasks().FindTerminalBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	byQueue := map[string][]int{}
	order := []string{}
	for i, task := range tasks {
		if _, seen := byQueue[task.QueueID]; !seen {
			order = append(order, task.QueueID)
		}
		byQueue[task.QueueID] = append(byQueue[task.QueueID], i)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	archived := 0
	for _, queueID := range order {
		var buf bytes.Buffer
		ids := make([]string, 0, len(byQueue[queueID]))
		for _, i := range byQueue[queueID] {
			line, err := json.Marshal(tasks[i])
			if err != nil {
				return archived, apperrors.Wrap(err, "failed to encode task %s", tasks[i].ID)
			}
			buf.Write(line)
			buf.WriteByte('\n')
			ids = append(ids, tasks[i].ID)
		}

		key := fmt.Sprintf("archive/%s/%s.jsonl", queueID, stamp)
		if err := sink.Put(ctx, key, buf.Bytes(), archiveContentType); err != nil {
			s.log.Error("failed to upload archive batch",
				"queue_id", queueID,
				"key", key,
				"error", err,
			)
			continue
		}

		err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := s.store.Tasks().DeleteByIDs(ctx, ids)
			return err
		})
		if err != nil {
			// the batch was uploaded; the next run re-uploads it rather
			// than losing data
			s.log.Error("failed to delete archived tasks",
				"queue_id", queueID,
				"count", len(ids),
				"error", err,
			)
			continue
		}

		s.metrics.TasksArchived.WithLabelValues(queueID).Add(float64(len(ids)))
		archived += len(ids)
		s.log.Info("archived terminal tasks", "queue_id", queueID, "count", len(ids), "key", key)
	}
	return archived, nil
}

// Archiver periodically exports old terminal tasks to object storage
type Archiver struct {
	service   *Service
	sink      ObjectStore
	retention time.Duration
	schedule  string
	batchSize int64
	cron      *cron.Cron
	log       logger.Logger
	metrics   *metrics.Metrics
}

// NewArchiver creates an archiver. Zero values fall back to a daily
// run keeping thirty days of terminal tasks.
func NewArchiver(service *Service, sink ObjectStore, retention time.Duration, schedule string, batchSize int64) *Archiver {
	if retention <= 0 {
		retention = defaultArchiveRetention
	}
	if schedule == "" {
		schedule = defaultArchiveSchedule
	}
	if batchSize <= 0 {
		batchSize = defaultArchiveBatchSize
	}
	location, _ := time.LoadLocation("UTC")
	return &Archiver{
		service:   service,
		sink:      sink,
		retention: retention,
		schedule:  schedule,
		batchSize: batchSize,
		cron:      cron.New(cron.WithLocation(location)),
		log:       service.log,
		metrics:   service.metrics,
	}
}

// Start schedules the archival run and starts the cron runner
func (a *Archiver) Start() error {
	if _, err := a.cron.AddFunc(a.schedule, a.run); err != nil {
		return apperrors.Wrap(err, "failed to schedule archival")
	}
	a.cron.Start()
	a.log.Info("task archiver started", "schedule", a.schedule, "retention", a.retention)
	return nil
}

// Stop stops the cron runner and waits for a running export to finish
func (a *Archiver) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
	a.log.Info("task archiver stopped")
}

func (a *Archiver) run() {
	ctx := context.Background()
	a.metrics.ArchiveRuns.Inc()

	cutoff := time.Now().UTC().Add(-a.retention)
	archived, err := a.service.ArchiveTerminalTasks(ctx, cutoff, a.batchSize, a.sink)
	if err != nil {
		a.log.Error("archival run failed", "error", err)
		return
	}
	a.log.Debug("archival run completed", "archived", archived)
}
