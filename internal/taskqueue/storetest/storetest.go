// Package storetest provides an in-memory repository.Store for tests.
//
// The fake keeps just enough document semantics to exercise the service
// layer end to end: dotted-path lookup, the subset of query operators
// the sanitizer lets through, and the fetch selector's ordering rules.
// Transactions are pass-through.
package storetest

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/shared/events"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/repository"
	"github.com/labtasker/labtasker/internal/taskqueue/query"
)

// Store is an in-memory implementation of repository.Store.
type Store struct {
	mu      sync.Mutex
	queues  map[string]*model.Queue
	tasks   map[string]*model.Task
	workers map[string]*model.Worker
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		queues:  map[string]*model.Queue{},
		tasks:   map[string]*model.Task{},
		workers: map[string]*model.Worker{},
	}
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...repository.TxOption) error {
	return fn(ctx)
}

func (s *Store) Queues() repository.QueueRepository { return &queuesRepo{s} }

func (s *Store) Tasks() repository.TaskRepository { return &tasksRepo{s} }

func (s *Store) Workers() repository.WorkerRepository { return &workersRepo{s} }

func (s *Store) Collections() repository.CollectionRepository { return &collectionsRepo{s} }

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

// MutateTask edits a stored task directly, bypassing the service.
// Tests use it to backdate heartbeats and timestamps.
func (s *Store) MutateTask(taskID string, fn func(*model.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		fn(t)
	}
}

// QueueCount reports how many queues the store holds.
func (s *Store) QueueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// TaskCount reports how many tasks the store holds.
func (s *Store) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// WorkerCount reports how many workers the store holds.
func (s *Store) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

type queuesRepo struct{ s *Store }

func (r *queuesRepo) Insert(ctx context.Context, queue *model.Queue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.queues {
		if q.QueueName == queue.QueueName {
			return apperrors.Conflict("queue %q already exists", queue.QueueName)
		}
	}
	cp := *queue
	r.s.queues[queue.ID] = &cp
	return nil
}

func (r *queuesRepo) FindByID(ctx context.Context, id string) (*model.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.queues[id]
	if !ok {
		return nil, apperrors.NotFound("queue not found: %s", id)
	}
	cp := *q
	return &cp, nil
}

func (r *queuesRepo) FindByName(ctx context.Context, name string) (*model.Queue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.queues {
		if q.QueueName == name {
			cp := *q
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("queue not found: %s", name)
}

func (r *queuesRepo) Update(ctx context.Context, id string, set bson.M) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.queues[id]
	if !ok {
		return 0, nil
	}
	if name, renamed := set["queue_name"]; renamed {
		for otherID, other := range r.s.queues {
			if otherID != id && other.QueueName == toStr(name) {
				return 0, apperrors.BadRequest("queue name already taken")
			}
		}
	}
	applyQueueSet(q, set)
	return 1, nil
}

func (r *queuesRepo) Delete(ctx context.Context, id string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.queues[id]; !ok {
		return 0, nil
	}
	delete(r.s.queues, id)
	return 1, nil
}

type tasksRepo struct{ s *Store }

func (r *tasksRepo) Insert(ctx context.Context, task *model.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.tasks[task.ID]; dup {
		return apperrors.Conflict("task %q already exists", task.ID)
	}
	cp := *task
	r.s.tasks[task.ID] = &cp
	return nil
}

func (r *tasksRepo) FindByID(ctx context.Context, queueID, taskID string) (*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.QueueID != queueID {
		return nil, apperrors.NotFound("task not found: %s", taskID)
	}
	cp := *t
	return &cp, nil
}

func (r *tasksRepo) List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := []*model.Task{}
	for _, t := range r.s.tasks {
		if docMatch(taskDoc(t), filter) {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return page(matched, limit, offset), nil
}

func (r *tasksRepo) FetchNext(ctx context.Context, req repository.FetchRequest) (*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	candidates := []*model.Task{}
	for _, t := range r.s.tasks {
		if t.QueueID != req.QueueID || t.Status != model.TaskPending {
			continue
		}
		if len(req.ExtraFilter) > 0 && !docMatch(taskDoc(t), req.ExtraFilter) {
			continue
		}
		if len(req.RequiredFields) > 0 && !query.ArgsMatch(req.RequiredFields, t.Args) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.Before(b.LastModified)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	now := time.Now().UTC()
	claimed := candidates[0]
	claimed.Status = model.TaskRunning
	claimed.StartTime = &now
	claimed.LastModified = now
	claimed.WorkerID = req.WorkerID
	if req.StartHeartbeat {
		hb := now
		claimed.LastHeartbeat = &hb
	} else {
		claimed.LastHeartbeat = nil
	}
	if req.HeartbeatTimeout != nil {
		claimed.HeartbeatTimeout = req.HeartbeatTimeout
	}
	if req.TaskTimeout != nil {
		claimed.TaskTimeout = req.TaskTimeout
	}

	cp := *claimed
	return &cp, nil
}

func (r *tasksRepo) Update(ctx context.Context, queueID, taskID string, set bson.M) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.QueueID != queueID {
		return 0, nil
	}
	applyTaskSet(t, set)
	return 1, nil
}

func (r *tasksRepo) TouchHeartbeat(ctx context.Context, queueID, taskID string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.QueueID != queueID {
		return apperrors.NotFound("task not found: %s", taskID)
	}
	hb := now
	t.LastHeartbeat = &hb
	return nil
}

func (r *tasksRepo) Delete(ctx context.Context, queueID, taskID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.QueueID != queueID {
		return 0, nil
	}
	delete(r.s.tasks, taskID)
	return 1, nil
}

func (r *tasksRepo) DeleteByQueue(ctx context.Context, queueID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.tasks {
		if t.QueueID == queueID {
			delete(r.s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (r *tasksRepo) ReleaseWorker(ctx context.Context, queueID, workerID string, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.tasks {
		if t.QueueID == queueID && t.WorkerID != nil && *t.WorkerID == workerID {
			t.WorkerID = nil
			t.LastModified = now
			n++
		}
	}
	return n, nil
}

func (r *tasksRepo) FindExpiredRunning(ctx context.Context, now time.Time) ([]*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	expired := []*model.Task{}
	for _, t := range r.s.tasks {
		if t.Status != model.TaskRunning {
			continue
		}
		heartbeatDead := t.LastHeartbeat != nil && t.HeartbeatTimeout != nil &&
			now.Sub(*t.LastHeartbeat).Seconds() > *t.HeartbeatTimeout
		executionDead := t.StartTime != nil && t.TaskTimeout != nil &&
			now.Sub(*t.StartTime).Seconds() > float64(*t.TaskTimeout)
		if heartbeatDead || executionDead {
			cp := *t
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (r *tasksRepo) FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int64) ([]*model.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := []*model.Task{}
	for _, t := range r.s.tasks {
		switch t.Status {
		case model.TaskSuccess, model.TaskFailed, model.TaskCancelled:
			if t.LastModified.Before(cutoff) {
				cp := *t
				matched = append(matched, &cp)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].LastModified.Before(matched[j].LastModified) })
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *tasksRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.tasks[id]; ok {
			delete(r.s.tasks, id)
			n++
		}
	}
	return n, nil
}

type workersRepo struct{ s *Store }

func (r *workersRepo) Insert(ctx context.Context, worker *model.Worker) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.workers[worker.ID]; dup {
		return apperrors.Conflict("worker %q already exists", worker.ID)
	}
	cp := *worker
	r.s.workers[worker.ID] = &cp
	return nil
}

func (r *workersRepo) FindByID(ctx context.Context, queueID, workerID string) (*model.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[workerID]
	if !ok || w.QueueID != queueID {
		return nil, apperrors.NotFound("worker not found: %s", workerID)
	}
	cp := *w
	return &cp, nil
}

func (r *workersRepo) List(ctx context.Context, filter bson.M, limit, offset int64) ([]*model.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := []*model.Worker{}
	for _, w := range r.s.workers {
		if docMatch(workerDoc(w), filter) {
			cp := *w
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return page(matched, limit, offset), nil
}

func (r *workersRepo) SetState(ctx context.Context, queueID, workerID string, status model.WorkerStatus, retries int, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[workerID]
	if !ok || w.QueueID != queueID {
		return apperrors.NotFound("worker not found: %s", workerID)
	}
	w.Status = status
	w.Retries = retries
	w.LastModified = now
	return nil
}

func (r *workersRepo) Delete(ctx context.Context, queueID, workerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[workerID]
	if !ok || w.QueueID != queueID {
		return 0, nil
	}
	delete(r.s.workers, workerID)
	return 1, nil
}

func (r *workersRepo) DeleteByQueue(ctx context.Context, queueID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, w := range r.s.workers {
		if w.QueueID == queueID {
			delete(r.s.workers, id)
			n++
		}
	}
	return n, nil
}

type collectionsRepo struct{ s *Store }

func (r *collectionsRepo) Query(ctx context.Context, collection string, filter bson.M, limit, offset int64) ([]bson.M, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	docs := []bson.M{}
	for _, doc := range r.collectionDocs(collection) {
		if docMatch(doc, filter) {
			delete(doc, "password")
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return toStr(docs[i]["_id"]) < toStr(docs[j]["_id"]) })
	return page(docs, limit, offset), nil
}

func (r *collectionsRepo) UpdateMany(ctx context.Context, collection string, filter bson.M, update bson.M, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	set, ok := update["$set"].(bson.M)
	if !ok {
		return 0, apperrors.Internal("fake store supports only $set updates")
	}
	forced := bson.M{}
	for k, v := range set {
		forced[k] = v
	}
	forced["last_modified"] = now

	var n int64
	switch collection {
	case query.CollectionQueues:
		for _, q := range r.s.queues {
			if docMatch(queueDoc(q), filter) {
				applyQueueSet(q, forced)
				n++
			}
		}
	case query.CollectionTasks:
		for _, t := range r.s.tasks {
			if docMatch(taskDoc(t), filter) {
				applyTaskSet(t, forced)
				n++
			}
		}
	case query.CollectionWorkers:
		for _, w := range r.s.workers {
			if docMatch(workerDoc(w), filter) {
				applyWorkerSet(w, forced)
				n++
			}
		}
	default:
		return 0, apperrors.BadRequest("invalid collection name. Must be one of: queues, tasks, workers")
	}
	return n, nil
}

func (r *collectionsRepo) collectionDocs(collection string) []bson.M {
	switch collection {
	case query.CollectionQueues:
		docs := make([]bson.M, 0, len(r.s.queues))
		for _, q := range r.s.queues {
			docs = append(docs, queueDoc(q))
		}
		return docs
	case query.CollectionTasks:
		docs := make([]bson.M, 0, len(r.s.tasks))
		for _, t := range r.s.tasks {
			docs = append(docs, taskDoc(t))
		}
		return docs
	case query.CollectionWorkers:
		docs := make([]bson.M, 0, len(r.s.workers))
		for _, w := range r.s.workers {
			docs = append(docs, workerDoc(w))
		}
		return docs
	default:
		return nil
	}
}

func queueDoc(q *model.Queue) bson.M {
	return bson.M{
		"_id":           q.ID,
		"queue_name":    q.QueueName,
		"password":      q.Password,
		"created_at":    q.CreatedAt,
		"last_modified": q.LastModified,
		"metadata":      q.Metadata,
	}
}

func taskDoc(t *model.Task) bson.M {
	doc := bson.M{
		"_id":               t.ID,
		"queue_id":          t.QueueID,
		"status":            string(t.Status),
		"task_name":         t.TaskName,
		"created_at":        t.CreatedAt,
		"last_modified":     t.LastModified,
		"max_retries":       t.MaxRetries,
		"retries":           t.Retries,
		"priority":          t.Priority,
		"metadata":          t.Metadata,
		"args":              t.Args,
		"cmd":               t.Cmd,
		"summary":           t.Summary,
		"worker_id":         nil,
		"start_time":        nil,
		"last_heartbeat":    nil,
		"heartbeat_timeout": nil,
		"task_timeout":      nil,
	}
	if t.WorkerID != nil {
		doc["worker_id"] = *t.WorkerID
	}
	if t.StartTime != nil {
		doc["start_time"] = *t.StartTime
	}
	if t.LastHeartbeat != nil {
		doc["last_heartbeat"] = *t.LastHeartbeat
	}
	if t.HeartbeatTimeout != nil {
		doc["heartbeat_timeout"] = *t.HeartbeatTimeout
	}
	if t.TaskTimeout != nil {
		doc["task_timeout"] = *t.TaskTimeout
	}
	return doc
}

func workerDoc(w *model.Worker) bson.M {
	return bson.M{
		"_id":           w.ID,
		"queue_id":      w.QueueID,
		"status":        string(w.Status),
		"worker_name":   w.WorkerName,
		"metadata":      w.Metadata,
		"retries":       w.Retries,
		"max_retries":   w.MaxRetries,
		"created_at":    w.CreatedAt,
		"last_modified": w.LastModified,
	}
}

// docMatch evaluates the operator subset the service emits: top level
// $and/$or/$nor, field equality with dotted paths, and the comparison
// operators $eq, $ne, $gt, $gte, $lt, $lte, $in, $exists.
func docMatch(doc bson.M, filter bson.M) bool {
	for key, want := range filter {
		switch key {
		case "$and":
			for _, sub := range toFilterList(want) {
				if !docMatch(doc, sub) {
					return false
				}
			}
		case "$or":
			anyMatch := false
			for _, sub := range toFilterList(want) {
				if docMatch(doc, sub) {
					anyMatch = true
					break
				}
			}
			if !anyMatch {
				return false
			}
		case "$nor":
			for _, sub := range toFilterList(want) {
				if docMatch(doc, sub) {
					return false
				}
			}
		default:
			got, exists := lookupPath(doc, key)
			if ops, isOps := operatorDoc(want); isOps {
				if !opsMatch(got, exists, ops) {
					return false
				}
			} else if want == nil {
				if exists && got != nil {
					return false
				}
			} else if !exists || !valueEqual(got, want) {
				return false
			}
		}
	}
	return true
}

func opsMatch(got interface{}, exists bool, ops bson.M) bool {
	for op, operand := range ops {
		switch op {
		case "$eq":
			if !exists || !valueEqual(got, operand) {
				return false
			}
		case "$ne":
			if exists && valueEqual(got, operand) {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			cmp, ok := compareOrder(got, operand)
			if !exists || !ok {
				return false
			}
			switch op {
			case "$gt":
				if cmp <= 0 {
					return false
				}
			case "$gte":
				if cmp < 0 {
					return false
				}
			case "$lt":
				if cmp >= 0 {
					return false
				}
			case "$lte":
				if cmp > 0 {
					return false
				}
			}
		case "$in":
			found := false
			for _, candidate := range toList(operand) {
				if exists && valueEqual(got, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			want, _ := operand.(bool)
			if want != exists {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func operatorDoc(v interface{}) (bson.M, bool) {
	var m bson.M
	switch typed := v.(type) {
	case bson.M:
		m = typed
	case map[string]interface{}:
		m = typed
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func toFilterList(v interface{}) []bson.M {
	out := []bson.M{}
	for _, item := range toList(v) {
		switch sub := item.(type) {
		case bson.M:
			out = append(out, sub)
		case map[string]interface{}:
			out = append(out, sub)
		}
	}
	return out
}

func toList(v interface{}) []interface{} {
	switch list := v.(type) {
	case bson.A:
		return list
	case []interface{}:
		return list
	default:
		return nil
	}
}

func lookupPath(doc bson.M, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = map[string]interface{}(doc)
	for _, part := range parts {
		m, ok := toMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case bson.M:
		return m, true
	default:
		return nil, false
	}
}

func valueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		return bok && at.Equal(bt)
	}
	if as, aok := toStrValue(a); aok {
		bs, bok := toStrValue(b)
		return bok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

func compareOrder(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		if !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	if as, aok := toStrValue(a); aok {
		bs, bok := toStrValue(b)
		if !bok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStrValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case model.TaskStatus:
		return string(s), true
	case model.WorkerStatus:
		return string(s), true
	default:
		return "", false
	}
}

func toStr(v interface{}) string {
	s, _ := toStrValue(v)
	return s
}

func toInt(v interface{}) int {
	f, _ := toFloat(v)
	return int(f)
}

func applyQueueSet(q *model.Queue, set bson.M) {
	for k, v := range set {
		switch {
		case k == "queue_name":
			q.QueueName = toStr(v)
		case k == "password":
			q.Password = toStr(v)
		case k == "last_modified":
			q.LastModified = v.(time.Time)
		case k == "metadata":
			m, _ := toMap(v)
			q.Metadata = m
		case strings.HasPrefix(k, "metadata."):
			setPath(q.Metadata, strings.TrimPrefix(k, "metadata."), v)
		}
	}
}

func applyTaskSet(t *model.Task, set bson.M) {
	for k, v := range set {
		switch {
		case k == "status":
			t.Status = model.TaskStatus(toStr(v))
		case k == "retries":
			t.Retries = toInt(v)
		case k == "max_retries":
			t.MaxRetries = toInt(v)
		case k == "priority":
			t.Priority = toInt(v)
		case k == "task_name":
			t.TaskName = toStr(v)
		case k == "cmd":
			t.Cmd = toStr(v)
		case k == "worker_id":
			if v == nil {
				t.WorkerID = nil
			} else {
				id := toStr(v)
				t.WorkerID = &id
			}
		case k == "last_modified":
			t.LastModified = v.(time.Time)
		case k == "last_heartbeat":
			if v == nil {
				t.LastHeartbeat = nil
			} else {
				hb := v.(time.Time)
				t.LastHeartbeat = &hb
			}
		case k == "start_time":
			if v == nil {
				t.StartTime = nil
			} else {
				st := v.(time.Time)
				t.StartTime = &st
			}
		case k == "heartbeat_timeout":
			if v == nil {
				t.HeartbeatTimeout = nil
			} else {
				f, _ := toFloat(v)
				t.HeartbeatTimeout = &f
			}
		case k == "task_timeout":
			if v == nil {
				t.TaskTimeout = nil
			} else {
				n := int64(toInt(v))
				t.TaskTimeout = &n
			}
		case k == "args":
			m, _ := toMap(v)
			t.Args = m
		case k == "metadata":
			m, _ := toMap(v)
			t.Metadata = m
		case k == "summary":
			m, _ := toMap(v)
			t.Summary = m
		case strings.HasPrefix(k, "args."):
			setPath(t.Args, strings.TrimPrefix(k, "args."), v)
		case strings.HasPrefix(k, "metadata."):
			setPath(t.Metadata, strings.TrimPrefix(k, "metadata."), v)
		case strings.HasPrefix(k, "summary."):
			setPath(t.Summary, strings.TrimPrefix(k, "summary."), v)
		}
	}
}

func applyWorkerSet(w *model.Worker, set bson.M) {
	for k, v := range set {
		switch {
		case k == "status":
			w.Status = model.WorkerStatus(toStr(v))
		case k == "retries":
			w.Retries = toInt(v)
		case k == "max_retries":
			w.MaxRetries = toInt(v)
		case k == "worker_name":
			w.WorkerName = toStr(v)
		case k == "last_modified":
			w.LastModified = v.(time.Time)
		case k == "metadata":
			m, _ := toMap(v)
			w.Metadata = m
		case strings.HasPrefix(k, "metadata."):
			setPath(w.Metadata, strings.TrimPrefix(k, "metadata."), v)
		}
	}
}

func setPath(m map[string]interface{}, path string, v interface{}) {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := toMap(m[part])
		if !ok {
			next = map[string]interface{}{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func page[T any](items []T, limit, offset int64) []T {
	if offset >= int64(len(items)) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

// EventRecorder captures emitted events for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *EventRecorder) Publish(ctx context.Context, event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// ByType returns recorded events of the given type, in emission order.
func (r *EventRecorder) ByType(typ events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*events.Event{}
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
