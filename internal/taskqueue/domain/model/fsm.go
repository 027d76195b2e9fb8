package model

import (
	"fmt"
)

// TaskEvent drives task state transitions
type TaskEvent string

const (
	TaskEventFetch    TaskEvent = "fetch"
	TaskEventComplete TaskEvent = "complete"
	TaskEventCancel   TaskEvent = "cancel"
	TaskEventFail     TaskEvent = "fail"
	TaskEventReset    TaskEvent = "reset"
)

// TaskFSM is a pure state machine value detached from the task
// document. Transitions never touch storage; callers persist the
// resulting state and retries themselves.
type TaskFSM struct {
	State      TaskStatus
	Retries    int
	MaxRetries int
}

// NewTaskFSM builds an FSM from a stored task
func NewTaskFSM(t *Task) TaskFSM {
	return TaskFSM{State: t.Status, Retries: t.Retries, MaxRetries: t.MaxRetries}
}

// Transition applies an event and returns the resulting machine.
// A fail event consumes one retry and lands on pending while budget
// remains, failed once it is exhausted. Reset re-queues a terminal
// task with a fresh retry budget.
func (f TaskFSM) Transition(event TaskEvent) (TaskFSM, error) {
	switch event {
	case TaskEventFetch:
		if f.State != TaskPending {
			return f, f.invalid(event)
		}
		f.State = TaskRunning
		return f, nil

	case TaskEventComplete:
		if f.State != TaskRunning {
			return f, f.invalid(event)
		}
		f.State = TaskSuccess
		return f, nil

	case TaskEventCancel:
		if f.State != TaskPending && f.State != TaskRunning {
			return f, f.invalid(event)
		}
		f.State = TaskCancelled
		return f, nil

	case TaskEventFail:
		if f.State != TaskRunning {
			return f, f.invalid(event)
		}
		f.Retries++
		if f.Retries > f.MaxRetries {
			f.State = TaskFailed
		} else {
			f.State = TaskPending
		}
		return f, nil

	case TaskEventReset:
		if f.State != TaskFailed && f.State != TaskCancelled && f.State != TaskSuccess {
			return f, f.invalid(event)
		}
		f.State = TaskPending
		f.Retries = 0
		return f, nil

	default:
		return f, fmt.Errorf("unknown task event %q", event)
	}
}

func (f TaskFSM) invalid(event TaskEvent) error {
	return fmt.Errorf("cannot %s task in state %s", event, f.State)
}

// TaskEventForReport maps a reported outcome to its FSM event
func TaskEventForReport(reportStatus string) (TaskEvent, bool) {
	switch reportStatus {
	case "success":
		return TaskEventComplete, true
	case "failed":
		return TaskEventFail, true
	case "cancelled":
		return TaskEventCancel, true
	default:
		return "", false
	}
}

// WorkerEvent drives worker state transitions
type WorkerEvent string

const (
	WorkerEventActivate WorkerEvent = "activate"
	WorkerEventSuspend  WorkerEvent = "suspend"
	WorkerEventFail     WorkerEvent = "fail"
)

// WorkerFSM is the pure worker state machine value
type WorkerFSM struct {
	State      WorkerStatus
	Retries    int
	MaxRetries int
}

// NewWorkerFSM builds an FSM from a stored worker
func NewWorkerFSM(w *Worker) WorkerFSM {
	return WorkerFSM{State: w.Status, Retries: w.Retries, MaxRetries: w.MaxRetries}
}

// Transition applies an event and returns the resulting machine.
// A fail event consumes one retry and crashes the worker once the
// budget is exhausted. Activation always restores the budget.
func (f WorkerFSM) Transition(event WorkerEvent) (WorkerFSM, error) {
	switch event {
	case WorkerEventActivate:
		if f.State != WorkerSuspended && f.State != WorkerCrashed {
			return f, f.invalid(event)
		}
		f.State = WorkerActive
		f.Retries = 0
		return f, nil

	case WorkerEventSuspend:
		if f.State != WorkerActive {
			return f, f.invalid(event)
		}
		f.State = WorkerSuspended
		return f, nil

	case WorkerEventFail:
		if f.State != WorkerActive {
			return f, f.invalid(event)
		}
		f.Retries++
		if f.Retries > f.MaxRetries {
			f.State = WorkerCrashed
		}
		return f, nil

	default:
		return f, fmt.Errorf("unknown worker event %q", event)
	}
}

func (f WorkerFSM) invalid(event WorkerEvent) error {
	return fmt.Errorf("cannot %s worker in state %s", event, f.State)
}

// WorkerEventForReport maps a reported worker status to its FSM event
func WorkerEventForReport(reportStatus string) (WorkerEvent, bool) {
	switch reportStatus {
	case "active":
		return WorkerEventActivate, true
	case "suspended":
		return WorkerEventSuspend, true
	case "failed":
		return WorkerEventFail, true
	default:
		return "", false
	}
}
