// Package memory provides an in-memory workflow service. It keeps event
// histories, turns submitted decisions into events and hands out decision and
// activity tasks, which is enough to run flows end to end without AWS.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/leech/activity"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/state"
)

var (
	// ErrAlreadyStarted is returned when an open execution already uses the workflow id.
	ErrAlreadyStarted = errors.New("workflow execution already started")
	// ErrUnknownTask is returned for task tokens that are not in flight.
	ErrUnknownTask = errors.New("unknown task token")
	// ErrUnknownExecution is returned for workflow or run ids that do not exist.
	ErrUnknownExecution = errors.New("unknown workflow execution")
)

// Status is the close status of an execution.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
	StatusCanceled   Status = "CANCELED"
)

// StartRequest starts a top-level execution. Version and TaskList are ignored.
type StartRequest = engine.StartRequest

var _ engine.Starter = (*Service)(nil)

// Execution is a snapshot of one run.
type Execution struct {
	WorkflowID   string
	RunID        string
	FlowType     string
	Input        string
	ParentFlowID string
	Status       Status
	Result       string
	Reason       string
	Details      string
	Events       []*state.Event
}

type run struct {
	workflowID   string
	runID        string
	flowType     string
	input        string
	lambdaRole   string
	parentRunID  string
	initiatedRef int64

	events []*state.Event
	status Status
	result string
	reason string
	detail string

	// scheduled maps operation ids to their latest scheduling event.
	scheduled map[string]int64
	timers    map[string]*timer
	children  map[string]string

	queued   bool
	deciding bool
	again    bool
}

type timer struct {
	startedID int64
	fireAt    time.Time
}

type pendingTask struct {
	kind  state.OperationKind
	runID string
	task  activity.Task
}

// Service is the in-memory workflow service.
type Service struct {
	mu     sync.Mutex
	domain string
	now    func() time.Time

	runs map[string]*run
	open map[string]*run

	decisionQueue []string
	decisionTasks map[string]string

	activityQueue []*pendingTask
	activityTasks map[string]*pendingTask

	notify chan struct{}

	pageSize int
	pages    map[string][]*state.Event
	pollWait time.Duration
}

// NewService creates an empty service for a domain.
func NewService(domain string) *Service {
	return &Service{
		domain:        domain,
		now:           time.Now,
		runs:          make(map[string]*run),
		open:          make(map[string]*run),
		decisionTasks: make(map[string]string),
		activityTasks: make(map[string]*pendingTask),
		notify:        make(chan struct{}),
		pageSize:      DefaultPageSize,
		pages:         make(map[string][]*state.Event),
		pollWait:      DefaultPollWait,
	}
}

// Defaults of the paginated polling API.
const (
	DefaultPageSize = 100
	DefaultPollWait = 50 * time.Millisecond
)

// SetPageSize sets how many events one decision task page holds.
func (s *Service) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.pageSize = n
	}
}

// SetPollWait sets how long the paginated polling API waits for a task.
// Zero returns immediately.
func (s *Service) SetPollWait(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollWait = d
}

func (s *Service) wait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollWait
}

// SetClock replaces the clock used for event timestamps and timer deadlines.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// signal wakes blocked pollers. Callers hold s.mu.
func (s *Service) signal() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Service) add(r *run, typ state.EventType, a state.Attributes) int64 {
	id := int64(len(r.events) + 1)
	r.events = append(r.events, state.NewEvent(id, typ, s.now().UTC(), a))
	return id
}

// wake schedules a decision task for r unless one is already pending.
func (s *Service) wake(r *run) {
	switch {
	case r.status != StatusOpen, r.queued:
	case r.deciding:
		r.again = true
	default:
		r.queued = true
		s.decisionQueue = append(s.decisionQueue, r.runID)
		s.signal()
	}
}

// StartExecution starts a top-level execution and returns its run id.
func (s *Service) StartExecution(ctx context.Context, req StartRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.WorkflowID == "" || req.FlowType == "" {
		return "", fmt.Errorf("workflow id and flow type are required")
	}
	r, err := s.startRun(req.WorkflowID, req.FlowType, req.Input, req.LambdaRole, nil, 0)
	if err != nil {
		return "", err
	}
	log.Printf("[Memory] Started %s %s (%s)", r.flowType, r.workflowID, r.runID)
	return r.runID, nil
}

func (s *Service) startRun(workflowID, flowType, input, role string, parent *run, initiated int64) (*run, error) {
	if _, ok := s.open[workflowID]; ok {
		return nil, fmt.Errorf("%s: %w", workflowID, ErrAlreadyStarted)
	}
	r := &run{
		workflowID:   workflowID,
		runID:        uuid.NewString(),
		flowType:     flowType,
		input:        input,
		lambdaRole:   role,
		initiatedRef: initiated,
		status:       StatusOpen,
		scheduled:    make(map[string]int64),
		timers:       make(map[string]*timer),
		children:     make(map[string]string),
	}
	attrs := state.Attributes{WorkflowType: flowType, Input: input, LambdaRole: role}
	if parent != nil {
		r.parentRunID = parent.runID
		attrs.ParentFlowID = parent.workflowID
		attrs.ParentRunID = parent.runID
	}
	s.add(r, state.EventWorkflowExecutionStarted, attrs)
	s.runs[r.runID] = r
	s.open[workflowID] = r
	s.wake(r)
	return r, nil
}

// PollDecisionTask hands out the next decision task, waiting up to wait for
// one. It returns nil when none became available.
func (s *Service) PollDecisionTask(ctx context.Context, wait time.Duration) (*state.WorkflowHistory, error) {
	var h *state.WorkflowHistory
	err := s.poll(ctx, wait, func() bool {
		for len(s.decisionQueue) > 0 {
			id := s.decisionQueue[0]
			s.decisionQueue = s.decisionQueue[1:]
			r := s.runs[id]
			r.queued = false
			if r.status != StatusOpen {
				continue
			}
			r.deciding = true
			token := uuid.NewString()
			s.decisionTasks[token] = r.runID
			h = s.history(r)
			h.TaskToken = token
			return true
		}
		return false
	})
	return h, err
}

// PollActivityTask hands out the next activity or lambda task, waiting up to
// wait for one. It returns nil when none became available.
func (s *Service) PollActivityTask(ctx context.Context, wait time.Duration) (*activity.Task, error) {
	var t *activity.Task
	err := s.poll(ctx, wait, func() bool {
		for len(s.activityQueue) > 0 {
			p := s.activityQueue[0]
			s.activityQueue = s.activityQueue[1:]
			if s.runs[p.runID].status != StatusOpen {
				continue
			}
			p.task.Token = uuid.NewString()
			s.activityTasks[p.task.Token] = p
			task := p.task
			t = &task
			return true
		}
		return false
	})
	return t, err
}

func (s *Service) poll(ctx context.Context, wait time.Duration, take func() bool) error {
	var deadline <-chan time.Time
	if wait > 0 {
		tm := time.NewTimer(wait)
		defer tm.Stop()
		deadline = tm.C
	}
	for {
		s.mu.Lock()
		if take() {
			s.mu.Unlock()
			return nil
		}
		notify := s.notify
		s.mu.Unlock()

		if wait <= 0 {
			return nil
		}
		select {
		case <-notify:
		case <-deadline:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) history(r *run) *state.WorkflowHistory {
	events := make([]*state.Event, len(r.events))
	copy(events, r.events)
	h := state.NewWorkflowHistory(events)
	h.FlowID = r.workflowID
	h.RunID = r.runID
	h.Domain = s.domain
	return h
}

// PollForDecisionTask returns one page of the next decision task's history.
// An empty pageToken polls for a new task, waiting briefly for one; a token
// returned by a previous page continues that task. The task list is ignored.
func (s *Service) PollForDecisionTask(ctx context.Context, _ string, pageToken string) (*state.WorkflowHistory, string, error) {
	if pageToken == "" {
		h, err := s.PollDecisionTask(ctx, s.wait())
		if err != nil || h == nil {
			return nil, "", err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pages[h.TaskToken] = h.Events()
		return s.page(h.TaskToken, 0)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	token, offset, ok := strings.Cut(pageToken, "@")
	n, err := strconv.Atoi(offset)
	if !ok || err != nil {
		return nil, "", fmt.Errorf("malformed page token %q", pageToken)
	}
	return s.page(token, n)
}

func (s *Service) page(token string, offset int) (*state.WorkflowHistory, string, error) {
	events, ok := s.pages[token]
	runID, live := s.decisionTasks[token]
	if !ok || !live || offset > len(events) {
		return nil, "", fmt.Errorf("decision task %s: %w", token, ErrUnknownTask)
	}
	end := offset + s.pageSize
	next := ""
	if end < len(events) {
		next = fmt.Sprintf("%s@%d", token, end)
	} else {
		end = len(events)
		delete(s.pages, token)
	}
	r := s.runs[runID]
	h := state.NewWorkflowHistory(events[offset:end])
	h.FlowID = r.workflowID
	h.RunID = r.runID
	h.Domain = s.domain
	h.TaskToken = token
	return h, next, nil
}

// PollForActivityTask waits briefly for the next activity task. The task list is ignored.
func (s *Service) PollForActivityTask(ctx context.Context, _ string) (*activity.Task, error) {
	return s.PollActivityTask(ctx, s.wait())
}

// RespondDecisionTaskCompleted applies a decision batch.
func (s *Service) RespondDecisionTaskCompleted(ctx context.Context, token string, decisions []decision.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.decisionTasks[token]
	if !ok {
		return fmt.Errorf("decision task %s: %w", token, ErrUnknownTask)
	}
	delete(s.decisionTasks, token)
	delete(s.pages, token)
	r := s.runs[id]
	r.deciding = false

	for _, d := range decisions {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	for _, d := range decisions {
		if r.status != StatusOpen {
			break
		}
		s.apply(r, d)
	}
	if r.again {
		r.again = false
		s.wake(r)
	}
	return nil
}

func (s *Service) apply(r *run, d decision.Decision) {
	switch d.Type {
	case decision.TypeScheduleActivityTask:
		a := d.ScheduleActivityTask
		ref := s.add(r, state.EventActivityTaskScheduled, state.Attributes{
			OperationID: a.ActivityID, OperationName: a.ActivityType.Name,
			OperationVersion: a.ActivityType.Version, Input: a.Input, Control: a.Control,
		})
		r.scheduled[a.ActivityID] = ref
		s.enqueue(r, state.KindActivity, activity.Task{
			ActivityID: a.ActivityID, Name: a.ActivityType.Name, Version: a.ActivityType.Version, Input: a.Input,
		})

	case decision.TypeScheduleLambdaFunction:
		a := d.ScheduleLambdaFunction
		ref := s.add(r, state.EventLambdaFunctionScheduled, state.Attributes{
			OperationID: a.ID, OperationName: a.Name, Input: a.Input, Control: a.Control,
		})
		r.scheduled[a.ID] = ref
		s.enqueue(r, state.KindLambda, activity.Task{ActivityID: a.ID, Name: a.Name, Input: a.Input})

	case decision.TypeStartChildWorkflowExecution:
		a := d.StartChildWorkflowExecution
		ref := s.add(r, state.EventStartChildWorkflowInitiated, state.Attributes{
			OperationID: a.WorkflowID, OperationName: a.WorkflowType.Name,
			OperationVersion: a.WorkflowType.Version, Input: a.Input, Control: a.Control,
		})
		r.scheduled[a.WorkflowID] = ref
		role := a.LambdaRole
		if role == "" {
			role = r.lambdaRole
		}
		child, err := s.startRun(a.WorkflowID, a.WorkflowType.Name, a.Input, role, r, ref)
		if err != nil {
			s.add(r, state.EventStartChildWorkflowFailed, state.Attributes{
				OperationID: a.WorkflowID, OperationName: a.WorkflowType.Name, Reason: "WORKFLOW_ALREADY_RUNNING",
			})
			s.wake(r)
			return
		}
		r.children[a.WorkflowID] = child.runID
		s.add(r, state.EventChildWorkflowStarted, state.Attributes{InitiatedEventID: ref, OperationID: a.WorkflowID})

	case decision.TypeStartTimer:
		a := d.StartTimer
		ref := s.add(r, state.EventTimerStarted, state.Attributes{TimerID: a.TimerID, Control: a.Control})
		r.timers[a.TimerID] = &timer{startedID: ref, fireAt: s.now().Add(a.Delay)}

	case decision.TypeCancelTimer:
		a := d.CancelTimer
		if t, ok := r.timers[a.TimerID]; ok {
			delete(r.timers, a.TimerID)
			s.add(r, state.EventTimerCanceled, state.Attributes{TimerID: a.TimerID, StartedEventID: t.startedID})
		}

	case decision.TypeRecordMarker:
		a := d.RecordMarker
		s.add(r, state.EventMarkerRecorded, state.Attributes{MarkerName: a.MarkerName, Details: a.Details})

	case decision.TypeRequestCancelActivityTask:
		id := d.RequestCancelActivityTask.ActivityID
		if s.dropActivity(r, id) {
			s.add(r, state.EventActivityTaskCanceled, state.Attributes{ScheduledEventID: r.scheduled[id]})
			s.wake(r)
		}

	case decision.TypeRequestCancelExternalWorkflowExecution:
		if child, ok := s.open[d.RequestCancelExternalWorkflowExecution.WorkflowID]; ok {
			s.close(child, StatusCanceled, "", "canceled by parent", "")
		}

	case decision.TypeCompleteWorkflowExecution:
		s.close(r, StatusCompleted, d.CompleteWorkflowExecution.Result, "", "")

	case decision.TypeFailWorkflowExecution:
		a := d.FailWorkflowExecution
		s.close(r, StatusFailed, "", a.Reason, a.Details)
	}
}

func (s *Service) enqueue(r *run, kind state.OperationKind, t activity.Task) {
	t.WorkflowID = r.workflowID
	t.RunID = r.runID
	s.activityQueue = append(s.activityQueue, &pendingTask{kind: kind, runID: r.runID, task: t})
	s.signal()
}

// dropActivity removes a queued or in-flight activity task of r.
func (s *Service) dropActivity(r *run, id string) bool {
	for i, p := range s.activityQueue {
		if p.runID == r.runID && p.kind == state.KindActivity && p.task.ActivityID == id {
			s.activityQueue = append(s.activityQueue[:i], s.activityQueue[i+1:]...)
			return true
		}
	}
	for token, p := range s.activityTasks {
		if p.runID == r.runID && p.kind == state.KindActivity && p.task.ActivityID == id {
			delete(s.activityTasks, token)
			return true
		}
	}
	return false
}

// close ends r and reports the outcome to its parent.
func (s *Service) close(r *run, status Status, result, reason, details string) {
	if r.status != StatusOpen {
		return
	}
	r.status = status
	r.result, r.reason, r.detail = result, reason, details
	delete(s.open, r.workflowID)

	parent, ok := s.runs[r.parentRunID]
	if !ok || parent.status != StatusOpen {
		return
	}
	a := state.Attributes{InitiatedEventID: r.initiatedRef, Result: result, Reason: reason, Details: details}
	switch status {
	case StatusCompleted:
		s.add(parent, state.EventChildWorkflowCompleted, a)
	case StatusFailed:
		s.add(parent, state.EventChildWorkflowFailed, a)
	case StatusTerminated:
		s.add(parent, state.EventChildWorkflowTerminated, a)
	case StatusCanceled:
		s.add(parent, state.EventChildWorkflowCanceled, a)
	}
	s.wake(parent)
}

// RespondActivityTaskCompleted records the result of an activity or lambda task.
func (s *Service) RespondActivityTaskCompleted(ctx context.Context, token, result string) error {
	return s.finishTask(token, func(r *run, p *pendingTask, ref int64) {
		typ := state.EventActivityTaskCompleted
		if p.kind == state.KindLambda {
			typ = state.EventLambdaFunctionCompleted
		}
		s.add(r, typ, state.Attributes{ScheduledEventID: ref, Result: result})
	})
}

// RespondActivityTaskFailed records the failure of an activity or lambda task.
func (s *Service) RespondActivityTaskFailed(ctx context.Context, token, reason, details string) error {
	return s.finishTask(token, func(r *run, p *pendingTask, ref int64) {
		typ := state.EventActivityTaskFailed
		if p.kind == state.KindLambda {
			typ = state.EventLambdaFunctionFailed
		}
		s.add(r, typ, state.Attributes{ScheduledEventID: ref, Reason: reason, Details: details})
	})
}

func (s *Service) finishTask(token string, record func(r *run, p *pendingTask, ref int64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.activityTasks[token]
	if !ok {
		return fmt.Errorf("activity task %s: %w", token, ErrUnknownTask)
	}
	delete(s.activityTasks, token)
	r := s.runs[p.runID]
	if r.status != StatusOpen {
		return nil
	}
	record(r, p, r.scheduled[p.task.ActivityID])
	s.wake(r)
	return nil
}

// TerminateWorkflowExecution terminates the open execution of a workflow id.
func (s *Service) TerminateWorkflowExecution(ctx context.Context, req engine.TerminateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.open[req.WorkflowID]
	if !ok || (req.RunID != "" && r.runID != req.RunID) {
		return fmt.Errorf("terminate %s: %w", req.WorkflowID, ErrUnknownExecution)
	}
	for token, id := range s.decisionTasks {
		if id == r.runID {
			delete(s.decisionTasks, token)
			delete(s.pages, token)
		}
	}
	s.close(r, StatusTerminated, "", req.Reason, req.Details)
	return nil
}

// FireTimers fires every started timer due at now and returns how many fired.
// A zero now fires all of them.
func (s *Service) FireTimers(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	fired := 0
	for _, r := range s.open {
		ids := make([]string, 0, len(r.timers))
		for id := range r.timers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			t := r.timers[id]
			if !now.IsZero() && t.fireAt.After(now) {
				continue
			}
			delete(r.timers, id)
			s.add(r, state.EventTimerFired, state.Attributes{TimerID: id, StartedEventID: t.startedID})
			fired++
			s.wake(r)
		}
	}
	return fired
}

// Markers returns the markers recorded by a run.
func (s *Service) Markers(ctx context.Context, workflowID, runID string) (*state.MarkerHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.workflowID != workflowID {
		return nil, fmt.Errorf("%s/%s: %w", workflowID, runID, ErrUnknownExecution)
	}
	return s.history(r).Markers, nil
}

// Execution returns a snapshot of the latest run of a workflow id.
func (s *Service) Execution(workflowID string) (Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.open[workflowID]
	if !ok {
		for _, candidate := range s.runs {
			if candidate.workflowID == workflowID {
				r, ok = candidate, true
			}
		}
	}
	if !ok {
		return Execution{}, false
	}
	ex := Execution{
		WorkflowID: r.workflowID,
		RunID:      r.runID,
		FlowType:   r.flowType,
		Input:      r.input,
		Status:     r.status,
		Result:     r.result,
		Reason:     r.reason,
		Details:    r.detail,
		Events:     append([]*state.Event(nil), r.events...),
	}
	if p, ok := s.runs[r.parentRunID]; ok {
		ex.ParentFlowID = p.workflowID
	}
	return ex, true
}

// Executions returns snapshots of every run of a flow type.
func (s *Service) Executions(flowType string) []Execution {
	s.mu.Lock()
	ids := make([]string, 0)
	for _, r := range s.runs {
		if flowType == "" || r.flowType == flowType {
			ids = append(ids, r.workflowID)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]Execution, 0, len(ids))
	for _, id := range ids {
		if ex, ok := s.Execution(id); ok {
			out = append(out, ex)
		}
	}
	return out
}

// Idle reports whether no decision or activity task is queued or in flight.
func (s *Service) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisionQueue) == 0 && len(s.decisionTasks) == 0 &&
		len(s.activityQueue) == 0 && len(s.activityTasks) == 0
}
