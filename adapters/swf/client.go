// Package swfservice runs the engine and its workers against Amazon Simple
// Workflow Service.
package swfservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/swf"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"

	"github.com/KamdynS/leech/activity"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/state"
	"github.com/KamdynS/leech/worker"
)

// API is the subset of the SWF client the adapter calls.
type API interface {
	swf.GetWorkflowExecutionHistoryAPIClient
	PollForDecisionTask(ctx context.Context, in *swf.PollForDecisionTaskInput, optFns ...func(*swf.Options)) (*swf.PollForDecisionTaskOutput, error)
	RespondDecisionTaskCompleted(ctx context.Context, in *swf.RespondDecisionTaskCompletedInput, optFns ...func(*swf.Options)) (*swf.RespondDecisionTaskCompletedOutput, error)
	PollForActivityTask(ctx context.Context, in *swf.PollForActivityTaskInput, optFns ...func(*swf.Options)) (*swf.PollForActivityTaskOutput, error)
	RespondActivityTaskCompleted(ctx context.Context, in *swf.RespondActivityTaskCompletedInput, optFns ...func(*swf.Options)) (*swf.RespondActivityTaskCompletedOutput, error)
	RespondActivityTaskFailed(ctx context.Context, in *swf.RespondActivityTaskFailedInput, optFns ...func(*swf.Options)) (*swf.RespondActivityTaskFailedOutput, error)
	TerminateWorkflowExecution(ctx context.Context, in *swf.TerminateWorkflowExecutionInput, optFns ...func(*swf.Options)) (*swf.TerminateWorkflowExecutionOutput, error)
	StartWorkflowExecution(ctx context.Context, in *swf.StartWorkflowExecutionInput, optFns ...func(*swf.Options)) (*swf.StartWorkflowExecutionOutput, error)
}

// Service is the SWF backed workflow service.
type Service struct {
	client API
	cfg    Config
}

var (
	_ engine.Service        = (*Service)(nil)
	_ engine.Starter        = (*Service)(nil)
	_ worker.DecisionPoller = (*Service)(nil)
	_ worker.ActivityPoller = (*Service)(nil)
)

// New builds an SWF client from the default AWS configuration chain.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("swf domain is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := swf.NewFromConfig(awsCfg, func(o *swf.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg)
}

// NewFromClient wraps an existing client.
func NewFromClient(client API, cfg Config) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("swf client is required")
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("swf domain is required")
	}
	if cfg.Identity == "" {
		cfg.Identity, _ = os.Hostname()
	}
	return &Service{client: client, cfg: cfg}, nil
}

// PollForDecisionTask long-polls taskList. A page token continues the task
// the previous page belongs to.
func (s *Service) PollForDecisionTask(ctx context.Context, taskList, pageToken string) (*state.WorkflowHistory, string, error) {
	out, err := s.client.PollForDecisionTask(ctx, &swf.PollForDecisionTaskInput{
		Domain:        aws.String(s.cfg.Domain),
		TaskList:      &types.TaskList{Name: aws.String(s.taskList(taskList))},
		Identity:      opt(s.cfg.Identity),
		NextPageToken: opt(pageToken),
	})
	if err != nil {
		return nil, "", err
	}
	token := aws.ToString(out.TaskToken)
	if token == "" {
		return nil, "", nil
	}
	events, err := convertEvents(out.Events)
	if err != nil {
		return nil, "", err
	}
	h := state.NewWorkflowHistory(events)
	h.TaskToken = token
	h.Domain = s.cfg.Domain
	if ex := out.WorkflowExecution; ex != nil {
		h.FlowID, h.RunID = aws.ToString(ex.WorkflowId), aws.ToString(ex.RunId)
	}
	if wt := out.WorkflowType; wt != nil && h.FlowType == "" {
		h.FlowType = aws.ToString(wt.Name)
	}
	return h, aws.ToString(out.NextPageToken), nil
}

// Markers reads every page of an earlier run's history and keeps its markers.
func (s *Service) Markers(ctx context.Context, workflowID, runID string) (*state.MarkerHistory, error) {
	markers := state.NewMarkerHistory()
	pages := swf.NewGetWorkflowExecutionHistoryPaginator(s.client, &swf.GetWorkflowExecutionHistoryInput{
		Domain:    aws.String(s.cfg.Domain),
		Execution: &types.WorkflowExecution{WorkflowId: aws.String(workflowID), RunId: aws.String(runID)},
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("history of %s/%s: %w", workflowID, runID, err)
		}
		for _, e := range page.Events {
			if e.EventType != types.EventTypeMarkerRecorded {
				continue
			}
			ev, err := convertEvent(e)
			if err != nil {
				return nil, err
			}
			markers.Apply(ev)
		}
	}
	return markers, nil
}

// RespondDecisionTaskCompleted sends a decision batch.
func (s *Service) RespondDecisionTaskCompleted(ctx context.Context, token string, decisions []decision.Decision) error {
	out := make([]types.Decision, 0, len(decisions))
	for _, d := range decisions {
		sd, err := convertDecision(d)
		if err != nil {
			return err
		}
		out = append(out, sd)
	}
	_, err := s.client.RespondDecisionTaskCompleted(ctx, &swf.RespondDecisionTaskCompletedInput{
		TaskToken: aws.String(token),
		Decisions: out,
	})
	return err
}

// TerminateWorkflowExecution terminates an execution and its children.
func (s *Service) TerminateWorkflowExecution(ctx context.Context, req engine.TerminateRequest) error {
	domain := req.Domain
	if domain == "" {
		domain = s.cfg.Domain
	}
	_, err := s.client.TerminateWorkflowExecution(ctx, &swf.TerminateWorkflowExecutionInput{
		Domain:      aws.String(domain),
		WorkflowId:  aws.String(req.WorkflowID),
		RunId:       opt(req.RunID),
		Reason:      opt(engine.Truncate(req.Reason, engine.MaxReasonLength)),
		Details:     opt(engine.Truncate(req.Details, engine.MaxDetailsLength)),
		ChildPolicy: types.ChildPolicyTerminate,
	})
	return err
}

// StartExecution starts a top-level execution and returns its run id.
func (s *Service) StartExecution(ctx context.Context, req engine.StartRequest) (string, error) {
	if req.WorkflowID == "" || req.FlowType == "" || req.Version == "" {
		return "", fmt.Errorf("workflow id, flow type and version are required")
	}
	out, err := s.client.StartWorkflowExecution(ctx, &swf.StartWorkflowExecutionInput{
		Domain:                       aws.String(s.cfg.Domain),
		WorkflowId:                   aws.String(req.WorkflowID),
		WorkflowType:                 &types.WorkflowType{Name: aws.String(req.FlowType), Version: aws.String(req.Version)},
		Input:                        opt(req.Input),
		TaskList:                     taskList(s.taskList(req.TaskList)),
		LambdaRole:                   opt(req.LambdaRole),
		ChildPolicy:                  types.ChildPolicyTerminate,
		ExecutionStartToCloseTimeout: opt(decision.Seconds(s.cfg.ExecutionStartToClose)),
		TaskStartToCloseTimeout:      opt(decision.Seconds(s.cfg.TaskStartToClose)),
	})
	if err != nil {
		var started *types.WorkflowExecutionAlreadyStartedFault
		if errors.As(err, &started) {
			return "", fmt.Errorf("%s: %w", req.WorkflowID, ErrAlreadyStarted)
		}
		return "", err
	}
	runID := aws.ToString(out.RunId)
	log.Printf("[SWF] Started %s %s (%s)", req.FlowType, req.WorkflowID, runID)
	return runID, nil
}

// PollForActivityTask long-polls taskList. It returns nil when the poll
// timed out without a task.
func (s *Service) PollForActivityTask(ctx context.Context, taskList string) (*activity.Task, error) {
	out, err := s.client.PollForActivityTask(ctx, &swf.PollForActivityTaskInput{
		Domain:   aws.String(s.cfg.Domain),
		TaskList: &types.TaskList{Name: aws.String(s.taskList(taskList))},
		Identity: opt(s.cfg.Identity),
	})
	if err != nil {
		return nil, err
	}
	if aws.ToString(out.TaskToken) == "" {
		return nil, nil
	}
	task := &activity.Task{
		Token:      aws.ToString(out.TaskToken),
		ActivityID: aws.ToString(out.ActivityId),
		Input:      aws.ToString(out.Input),
	}
	if at := out.ActivityType; at != nil {
		task.Name, task.Version = aws.ToString(at.Name), aws.ToString(at.Version)
	}
	if ex := out.WorkflowExecution; ex != nil {
		task.WorkflowID, task.RunID = aws.ToString(ex.WorkflowId), aws.ToString(ex.RunId)
	}
	return task, nil
}

// RespondActivityTaskCompleted records an activity result.
func (s *Service) RespondActivityTaskCompleted(ctx context.Context, token, result string) error {
	_, err := s.client.RespondActivityTaskCompleted(ctx, &swf.RespondActivityTaskCompletedInput{
		TaskToken: aws.String(token),
		Result:    opt(result),
	})
	return err
}

// RespondActivityTaskFailed records an activity failure.
func (s *Service) RespondActivityTaskFailed(ctx context.Context, token, reason, details string) error {
	_, err := s.client.RespondActivityTaskFailed(ctx, &swf.RespondActivityTaskFailedInput{
		TaskToken: aws.String(token),
		Reason:    opt(engine.Truncate(reason, engine.MaxReasonLength)),
		Details:   opt(engine.Truncate(details, engine.MaxDetailsLength)),
	})
	return err
}

func (s *Service) taskList(name string) string {
	if name != "" {
		return name
	}
	if s.cfg.TaskList != "" {
		return s.cfg.TaskList
	}
	return DefaultTaskList
}
