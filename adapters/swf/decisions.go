package swfservice

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/swf/types"

	"github.com/KamdynS/leech/decision"
)

func opt(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func taskList(name string) *types.TaskList {
	if name == "" {
		return nil
	}
	return &types.TaskList{Name: aws.String(name)}
}

// convertDecision renders a decision in the SDK's shape.
func convertDecision(d decision.Decision) (types.Decision, error) {
	if err := d.Validate(); err != nil {
		return types.Decision{}, err
	}
	out := types.Decision{DecisionType: types.DecisionType(d.Type)}
	switch d.Type {
	case decision.TypeScheduleActivityTask:
		a := d.ScheduleActivityTask
		out.ScheduleActivityTaskDecisionAttributes = &types.ScheduleActivityTaskDecisionAttributes{
			ActivityId:             aws.String(a.ActivityID),
			ActivityType:           &types.ActivityType{Name: aws.String(a.ActivityType.Name), Version: aws.String(a.ActivityType.Version)},
			Input:                  opt(a.Input),
			Control:                opt(a.Control),
			TaskList:               taskList(a.TaskList),
			ScheduleToStartTimeout: opt(decision.Seconds(a.Timeouts.ScheduleToStart)),
			StartToCloseTimeout:    opt(decision.Seconds(a.Timeouts.StartToClose)),
			ScheduleToCloseTimeout: opt(decision.Seconds(a.Timeouts.ScheduleToClose)),
			HeartbeatTimeout:       opt(decision.Seconds(a.Timeouts.Heartbeat)),
		}
	case decision.TypeScheduleLambdaFunction:
		a := d.ScheduleLambdaFunction
		out.ScheduleLambdaFunctionDecisionAttributes = &types.ScheduleLambdaFunctionDecisionAttributes{
			Id:                  aws.String(a.ID),
			Name:                aws.String(a.Name),
			Input:               opt(a.Input),
			Control:             opt(a.Control),
			StartToCloseTimeout: opt(decision.Seconds(a.StartToClose)),
		}
	case decision.TypeStartChildWorkflowExecution:
		a := d.StartChildWorkflowExecution
		out.StartChildWorkflowExecutionDecisionAttributes = &types.StartChildWorkflowExecutionDecisionAttributes{
			WorkflowId:                   aws.String(a.WorkflowID),
			WorkflowType:                 &types.WorkflowType{Name: aws.String(a.WorkflowType.Name), Version: aws.String(a.WorkflowType.Version)},
			Input:                        opt(a.Input),
			Control:                      opt(a.Control),
			TaskList:                     taskList(a.TaskList),
			LambdaRole:                   opt(a.LambdaRole),
			ChildPolicy:                  types.ChildPolicyTerminate,
			ExecutionStartToCloseTimeout: opt(decision.Seconds(a.ExecutionStartToClose)),
			TaskStartToCloseTimeout:      opt(decision.Seconds(a.TaskStartToClose)),
		}
	case decision.TypeStartTimer:
		a := d.StartTimer
		fire := decision.Seconds(a.Delay)
		if fire == "" {
			fire = "0"
		}
		out.StartTimerDecisionAttributes = &types.StartTimerDecisionAttributes{
			TimerId:            aws.String(a.TimerID),
			StartToFireTimeout: aws.String(fire),
			Control:            opt(a.Control),
		}
	case decision.TypeCancelTimer:
		out.CancelTimerDecisionAttributes = &types.CancelTimerDecisionAttributes{
			TimerId: aws.String(d.CancelTimer.TimerID),
		}
	case decision.TypeRecordMarker:
		out.RecordMarkerDecisionAttributes = &types.RecordMarkerDecisionAttributes{
			MarkerName: aws.String(d.RecordMarker.MarkerName),
			Details:    opt(d.RecordMarker.Details),
		}
	case decision.TypeCompleteWorkflowExecution:
		out.CompleteWorkflowExecutionDecisionAttributes = &types.CompleteWorkflowExecutionDecisionAttributes{
			Result: opt(d.CompleteWorkflowExecution.Result),
		}
	case decision.TypeFailWorkflowExecution:
		out.FailWorkflowExecutionDecisionAttributes = &types.FailWorkflowExecutionDecisionAttributes{
			Reason:  opt(d.FailWorkflowExecution.Reason),
			Details: opt(d.FailWorkflowExecution.Details),
		}
	case decision.TypeRequestCancelActivityTask:
		out.RequestCancelActivityTaskDecisionAttributes = &types.RequestCancelActivityTaskDecisionAttributes{
			ActivityId: aws.String(d.RequestCancelActivityTask.ActivityID),
		}
	case decision.TypeRequestCancelExternalWorkflowExecution:
		a := d.RequestCancelExternalWorkflowExecution
		out.RequestCancelExternalWorkflowExecutionDecisionAttributes = &types.RequestCancelExternalWorkflowExecutionDecisionAttributes{
			WorkflowId: aws.String(a.WorkflowID),
			RunId:      opt(a.RunID),
			Control:    opt(a.Control),
		}
	default:
		return types.Decision{}, fmt.Errorf("unsupported decision type %q", d.Type)
	}
	return out, nil
}
