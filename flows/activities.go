package flows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/KamdynS/leech/activity"
	"github.com/KamdynS/leech/graph"
	"github.com/KamdynS/leech/sink"
)

// Activity and lambda type names scheduled by the crawl flows.
const (
	GetLocalIDs         = "get_local_ids"
	GetRemoteIDs        = "get_remote_ids"
	PutNewIDs           = "put_new_ids"
	LinkNewIDs          = "link_new_ids"
	UnlinkOldIDs        = "unlink_old_ids"
	PullChangeTypes     = "pull_change_types"
	BuildMapping        = "build_mapping"
	GetLocalMaxChangeID = "get_local_max_change_id"
	PullChanges         = "pull_changes"
	SetLocalMaxChangeID = "set_local_max_change_id"
	EnrichChange        = "enrich_change"
	EmitChange          = "emit_change"
)

// StemArgs addresses an identifier stem.
type StemArgs struct {
	IdentifierStem string `json:"identifier_stem"`
}

// IDsArgs carries identifier values of a stem.
type IDsArgs struct {
	IdentifierStem string   `json:"identifier_stem"`
	IDs            []string `json:"ids"`
}

// MappingArgs asks for the extraction mappings of change types.
type MappingArgs struct {
	IdentifierStem string   `json:"identifier_stem"`
	ChangeTypes    []string `json:"change_types"`
}

// Target addresses the changes of one type of one remote vertex.
type Target struct {
	IdentifierStem string `json:"identifier_stem"`
	RemoteID       string `json:"remote_id"`
	ChangeType     string `json:"change_type"`
}

// Stage is the progress stage the high-water mark of a target is kept under.
func (t Target) Stage() string {
	return "change:" + t.ChangeType
}

func (t Target) key() graph.Key {
	return graph.Key{SID: t.RemoteID, Stem: t.IdentifierStem}
}

// PullArgs asks for the changes of a target above a high-water mark.
type PullArgs struct {
	Target
	Since int64 `json:"since"`
}

// HighWater is the high-water mark of a target.
type HighWater struct {
	Target
	ChangeID int64 `json:"change_id"`
}

// ActionArgs carries one change to enrich, with the mapping of its type.
type ActionArgs struct {
	Target
	Mapping Mapping `json:"mapping"`
	Change  Change  `json:"change"`
}

// Count reports how many items an activity affected.
type Count struct {
	Count int `json:"count"`
}

// Emitted reports an emitted change record.
type Emitted struct {
	ID string `json:"id"`
}

// Activities implements the crawl activities over their collaborators.
type Activities struct {
	Remote RemoteSource
	Graph  graph.Store
	Sink   sink.Sink
	Now    func() time.Time
}

// Register adds every crawl activity to reg. enrich_change is registered
// too so workers can serve it where lambdas run through the activity queue.
func (a *Activities) Register(reg *activity.Registry) error {
	if a.Remote == nil || a.Graph == nil || a.Sink == nil {
		return fmt.Errorf("remote source, graph store and sink are required")
	}
	defs := []struct {
		name string
		fn   activity.Activity
		desc string
	}{
		{GetLocalIDs, activity.Typed(a.GetLocalIDs), "list identifier values stored for a stem"},
		{GetRemoteIDs, activity.Typed(a.GetRemoteIDs), "list identifier values the remote knows"},
		{PutNewIDs, activity.Typed(a.PutNewIDs), "write newly discovered vertices"},
		{LinkNewIDs, activity.Typed(a.LinkNewIDs), "link new vertices"},
		{UnlinkOldIDs, activity.Typed(a.UnlinkOldIDs), "unlink vertices the remote dropped"},
		{PullChangeTypes, activity.Typed(a.PullChangeTypes), "list change categories of a stem"},
		{BuildMapping, activity.Typed(a.BuildMapping), "collect extraction mappings"},
		{GetLocalMaxChangeID, activity.Typed(a.GetLocalMaxChangeID), "read the high-water mark of a target"},
		{PullChanges, activity.Typed(a.PullChanges), "pull changes above the high-water mark"},
		{SetLocalMaxChangeID, activity.Typed(a.SetLocalMaxChangeID), "raise the high-water mark of a target"},
		{EnrichChange, activity.Typed(a.EnrichChange), "normalize a change into a record"},
		{EmitChange, activity.Typed(a.EmitChange), "hand a record to the sink"},
	}
	for _, d := range defs {
		if err := reg.Register(d.name, d.fn, activity.Info{Description: d.desc}); err != nil {
			return err
		}
	}
	return nil
}

// GetLocalIDs lists the stored identifier values of a stem. An empty index
// yields an empty list.
func (a *Activities) GetLocalIDs(ctx context.Context, in StemArgs) ([]string, error) {
	ids, err := a.Graph.IDs(ctx, in.IdentifierStem)
	if errors.Is(err, graph.ErrEmptyIndex) {
		return []string{}, nil
	}
	return ids, err
}

func (a *Activities) GetRemoteIDs(ctx context.Context, in StemArgs) ([]string, error) {
	ids, err := a.Remote.RemoteIDs(ctx, in.IdentifierStem)
	if err != nil {
		return nil, fmt.Errorf("remote ids of %s: %w", in.IdentifierStem, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// PutNewIDs writes each vertex once. Replays of the activity create nothing.
func (a *Activities) PutNewIDs(ctx context.Context, in IDsArgs) (Count, error) {
	var n Count
	for _, id := range in.IDs {
		created, err := a.Graph.Put(ctx, graph.Key{SID: id, Stem: in.IdentifierStem})
		if err != nil {
			return n, fmt.Errorf("put %s/%s: %w", in.IdentifierStem, id, err)
		}
		if created {
			n.Count++
		}
	}
	return n, nil
}

func (a *Activities) LinkNewIDs(ctx context.Context, in IDsArgs) (Count, error) {
	return a.setLinked(ctx, in, true)
}

func (a *Activities) UnlinkOldIDs(ctx context.Context, in IDsArgs) (Count, error) {
	return a.setLinked(ctx, in, false)
}

func (a *Activities) setLinked(ctx context.Context, in IDsArgs, linked bool) (Count, error) {
	for _, id := range in.IDs {
		if err := a.Graph.SetLinked(ctx, graph.Key{SID: id, Stem: in.IdentifierStem}, linked); err != nil {
			return Count{}, fmt.Errorf("set linked=%t on %s/%s: %w", linked, in.IdentifierStem, id, err)
		}
	}
	return Count{Count: len(in.IDs)}, nil
}

func (a *Activities) PullChangeTypes(ctx context.Context, in StemArgs) ([]string, error) {
	types, err := a.Remote.ChangeTypes(ctx, in.IdentifierStem)
	if err != nil {
		return nil, fmt.Errorf("change types of %s: %w", in.IdentifierStem, err)
	}
	if types == nil {
		types = []string{}
	}
	return types, nil
}

// BuildMapping collects the extraction mapping of every change type. Types
// without extraction information are left out.
func (a *Activities) BuildMapping(ctx context.Context, in MappingArgs) (map[string]Mapping, error) {
	out := make(map[string]Mapping, len(in.ChangeTypes))
	for _, t := range in.ChangeTypes {
		m, err := a.Remote.Extraction(ctx, in.IdentifierStem, t)
		if errors.Is(err, ErrMissingExtraction) {
			log.Printf("[Flows] Skipping change type %s of %s: %v", t, in.IdentifierStem, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("extraction of %s/%s: %w", in.IdentifierStem, t, err)
		}
		out[t] = m
	}
	return out, nil
}

func (a *Activities) GetLocalMaxChangeID(ctx context.Context, in Target) (HighWater, error) {
	v, err := a.Graph.Progress(ctx, in.key(), in.Stage())
	if err != nil {
		return HighWater{}, fmt.Errorf("progress of %s/%s: %w", in.IdentifierStem, in.RemoteID, err)
	}
	return HighWater{Target: in, ChangeID: v}, nil
}

func (a *Activities) PullChanges(ctx context.Context, in PullArgs) ([]Change, error) {
	changes, err := a.Remote.Changes(ctx, in.IdentifierStem, in.RemoteID, in.ChangeType, in.Since)
	if err != nil {
		return nil, fmt.Errorf("changes of %s/%s/%s: %w", in.IdentifierStem, in.RemoteID, in.ChangeType, err)
	}
	if changes == nil {
		changes = []Change{}
	}
	return changes, nil
}

func (a *Activities) SetLocalMaxChangeID(ctx context.Context, in HighWater) (HighWater, error) {
	if _, err := a.Graph.Advance(ctx, in.key(), in.Stage(), in.ChangeID); err != nil {
		return HighWater{}, fmt.Errorf("advance %s/%s: %w", in.IdentifierStem, in.RemoteID, err)
	}
	return in, nil
}

// EnrichChange renames the mapped fields of a change and drops the rest.
func (a *Activities) EnrichChange(_ context.Context, in ActionArgs) (sink.Record, error) {
	fields := make(map[string]any, len(in.Mapping))
	for name, remote := range in.Mapping {
		if v, ok := in.Change.Fields[remote]; ok {
			fields[name] = v
		}
	}
	return sink.Record{
		ID:             sink.RecordID(in.IdentifierStem, in.RemoteID, in.ChangeType, in.Change.ID),
		IdentifierStem: in.IdentifierStem,
		RemoteID:       in.RemoteID,
		ChangeType:     in.ChangeType,
		ChangeID:       in.Change.ID,
		Action:         in.Change.Action,
		Fields:         fields,
	}, nil
}

func (a *Activities) EmitChange(ctx context.Context, rec sink.Record) (Emitted, error) {
	if rec.EmittedAt.IsZero() {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		rec.EmittedAt = now().UTC()
	}
	if err := a.Sink.Emit(ctx, rec); err != nil {
		if task, ok := activity.TaskFrom(ctx); ok {
			log.Printf("[Flows] Emit of %s from %s failed: %v", rec.ID, task.WorkflowID, err)
		}
		return Emitted{}, fmt.Errorf("emit %s: %w", rec.ID, err)
	}
	return Emitted{ID: rec.ID}, nil
}
