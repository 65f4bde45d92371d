// Package flows holds the driving-vertex crawl: the flow bodies that fan
// out over remote vertices, their change types and their changes, and the
// activities those flows schedule.
package flows

import (
	"fmt"
	"sort"

	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/workflow"
)

// Flow type names.
const (
	CommandFungi             = "command_fungi"
	WorkRemoteID             = "work_remote_id"
	WorkRemoteIDChangeType   = "work_remote_id_change_type"
	WorkRemoteIDChangeAction = "work_remote_id_change_action"
)

// CrawlArgs start a crawl of one identifier stem.
type CrawlArgs struct {
	IdentifierStem string `json:"identifier_stem"`
}

// RemoteIDArgs start the crawl of one remote vertex.
type RemoteIDArgs struct {
	IdentifierStem string             `json:"identifier_stem"`
	RemoteID       string             `json:"remote_id"`
	Mappings       map[string]Mapping `json:"mappings"`
}

// ChangeTypeArgs start the crawl of one change type of a remote vertex.
type ChangeTypeArgs struct {
	Target
	Mapping Mapping `json:"mapping"`
}

// CrawlSummary is the result of a command_fungi execution.
type CrawlSummary struct {
	IdentifierStem string   `json:"identifier_stem"`
	RemoteIDs      int      `json:"remote_ids"`
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	ChangeTypes    []string `json:"change_types"`
}

// Register adds the crawl flows to reg.
func Register(reg *workflow.Registry) error {
	defs := []*workflow.Definition{
		{Name: CommandFungi, Description: "crawl an identifier stem", Flow: commandFungi},
		{Name: WorkRemoteID, Description: "crawl the change types of one remote vertex", Flow: workRemoteID},
		{Name: WorkRemoteIDChangeType, Description: "crawl the changes of one change type", Flow: workRemoteIDChangeType},
		{Name: WorkRemoteIDChangeAction, Description: "enrich and emit one change", Flow: workRemoteIDChangeAction},
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// capped applies the configured failure cap of the signature's type.
func capped(c workflow.Context, s workflow.Signature) workflow.Signature {
	return s.WithMaxFailures(c.Config.MaxFailures(s.Kind, s.Name))
}

// childID derives a child workflow id, unique within the domain. Workflow
// ids may not contain slashes or colons.
func childID(c workflow.Context, suffix string) string {
	return c.ExecutionID + "." + suffix
}

func args(c workflow.Context, v any) error {
	if err := c.Args(v); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrFlowFailed, err)
	}
	return nil
}

func complete(out *decision.List, v any) error {
	result, err := workflow.Encode(v)
	if err != nil {
		return err
	}
	out.Add(decision.CompleteWorkflow(result))
	return nil
}

// diff returns the ids only remote has and the ids only local has, sorted.
func diff(local, remote []string) (added, removed []string) {
	have := make(map[string]bool, len(local))
	for _, id := range local {
		have[id] = true
	}
	seen := make(map[string]bool, len(remote))
	added, removed = []string{}, []string{}
	for _, id := range remote {
		seen[id] = true
		if !have[id] {
			added = append(added, id)
		}
	}
	for _, id := range local {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func commandFungi(c workflow.Context, out *decision.List) error {
	var in CrawlArgs
	if err := args(c, &in); err != nil {
		return err
	}
	if in.IdentifierStem == "" {
		return fmt.Errorf("%w: identifier_stem is required", workflow.ErrFlowFailed)
	}
	stem := StemArgs{IdentifierStem: in.IdentifierStem}

	ids, ok, err := workflow.Group(c, out,
		capped(c, workflow.Activity(GetLocalIDs, GetLocalIDs, stem)),
		capped(c, workflow.Activity(GetRemoteIDs, GetRemoteIDs, stem)),
	)
	if err != nil || !ok {
		return err
	}
	var local, remote []string
	if err := ids.Decode(GetLocalIDs, &local); err != nil {
		return err
	}
	if err := ids.Decode(GetRemoteIDs, &remote); err != nil {
		return err
	}
	added, removed := diff(local, remote)

	if _, ok, err := workflow.Chain(c, out,
		capped(c, workflow.Activity(PutNewIDs, PutNewIDs, IDsArgs{IdentifierStem: in.IdentifierStem, IDs: added})),
	); err != nil || !ok {
		return err
	}

	if _, ok, err := workflow.Group(c, out,
		capped(c, workflow.Activity(LinkNewIDs, LinkNewIDs, IDsArgs{IdentifierStem: in.IdentifierStem, IDs: added})),
		capped(c, workflow.Activity(UnlinkOldIDs, UnlinkOldIDs, IDsArgs{IdentifierStem: in.IdentifierStem, IDs: removed})),
	); err != nil || !ok {
		return err
	}

	mapping := capped(c, workflow.Activity(BuildMapping, BuildMapping, nil))
	mapping.Bind = func(prior workflow.Results) (any, error) {
		var types []string
		if err := prior.Decode(PullChangeTypes, &types); err != nil {
			return nil, err
		}
		return MappingArgs{IdentifierStem: in.IdentifierStem, ChangeTypes: types}, nil
	}
	res, ok, err := workflow.Chain(c, out,
		capped(c, workflow.Activity(PullChangeTypes, PullChangeTypes, stem)),
		mapping,
	)
	if err != nil || !ok {
		return err
	}
	var mappings map[string]Mapping
	if err := res.Decode(BuildMapping, &mappings); err != nil {
		return err
	}

	children := make([]workflow.Signature, 0, len(remote))
	for _, id := range remote {
		children = append(children, capped(c, workflow.SubWorkflow(childID(c, id), WorkRemoteID, RemoteIDArgs{
			IdentifierStem: in.IdentifierStem,
			RemoteID:       id,
			Mappings:       mappings,
		})))
	}
	if _, ok, err := workflow.Group(c, out, children...); err != nil || !ok {
		return err
	}

	types := make([]string, 0, len(mappings))
	for t := range mappings {
		types = append(types, t)
	}
	sort.Strings(types)
	return complete(out, CrawlSummary{
		IdentifierStem: in.IdentifierStem,
		RemoteIDs:      len(remote),
		Added:          added,
		Removed:        removed,
		ChangeTypes:    types,
	})
}

func workRemoteID(c workflow.Context, out *decision.List) error {
	var in RemoteIDArgs
	if err := args(c, &in); err != nil {
		return err
	}
	if in.IdentifierStem == "" || in.RemoteID == "" {
		return fmt.Errorf("%w: identifier_stem and remote_id are required", workflow.ErrFlowFailed)
	}

	types := make([]string, 0, len(in.Mappings))
	for t := range in.Mappings {
		types = append(types, t)
	}
	sort.Strings(types)

	children := make([]workflow.Signature, 0, len(types))
	for _, t := range types {
		children = append(children, capped(c, workflow.SubWorkflow(childID(c, t), WorkRemoteIDChangeType, ChangeTypeArgs{
			Target:  Target{IdentifierStem: in.IdentifierStem, RemoteID: in.RemoteID, ChangeType: t},
			Mapping: in.Mappings[t],
		})))
	}
	res, ok, err := workflow.Group(c, out, children...)
	if err != nil || !ok {
		return err
	}

	marks := make(map[string]int64, len(types))
	for _, t := range types {
		var hw HighWater
		if err := res.Decode(childID(c, t), &hw); err != nil {
			return err
		}
		marks[t] = hw.ChangeID
	}
	return complete(out, map[string]any{"remote_id": in.RemoteID, "high_water": marks})
}

func workRemoteIDChangeType(c workflow.Context, out *decision.List) error {
	var in ChangeTypeArgs
	if err := args(c, &in); err != nil {
		return err
	}
	if in.RemoteID == "" || in.ChangeType == "" {
		return fmt.Errorf("%w: remote_id and change_type are required", workflow.ErrFlowFailed)
	}

	pull := capped(c, workflow.Activity(PullChanges, PullChanges, nil))
	pull.Bind = func(prior workflow.Results) (any, error) {
		var hw HighWater
		if err := prior.Decode(GetLocalMaxChangeID, &hw); err != nil {
			return nil, err
		}
		return PullArgs{Target: in.Target, Since: hw.ChangeID}, nil
	}
	res, ok, err := workflow.Chain(c, out,
		capped(c, workflow.Activity(GetLocalMaxChangeID, GetLocalMaxChangeID, in.Target)),
		pull,
	)
	if err != nil || !ok {
		return err
	}
	var since HighWater
	if err := res.Decode(GetLocalMaxChangeID, &since); err != nil {
		return err
	}
	var changes []Change
	if err := res.Decode(PullChanges, &changes); err != nil {
		return err
	}

	children := make([]workflow.Signature, 0, len(changes))
	for _, ch := range changes {
		children = append(children, capped(c, workflow.SubWorkflow(childID(c, fmt.Sprint(ch.ID)), WorkRemoteIDChangeAction, ActionArgs{
			Target:  in.Target,
			Mapping: in.Mapping,
			Change:  ch,
		})))
	}
	if _, ok, err := workflow.Group(c, out, children...); err != nil || !ok {
		return err
	}

	if len(changes) == 0 {
		return complete(out, since)
	}
	mark := HighWater{Target: in.Target, ChangeID: changes[len(changes)-1].ID}
	if _, ok, err := workflow.Chain(c, out,
		capped(c, workflow.Activity(SetLocalMaxChangeID, SetLocalMaxChangeID, mark)),
	); err != nil || !ok {
		return err
	}
	return complete(out, mark)
}

func workRemoteIDChangeAction(c workflow.Context, out *decision.List) error {
	var in ActionArgs
	if err := args(c, &in); err != nil {
		return err
	}
	if in.RemoteID == "" || in.ChangeType == "" {
		return fmt.Errorf("%w: remote_id and change_type are required", workflow.ErrFlowFailed)
	}

	emit := capped(c, workflow.Activity(EmitChange, EmitChange, nil))
	emit.Bind = func(prior workflow.Results) (any, error) {
		rec, ok := prior[EnrichChange]
		if !ok {
			return nil, fmt.Errorf("no enriched record for change %d", in.Change.ID)
		}
		return rec, nil
	}
	res, ok, err := workflow.Chain(c, out,
		capped(c, workflow.Lambda(EnrichChange, EnrichChange, in)),
		emit,
	)
	if err != nil || !ok {
		return err
	}
	return complete(out, res[EmitChange])
}
