package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region resolver
// Resolver merges scoped targets into one effective target per adjustable parameter.
type Resolver struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewResolver creates a resolver. A nil logger is replaced by a no-op logger.
func NewResolver(store Store, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, cfg: cfg, logger: logger}
}

// #endregion resolver

// #region plan
// layerPlan names one scoped-target read. Plans are merged in slice order.
type layerPlan struct {
	scope targets.Scope
	owner string
	label string
}

// layerSet is a loaded layer indexed by parameter id. A nil index means the read failed.
type layerSet struct {
	scope targets.Scope
	label string
	index map[string]targets.ScopedTarget
}

type owners struct {
	caller   targets.Caller
	playbook *targets.Playbook
	segment  *targets.Segment
}

// plan lists the layers for a caller in SYSTEM, PLAYBOOK, SEGMENT, CALLER order.
func (r *Resolver) plan(own owners) []layerPlan {
	plan := []layerPlan{{scope: targets.ScopeSystem, label: "system"}}
	if own.playbook != nil {
		plan = append(plan, layerPlan{scope: targets.ScopePlaybook, owner: own.playbook.ID, label: own.playbook.Name})
	}
	if own.segment != nil {
		plan = append(plan, layerPlan{scope: targets.ScopeSegment, owner: own.segment.ID, label: own.segment.Name})
	}
	if r.cfg.LegacyCallerScope && own.caller.IdentityID != "" {
		label := own.caller.Name
		if label == "" {
			label = own.caller.IdentityID
		}
		plan = append(plan, layerPlan{scope: targets.ScopeCaller, owner: own.caller.IdentityID, label: label})
	}
	return plan
}

// #endregion plan

// #region resolve
// Resolve computes the effective targets for a caller. Owner lookup failures reduce
// the pass to the SYSTEM layer; individual layer read failures skip that layer.
// Both are reported in Resolution.Warnings. Only a failure to list parameters, or a
// cancelled context, is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, callerID string) (*Resolution, error) {
	params, err := r.adjustableParameters(ctx)
	if err != nil {
		return nil, err
	}

	res := &Resolution{CallerID: callerID}
	own, err := r.owners(ctx, callerID)
	if err != nil {
		r.warn(res, "owner lookup failed, resolving SYSTEM layer only", err)
		own = owners{}
	}
	if own.playbook != nil {
		res.PlaybookID = own.playbook.ID
	}
	if own.segment != nil {
		res.SegmentID = own.segment.ID
	}

	var personal []targets.CallerTarget
	var personalErr error
	sets, layerErrs := r.loadLayers(ctx, r.plan(own), func(gctx context.Context) {
		personal, personalErr = r.store.ListCallerTargets(gctx, callerID)
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", callerID, err)
	}
	for _, e := range layerErrs {
		r.warn(res, "layer skipped", e)
	}
	if personalErr != nil {
		r.warn(res, "caller targets unavailable", personalErr)
	}

	res.Targets = merge(params, sets, r.cfg)
	attachPersonalized(res.Targets, personal)
	return res, nil
}

// ResolveCall resolves the caller of a call and joins the latest measurement per
// parameter recorded for that call.
func (r *Resolver) ResolveCall(ctx context.Context, callID string) (*Resolution, error) {
	call, err := r.store.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("resolve call: %w", err)
	}
	res, err := r.Resolve(ctx, call.CallerID)
	if err != nil {
		return nil, err
	}
	res.CallID = callID

	measured, err := r.store.LatestMeasurements(ctx, callID)
	if err != nil {
		r.warn(res, "measurements unavailable", err)
		return res, nil
	}
	for i := range res.Targets {
		t := &res.Targets[i]
		m, ok := measured[t.ParameterID]
		if !ok {
			continue
		}
		actual := m.ActualValue
		delta := actual - t.EffectiveValue
		t.ActualValue = &actual
		t.Delta = &delta
	}
	return res, nil
}

// ResolvePlaybook merges only the SYSTEM and PLAYBOOK layers of one playbook,
// whatever its status. It backs the playbook admin view.
func (r *Resolver) ResolvePlaybook(ctx context.Context, playbookID string) (*Resolution, error) {
	pb, err := r.store.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, fmt.Errorf("resolve playbook: %w", err)
	}
	params, err := r.adjustableParameters(ctx)
	if err != nil {
		return nil, err
	}

	res := &Resolution{PlaybookID: pb.ID}
	sets, layerErrs := r.loadLayers(ctx, []layerPlan{
		{scope: targets.ScopeSystem, label: "system"},
		{scope: targets.ScopePlaybook, owner: pb.ID, label: pb.Name},
	}, nil)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve playbook %s: %w", playbookID, err)
	}
	for _, e := range layerErrs {
		r.warn(res, "layer skipped", e)
	}
	res.Targets = merge(params, sets, r.cfg)
	return res, nil
}

// #endregion resolve

// #region loads
func (r *Resolver) adjustableParameters(ctx context.Context) ([]targets.Parameter, error) {
	all, err := r.store.ListParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	params := make([]targets.Parameter, 0, len(all))
	for _, p := range all {
		if p.Adjustable {
			params = append(params, p)
		}
	}
	sort.Slice(params, func(i, j int) bool { return params[i].ID < params[j].ID })
	return params, nil
}

// owners loads the caller, then its published playbook and segment in parallel.
// A domain without a published playbook is not an error.
func (r *Resolver) owners(ctx context.Context, callerID string) (owners, error) {
	caller, err := r.store.GetCaller(ctx, callerID)
	if err != nil {
		return owners{}, err
	}
	own := owners{caller: caller}

	g, gctx := errgroup.WithContext(ctx)
	if caller.DomainID != "" {
		g.Go(func() error {
			pb, err := r.store.PublishedPlaybookForDomain(gctx, caller.DomainID)
			if errors.Is(err, targets.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("playbook for domain %s: %w", caller.DomainID, err)
			}
			own.playbook = &pb
			return nil
		})
	}
	if caller.SegmentID != "" {
		g.Go(func() error {
			seg, err := r.store.GetSegment(gctx, caller.SegmentID)
			if err != nil {
				return fmt.Errorf("segment %s: %w", caller.SegmentID, err)
			}
			own.segment = &seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return owners{caller: caller}, err
	}
	return own, nil
}

// loadLayers reads every planned layer concurrently. extra, when set, runs in the
// same group. Failed reads leave a nil index and are returned as errors in plan order.
func (r *Resolver) loadLayers(ctx context.Context, plan []layerPlan, extra func(context.Context)) ([]layerSet, []error) {
	sets := make([]layerSet, len(plan))
	errs := make([]error, len(plan))

	var g errgroup.Group
	for i, p := range plan {
		i, p := i, p
		sets[i] = layerSet{scope: p.scope, label: p.label}
		g.Go(func() error {
			rows, err := r.store.ListScopedTargets(ctx, p.scope, p.owner)
			if err != nil {
				errs[i] = fmt.Errorf("%s layer %q: %w", p.scope, p.label, err)
				return nil
			}
			index := make(map[string]targets.ScopedTarget, len(rows))
			for _, t := range rows {
				index[t.ParameterID] = t
			}
			sets[i].index = index
			return nil
		})
	}
	if extra != nil {
		g.Go(func() error {
			extra(ctx)
			return nil
		})
	}
	g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return sets, failed
}

func (r *Resolver) warn(res *Resolution, msg string, err error) {
	res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", msg, err))
	r.logger.Warn(msg,
		zap.String("caller_id", res.CallerID),
		zap.String("playbook_id", res.PlaybookID),
		zap.Error(err),
	)
}

// #endregion loads

// #region merge
// merge applies layer sets in order on top of the configured default. Parameters
// without an entry in a layer keep what the previous layers produced.
func merge(params []targets.Parameter, sets []layerSet, cfg Config) []EffectiveTarget {
	out := make([]EffectiveTarget, 0, len(params))
	for _, p := range params {
		et := EffectiveTarget{
			ParameterID:    p.ID,
			Name:           p.Name,
			DomainGroup:    p.DomainGroup,
			EffectiveValue: cfg.DefaultValue,
			Confidence:     cfg.DefaultConfidence,
			EffectiveScope: targets.ScopeDefault,
			Layers:         []Layer{},
		}
		for _, s := range sets {
			t, ok := s.index[p.ID]
			if !ok {
				continue
			}
			et.EffectiveValue = t.Value
			et.Confidence = t.Confidence
			et.Source = t.Source
			et.EffectiveScope = s.scope
			et.Layers = append(et.Layers, Layer{
				Scope:      s.scope,
				Value:      t.Value,
				Confidence: t.Confidence,
				Source:     t.Source,
				OwnerLabel: s.label,
			})
			v := t.Value
			switch s.scope {
			case targets.ScopeSystem:
				et.SystemValue = &v
			case targets.ScopePlaybook:
				et.PlaybookValue = &v
			}
		}
		out = append(out, et)
	}
	return out
}

func attachPersonalized(ets []EffectiveTarget, personal []targets.CallerTarget) {
	if len(personal) == 0 {
		return
	}
	byParam := make(map[string]targets.CallerTarget, len(personal))
	for _, ct := range personal {
		byParam[ct.ParameterID] = ct
	}
	for i := range ets {
		ct, ok := byParam[ets[i].ParameterID]
		if !ok {
			continue
		}
		ets[i].Personalized = &Personalized{
			Value:      ct.Value,
			Confidence: ct.Confidence,
			Source:     ct.Source,
			UpdatedAt:  ct.UpdatedAt,
		}
	}
}

// #endregion merge
