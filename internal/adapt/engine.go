package adapt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paw2paw/hf-behavior/go-controller/internal/lock"
	"github.com/paw2paw/hf-behavior/go-controller/internal/logging"
	"github.com/paw2paw/hf-behavior/go-controller/internal/profile"
	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
	"github.com/paw2paw/hf-behavior/go-controller/internal/specs"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region collaborators
// Store is the target store surface the engine writes through.
type Store interface {
	GetParameter(ctx context.Context, id string) (targets.Parameter, error)
	AdjustCallerTarget(ctx context.Context, callerID, parameterID string, fn targets.AdjustFunc,
		confidence float64, source string, maxAttempts int) (targets.AdjustResult, error)
}

// SpecSource lists the active specs that carry adaptation rules.
type SpecSource interface {
	ListRuleBearing(ctx context.Context) ([]specs.Spec, error)
}

// #endregion collaborators

// #region result
// Result is the tally of one engine run. Errors holds per-action and per-spec
// failures; a run never aborts because of one.
type Result struct {
	RunID          string   `json:"runId"`
	CallerID       string   `json:"callerId"`
	SpecsRun       int      `json:"specsRun"`
	TargetsCreated int      `json:"targetsCreated"`
	TargetsUpdated int      `json:"targetsUpdated"`
	RulesEvaluated int      `json:"rulesEvaluated"`
	RulesFired     int      `json:"rulesFired"`
	ActionsSkipped int      `json:"actionsSkipped"`
	Errors         []string `json:"errors"`
}

func (r *Result) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// #endregion result

// #region engine
// Engine runs adaptation rules for one caller at a time.
type Engine struct {
	store    Store
	specs    SpecSource
	profiles profile.Provider
	locker   lock.Locker
	audit    *sql.DB
	logger   *zap.Logger
	cfg      Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker, e.g. with a Redis lease.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithAuditLog records every applied action in db's adaptation_log table.
func WithAuditLog(db *sql.DB) Option {
	return func(e *Engine) { e.audit = db }
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. Runs for the same caller are serialised through an
// in-process locker unless WithLocker is given.
func NewEngine(store Store, specSource SpecSource, profiles profile.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		specs:    specSource,
		profiles: profiles,
		locker:   lock.NewLocalLocker(),
		logger:   zap.NewNop(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// #endregion engine

// #region run
type loadedSpec struct {
	spec specs.Spec
	cfg  specs.Config
}

// run holds the request-scoped caches of one engine pass.
type run struct {
	callerID string
	result   *Result
	profile  map[string]rules.Value
	params   map[string]rules.Value
	known    map[string]*targets.Parameter
}

// Run evaluates every active rule-bearing spec against the caller's profile and
// writes the resulting caller targets.
func (e *Engine) Run(ctx context.Context, callerID string) Result {
	res := Result{RunID: uuid.New().String(), CallerID: callerID, Errors: []string{}}
	log := e.logger.With(zap.String("run_id", res.RunID), zap.String("caller_id", callerID))

	release, err := e.locker.Lock(ctx, "adapt:"+callerID)
	if err != nil {
		res.fail("lock caller: %v", err)
		log.Warn("adaptation run skipped", zap.Error(err))
		return res
	}
	defer release()

	loaded := e.loadSpecs(ctx, &res, log)
	if len(loaded) == 0 {
		log.Debug("no rule-bearing specs")
		return res
	}

	r := &run{callerID: callerID, result: &res, known: make(map[string]*targets.Parameter)}
	r.profile, err = e.profiles.Profile(ctx, callerID)
	if err != nil {
		res.fail("load profile: %v", err)
		r.profile = map[string]rules.Value{}
	}
	if needsParameterValues(loaded) {
		r.params = map[string]rules.Value{}
		pv, err := e.profiles.ParameterValues(ctx, callerID)
		if err != nil {
			res.fail("load parameter values: %v", err)
		}
		for k, v := range pv {
			r.params[k] = rules.Number(v)
		}
	}

	for _, ls := range loaded {
		res.SpecsRun++
		e.runSpec(ctx, r, ls, log.With(zap.String("spec_id", ls.spec.ID)))
	}

	log.Info("adaptation run complete",
		zap.Int("specs_run", res.SpecsRun),
		zap.Int("rules_evaluated", res.RulesEvaluated),
		zap.Int("rules_fired", res.RulesFired),
		zap.Int("targets_created", res.TargetsCreated),
		zap.Int("targets_updated", res.TargetsUpdated),
		zap.Int("errors", len(res.Errors)),
	)
	return res
}

// RunAll runs the engine for several callers, at most parallel at a time.
// Results are returned in input order.
func (e *Engine) RunAll(ctx context.Context, callerIDs []string, parallel int) []Result {
	results := make([]Result, len(callerIDs))
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, id := range callerIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = e.Run(ctx, id)
			return nil
		})
	}
	g.Wait()
	return results
}

func (e *Engine) loadSpecs(ctx context.Context, res *Result, log *zap.Logger) []loadedSpec {
	all, err := e.specs.ListRuleBearing(ctx)
	if err != nil {
		res.fail("load specs: %v", err)
		return nil
	}
	var loaded []loadedSpec
	for _, sp := range all {
		cfg, err := sp.Parse()
		if err != nil {
			res.fail("%v", err)
			log.Warn("spec config unreadable", zap.String("spec_id", sp.ID), zap.Error(err))
			continue
		}
		if !cfg.HasRules() {
			continue
		}
		loaded = append(loaded, loadedSpec{spec: sp, cfg: cfg})
	}
	return loaded
}

func needsParameterValues(loaded []loadedSpec) bool {
	for _, ls := range loaded {
		if ls.cfg.UsesParameterValues() {
			return true
		}
	}
	return false
}

// runSpec evaluates one spec's rules. A panic is confined to the spec.
func (e *Engine) runSpec(ctx context.Context, r *run, ls loadedSpec, log *zap.Logger) {
	defer func() {
		if p := recover(); p != nil {
			r.result.fail("spec %s: panic: %v", ls.spec.ID, p)
			log.Error("spec aborted", zap.Any("panic", p))
		}
	}()

	for _, bad := range ls.cfg.InvalidRules() {
		r.result.RulesEvaluated++
		log.Warn("rule unreadable, skipped", zap.String("parameter", bad.Parameter),
			zap.Int("rule_index", bad.Index), zap.Error(bad.Err))
	}

	confidence := ls.cfg.Confidence(e.cfg.DefaultConfidence)
	for _, rule := range ls.cfg.Rules() {
		r.result.RulesEvaluated++
		if err := rule.Condition.Validate(); err != nil {
			log.Warn("condition misconfigured", zap.Error(err))
		}

		value := profile.Lookup(r.view(rule.Condition.Source()), rule.Condition.ProfileKey)
		if !rules.Evaluate(rule.Condition, value) {
			continue
		}
		r.result.RulesFired++
		for _, action := range rule.Actions {
			e.apply(ctx, r, ls.spec.ID, action, confidence, log)
		}
	}
}

// view returns the values a condition reads. An unknown source has no values,
// so its condition never matches.
func (r *run) view(src rules.DataSource) map[string]rules.Value {
	switch src {
	case rules.SourceLearnerProfile:
		return r.profile
	case rules.SourceParameterValues:
		return r.params
	}
	return nil
}

// #endregion run

// #region apply
// apply writes one action. Configuration problems skip the action; storage
// failures are recorded in the result.
func (e *Engine) apply(ctx context.Context, r *run, specID string, a rules.Action, confidence float64, log *zap.Logger) {
	log = log.With(zap.String("parameter_id", a.TargetParameter), zap.String("adjustment", string(a.Adjustment)))

	if _, ok := Adjust(a, 0, e.cfg); !ok {
		r.result.ActionsSkipped++
		log.Warn("unknown adjustment, action skipped")
		return
	}
	param, err := e.parameter(ctx, r, a.TargetParameter)
	if err != nil {
		r.result.fail("spec %s action %s: %v", specID, a.TargetParameter, err)
		return
	}
	if param == nil || !param.Adjustable {
		r.result.ActionsSkipped++
		log.Warn("target parameter unknown or not adjustable, action skipped")
		return
	}

	fn := func(current float64, found bool) float64 {
		if !found {
			current = e.cfg.DefaultCurrent
		}
		next, _ := Adjust(a, current, e.cfg)
		return next
	}
	out, err := e.store.AdjustCallerTarget(ctx, r.callerID, param.ID, fn, confidence, targets.SourceRule, e.cfg.MaxWriteAttempts)
	if err != nil {
		r.result.fail("spec %s action %s: %v", specID, a.TargetParameter, err)
		log.Warn("caller target write failed", zap.Error(err))
		return
	}

	previous := out.Previous
	decision := logging.DecisionUpdated
	if out.Created {
		previous = e.cfg.DefaultCurrent
		decision = logging.DecisionCreated
		r.result.TargetsCreated++
	} else {
		r.result.TargetsUpdated++
	}
	log.Debug("caller target written",
		zap.Float64("previous", previous),
		zap.Float64("value", out.Target.Value),
		zap.Int("attempts", out.Attempts),
	)

	if e.audit == nil {
		return
	}
	err = logging.LogAdaptation(e.audit, logging.AdaptationEntry{
		RunID:         r.result.RunID,
		CallerID:      r.callerID,
		SpecID:        specID,
		ParameterID:   param.ID,
		Adjustment:    string(a.Adjustment),
		PreviousValue: previous,
		NewValue:      out.Target.Value,
		Confidence:    confidence,
		Rationale:     a.Rationale,
		Decision:      decision,
	})
	if err != nil {
		r.result.fail("spec %s action %s: %v", specID, a.TargetParameter, err)
	}
}

// parameter looks up a target parameter once per run. A nil parameter with a nil
// error means the id is unknown.
func (e *Engine) parameter(ctx context.Context, r *run, id string) (*targets.Parameter, error) {
	if p, ok := r.known[id]; ok {
		return p, nil
	}
	if id == "" {
		return nil, nil
	}
	p, err := e.store.GetParameter(ctx, id)
	if errors.Is(err, targets.ErrNotFound) {
		r.known[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.known[id] = &p
	return &p, nil
}

// #endregion apply
