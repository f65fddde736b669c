package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/paw2paw/hf-behavior/go-controller/internal/profile"
	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
	"github.com/paw2paw/hf-behavior/go-controller/internal/specs"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region document
// Document is a YAML seed file. Every section is optional.
type Document struct {
	Parameters []Parameter        `yaml:"parameters"`
	Segments   []Segment          `yaml:"segments"`
	Playbooks  []Playbook         `yaml:"playbooks"`
	Callers    []Caller           `yaml:"callers"`
	Targets    []Target           `yaml:"targets"`
	Profiles   []Profile          `yaml:"profiles"`
	Specs      []specs.Definition `yaml:"specs"`
}

type Parameter struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	DomainGroup string `yaml:"domainGroup"`
	Adjustable  *bool  `yaml:"adjustable"`
}

type Segment struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Playbook struct {
	ID     string `yaml:"id"`
	Domain string `yaml:"domain"`
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

type Caller struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Domain   string `yaml:"domain"`
	Segment  string `yaml:"segment"`
	Identity string `yaml:"identity"`
}

// Target is a scoped target. Owner is the playbook, segment or identity id; empty for SYSTEM.
type Target struct {
	Parameter  string   `yaml:"parameter"`
	Scope      string   `yaml:"scope"`
	Owner      string   `yaml:"owner"`
	Value      float64  `yaml:"value"`
	Confidence *float64 `yaml:"confidence"`
}

type Profile struct {
	Caller          string                 `yaml:"caller"`
	Values          map[string]rules.Value `yaml:"values"`
	ParameterValues map[string]float64     `yaml:"parameterValues"`
}

// #endregion document

// #region load
// Load reads a seed document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &doc, nil
}

// #endregion load

// #region apply
// Summary counts the rows written by Apply.
type Summary struct {
	Parameters int `json:"parameters"`
	Segments   int `json:"segments"`
	Playbooks  int `json:"playbooks"`
	Callers    int `json:"callers"`
	Targets    int `json:"targets"`
	Profiles   int `json:"profiles"`
	Specs      int `json:"specs"`
}

// Stores groups the sinks a document is written to. Profiles and Specs may be nil
// when the document has no such section.
type Stores struct {
	Targets  *targets.Store
	Profiles *profile.SQLProvider
	Specs    *specs.Store
}

// Apply writes the document in dependency order and stops at the first error.
// Every write is an upsert, so applying the same document twice is harmless.
func Apply(ctx context.Context, doc *Document, st Stores) (Summary, error) {
	var sum Summary

	for _, p := range doc.Parameters {
		adjustable := true
		if p.Adjustable != nil {
			adjustable = *p.Adjustable
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		if err := st.Targets.UpsertParameter(ctx, targets.Parameter{
			ID: p.ID, Name: name, DomainGroup: p.DomainGroup, Adjustable: adjustable,
		}); err != nil {
			return sum, err
		}
		sum.Parameters++
	}

	for _, s := range doc.Segments {
		if err := st.Targets.UpsertSegment(ctx, targets.Segment{ID: s.ID, Name: s.Name}); err != nil {
			return sum, err
		}
		sum.Segments++
	}

	for _, pb := range doc.Playbooks {
		if err := st.Targets.UpsertPlaybook(ctx, targets.Playbook{
			ID: pb.ID, DomainID: pb.Domain, Name: pb.Name, Status: targets.PlaybookStatus(pb.Status),
		}); err != nil {
			return sum, err
		}
		sum.Playbooks++
	}

	for _, c := range doc.Callers {
		if err := st.Targets.UpsertCaller(ctx, targets.Caller{
			ID: c.ID, Name: c.Name, DomainID: c.Domain, SegmentID: c.Segment, IdentityID: c.Identity,
		}); err != nil {
			return sum, err
		}
		sum.Callers++
	}

	for _, t := range doc.Targets {
		scoped, err := t.scoped()
		if err != nil {
			return sum, err
		}
		if _, err := st.Targets.UpsertScopedTarget(ctx, scoped); err != nil {
			return sum, err
		}
		sum.Targets++
	}

	if len(doc.Profiles) > 0 && st.Profiles == nil {
		return sum, fmt.Errorf("seed: document has profiles but no profile store")
	}
	for _, p := range doc.Profiles {
		for key, v := range p.Values {
			if err := st.Profiles.SetProfileValue(ctx, p.Caller, key, v); err != nil {
				return sum, err
			}
		}
		for id, v := range p.ParameterValues {
			if err := st.Profiles.SetParameterValue(ctx, p.Caller, id, v); err != nil {
				return sum, err
			}
		}
		sum.Profiles++
	}

	if len(doc.Specs) > 0 && st.Specs == nil {
		return sum, fmt.Errorf("seed: document has specs but no spec store")
	}
	for _, d := range doc.Specs {
		spec, err := d.Spec()
		if err != nil {
			return sum, err
		}
		if err := st.Specs.Upsert(ctx, spec); err != nil {
			return sum, err
		}
		sum.Specs++
	}
	return sum, nil
}

func (t Target) scoped() (targets.ScopedTarget, error) {
	confidence := 1.0
	if t.Confidence != nil {
		confidence = *t.Confidence
	}
	out := targets.ScopedTarget{
		ParameterID: t.Parameter,
		Scope:       targets.Scope(t.Scope),
		Value:       t.Value,
		Confidence:  confidence,
		Source:      targets.SourceSeed,
	}
	switch out.Scope {
	case targets.ScopeSystem:
	case targets.ScopePlaybook:
		out.PlaybookID = t.Owner
	case targets.ScopeSegment:
		out.SegmentID = t.Owner
	case targets.ScopeCaller:
		out.IdentityID = t.Owner
	default:
		return out, fmt.Errorf("seed target %s: unknown scope %q", t.Parameter, t.Scope)
	}
	return out, nil
}

// #endregion apply
