package balance

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/matthewbaird/signalintel/internal/signals"
	"github.com/matthewbaird/signalintel/internal/types"
)

var (
	//go:embed schema.cue
	schemaSource []byte

	//go:embed rules.cue
	defaultRules []byte
)

// ScopeRule is how closely a positive signal must match a negative one.
type ScopeRule string

const (
	ExactEntity ScopeRule = "EXACT_ENTITY"
	SameProject ScopeRule = "SAME_PROJECT"
	SameBrand   ScopeRule = "SAME_BRAND"
	SameClient  ScopeRule = "SAME_CLIENT"
)

// Rule is the balance rule for one negative signal type.
type Rule struct {
	BalancedBy []string  `json:"balanced_by"`
	Scope      ScopeRule `json:"scope"`
	Sustained  bool      `json:"sustained"`
}

// Balances reports whether positiveType is listed in the rule.
func (r Rule) Balances(positiveType string) bool {
	for _, t := range r.BalancedBy {
		if t == positiveType {
			return true
		}
	}
	return false
}

// SustainedPolicy is the evidence a sustained rule needs.
type SustainedPolicy struct {
	LookbackDays int `json:"lookback_days"`
	Threshold    int `json:"threshold"`
}

// Rules is the decoded balance table, keyed by negative signal type.
type Rules struct {
	Rules     map[string]Rule `json:"rules"`
	Sustained SustainedPolicy `json:"sustained"`

	byPositive map[string][]string
}

// DefaultRules loads the embedded rule table.
func DefaultRules(reg *signals.Registry) (*Rules, error) {
	return LoadRules(defaultRules, "rules.cue", reg)
}

// LoadRulesFile loads a rule table from a CUE file.
func LoadRulesFile(path string, reg *signals.Registry) (*Rules, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigurationError{Component: "balance", Field: "rules_file", Reason: err.Error()}
	}
	return LoadRules(src, path, reg)
}

// LoadRules unifies src with the rule schema, requires every value to be
// concrete, decodes it and checks each type against reg: rule keys must be
// negative types and every balancing type positive. Any problem is a
// ConfigurationError.
func LoadRules(src []byte, filename string, reg *signals.Registry) (*Rules, error) {
	cctx := cuecontext.New()
	schema := cctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &types.ConfigurationError{Component: "balance", Field: "schema.cue", Reason: err.Error()}
	}
	v := schema.Unify(cctx.CompileBytes(src, cue.Filename(filename)))
	if err := v.Err(); err != nil {
		return nil, &types.ConfigurationError{Component: "balance", Field: filename, Reason: err.Error()}
	}
	if err := v.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return nil, &types.ConfigurationError{Component: "balance", Field: filename, Reason: err.Error()}
	}
	var r Rules
	if err := v.Decode(&r); err != nil {
		return nil, &types.ConfigurationError{Component: "balance", Field: filename, Reason: err.Error()}
	}
	if err := r.validate(reg); err != nil {
		return nil, err
	}
	r.index()
	return &r, nil
}

func (r *Rules) validate(reg *signals.Registry) error {
	if len(r.Rules) == 0 {
		return &types.ConfigurationError{Component: "balance", Field: "rules", Reason: "no balance rules"}
	}
	if r.Sustained.LookbackDays < 1 || r.Sustained.Threshold < 1 {
		return &types.ConfigurationError{Component: "balance", Field: "sustained", Reason: "lookback_days and threshold must be positive"}
	}
	for neg, rule := range r.Rules {
		if v, ok := reg.Valence(neg); !ok || v != types.ValenceNegative {
			return &types.ConfigurationError{Component: "balance", Field: "rules." + neg, Reason: "not a registered negative signal type"}
		}
		switch rule.Scope {
		case ExactEntity, SameProject, SameBrand, SameClient:
		default:
			return &types.ConfigurationError{Component: "balance", Field: "rules." + neg + ".scope", Reason: fmt.Sprintf("unknown scope rule %q", rule.Scope)}
		}
		if len(rule.BalancedBy) == 0 {
			return &types.ConfigurationError{Component: "balance", Field: "rules." + neg + ".balanced_by", Reason: "empty"}
		}
		for _, pos := range rule.BalancedBy {
			if v, ok := reg.Valence(pos); !ok || v != types.ValencePositive {
				return &types.ConfigurationError{Component: "balance", Field: "rules." + neg + ".balanced_by", Reason: fmt.Sprintf("%s is not a registered positive signal type", pos)}
			}
		}
	}
	return nil
}

func (r *Rules) index() {
	r.byPositive = make(map[string][]string)
	for neg, rule := range r.Rules {
		for _, pos := range rule.BalancedBy {
			r.byPositive[pos] = append(r.byPositive[pos], neg)
		}
	}
	for _, negs := range r.byPositive {
		sort.Strings(negs)
	}
}

// Rule returns the rule for a negative type.
func (r *Rules) Rule(negativeType string) (Rule, bool) {
	rule, ok := r.Rules[negativeType]
	return rule, ok
}

// NegativesBalancedBy returns the negative types positiveType can balance, sorted.
func (r *Rules) NegativesBalancedBy(positiveType string) []string {
	return r.byPositive[positiveType]
}

// WithSustained returns a copy of r with the non-zero fields of p applied.
func (r *Rules) WithSustained(p SustainedPolicy) *Rules {
	out := *r
	if p.LookbackDays > 0 {
		out.Sustained.LookbackDays = p.LookbackDays
	}
	if p.Threshold > 0 {
		out.Sustained.Threshold = p.Threshold
	}
	return &out
}
