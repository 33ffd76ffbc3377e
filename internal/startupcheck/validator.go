package startupcheck

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"trustpipe/internal/logger"
	"trustpipe/internal/templateapi"
	"trustpipe/internal/templates"
	"trustpipe/pkg/errors"
	"trustpipe/pkg/metrics"
	"trustpipe/pkg/retry"
)

// State tracks the lifecycle of the one validation run per cold start.
type State int32

const (
	StateNotStarted State = iota
	StateInProgress
	StateValidated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateValidated:
		return "validated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of validating one template contract.
type Result struct {
	Kind       string   `json:"kind"`
	TemplateID string   `json:"template_id"`
	Version    int      `json:"version"`
	Missing    []string `json:"missing,omitempty"`
	Extra      []string `json:"extra,omitempty"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
}

// Validator cross-checks every registered template contract against the
// provider's live template definition. It runs once per process: concurrent
// callers share a single run, and both terminal states are sticky. A process
// that failed validation stays failed until redeployed with a fixed contract
// or template.
type Validator struct {
	registry      *templates.Registry
	fetcher       templateapi.Fetcher
	policy        retry.Policy
	warnThreshold int
	logger        logger.Logger

	group singleflight.Group

	mu           sync.RWMutex
	state        State
	err          error
	results      []Result
	seenVersions map[string]int
}

func NewValidator(registry *templates.Registry, fetcher templateapi.Fetcher, warnThreshold int, log logger.Logger) *Validator {
	return &Validator{
		registry:      registry,
		fetcher:       fetcher,
		policy:        retry.DefaultPolicy(),
		warnThreshold: warnThreshold,
		logger:        log,
		state:         StateNotStarted,
		seenVersions:  make(map[string]int),
	}
}

// ValidateAll validates every contract. All contracts are checked even after
// the first failure so one startup log carries the full problem list.
func (v *Validator) ValidateAll(ctx context.Context) error {
	v.mu.RLock()
	switch v.state {
	case StateValidated:
		v.mu.RUnlock()
		return nil
	case StateFailed:
		err := v.err
		v.mu.RUnlock()
		return err
	}
	v.mu.RUnlock()

	_, err, _ := v.group.Do("validate-all", func() (interface{}, error) {
		return nil, v.run(ctx)
	})
	return err
}

func (v *Validator) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Ready reports whether the process may start taking traffic.
func (v *Validator) Ready() bool {
	return v.State() == StateValidated
}

// Results returns a copy of the per-contract outcomes of the completed run.
func (v *Validator) Results() []Result {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Result, len(v.results))
	copy(out, v.results)
	return out
}

func (v *Validator) run(ctx context.Context) error {
	v.mu.Lock()
	if v.state == StateValidated || v.state == StateFailed {
		err := v.err
		v.mu.Unlock()
		return err
	}
	v.state = StateInProgress
	v.mu.Unlock()

	contracts := v.registry.Contracts()
	results := make([]Result, 0, len(contracts))

	var firstErr error
	for _, contract := range contracts {
		result, err := v.validateContract(ctx, contract)
		results = append(results, result)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = results
	v.err = firstErr
	if firstErr != nil {
		v.state = StateFailed
		v.logger.Errorw("Startup template validation failed, service will not become ready",
			"error", firstErr,
			"contracts", len(contracts),
		)
		return firstErr
	}

	v.state = StateValidated
	v.logger.Infow("Startup template validation passed",
		"contracts", len(contracts),
	)
	return nil
}

func (v *Validator) validateContract(ctx context.Context, contract templates.TemplateContract) (Result, error) {
	result := Result{Kind: contract.Kind, TemplateID: contract.TemplateID}

	var tmpl *templateapi.RemoteTemplate
	err := retry.Retry(ctx, v.policy, func() error {
		var fetchErr error
		tmpl, fetchErr = v.fetcher.FetchTemplate(ctx, contract.TemplateID)
		return fetchErr
	})
	if err != nil {
		metrics.TemplateValidationFailedTotal.WithLabelValues(contract.TemplateID, "fetch_failed").Inc()
		v.logger.Errorw("Failed to fetch template for validation",
			"error", err,
			"kind", contract.Kind,
			"template_id", contract.TemplateID,
		)
		result.Error = err.Error()
		return result, err
	}

	result.Version = tmpl.Version
	v.trackVersion(contract.TemplateID, tmpl.Version)

	observed := ExtractPlaceholders(tmpl.Subject + "\n" + tmpl.Body)

	result.Missing = difference(contract.Required, observed)
	if len(result.Missing) > 0 {
		metrics.TemplateValidationFailedTotal.WithLabelValues(contract.TemplateID, "missing_required_field").Inc()
		v.logger.Warnw("Template no longer references required personalisation fields",
			"kind", contract.Kind,
			"template_id", contract.TemplateID,
			"template_version", tmpl.Version,
			"missing_fields", result.Missing,
		)
		err := errors.Permanent("TEMPLATE_DRIFT", "template is missing required personalization fields").
			WithDetail("template_id", contract.TemplateID).
			WithDetail("kind", contract.Kind)
		result.Error = err.Error()
		return result, err
	}

	result.Extra = difference(observed, contract.Fields())
	if len(result.Extra) > 0 {
		// Extra placeholders render blank but never block startup. A large
		// count usually means the contract is pointed at the wrong template.
		if len(result.Extra) > v.warnThreshold {
			v.logger.Warnw("Template references many fields outside its contract",
				"kind", contract.Kind,
				"template_id", contract.TemplateID,
				"extra_fields", result.Extra,
			)
		} else {
			v.logger.Infow("Template references fields outside its contract",
				"kind", contract.Kind,
				"template_id", contract.TemplateID,
				"extra_fields", result.Extra,
			)
		}
	}

	synthetic, err := v.registry.BuildSynthetic(contract.Kind)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	rendered := Render(tmpl.Subject+"\n"+tmpl.Body, synthetic)
	if leftovers := difference(ExtractPlaceholders(rendered), result.Extra); len(leftovers) > 0 {
		metrics.TemplateValidationFailedTotal.WithLabelValues(contract.TemplateID, "render_incomplete").Inc()
		v.logger.Warnw("Synthetic render left contracted markers unresolved",
			"kind", contract.Kind,
			"template_id", contract.TemplateID,
			"unresolved", leftovers,
		)
		err := errors.Permanent("TEMPLATE_RENDER", "synthetic render left placeholder markers unresolved").
			WithDetail("template_id", contract.TemplateID).
			WithDetail("kind", contract.Kind)
		result.Error = err.Error()
		return result, err
	}

	result.OK = true
	return result, nil
}

func (v *Validator) trackVersion(templateID string, version int) {
	metrics.TemplateVersion.WithLabelValues(templateID).Set(float64(version))

	v.mu.Lock()
	previous, seen := v.seenVersions[templateID]
	v.seenVersions[templateID] = version
	v.mu.Unlock()

	if seen && previous != version {
		v.logger.Infow("Template version changed since last observation",
			"template_id", templateID,
			"previous_version", previous,
			"current_version", version,
		)
	}
}

// difference returns the members of a that are not in b, sorted.
func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}

	var out []string
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
