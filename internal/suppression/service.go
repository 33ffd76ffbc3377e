package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
	"trustpipe/pkg/metrics"
	"trustpipe/pkg/models"
)

// Rule is one compiled suppression expression. Rules are deploy-time
// configuration; they compile once at startup and a bad expression fails
// the boot rather than a send.
type rule struct {
	name    string
	program cel.Program
}

// Service decides whether a lifecycle event should be silently dropped
// before any notification work happens. Typical rules mute noisy kinds for
// internal accounts or freeze notifications during planned maintenance.
type Service struct {
	rules  []rule
	logger logger.Logger
}

func NewService(cfg config.SuppressionConfig, log logger.Logger) (*Service, error) {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("lease_id", cel.StringType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("owner_domain", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		if rc.Name == "" {
			return nil, fmt.Errorf("suppression rule with expression %q has no name", rc.Expression)
		}

		ast, issues := env.Compile(rc.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("suppression rule %q failed to compile: %w", rc.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("suppression rule %q must return bool, got %v", rc.Name, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("suppression rule %q failed to build: %w", rc.Name, err)
		}

		rules = append(rules, rule{name: rc.Name, program: program})
	}

	return &Service{rules: rules, logger: log}, nil
}

// Evaluate returns the name of the first matching rule. Evaluation errors
// fail open: a broken rule must not silence notifications it never matched.
func (s *Service) Evaluate(ctx context.Context, event models.LeaseEvent) (bool, string) {
	if len(s.rules) == 0 {
		return false, ""
	}

	vars := map[string]interface{}{
		"kind":         event.Kind,
		"lease_id":     event.LeaseID,
		"account_id":   event.AccountID,
		"owner_domain": domainOf(event.OwnerEmail),
		"payload":      event.Payload,
	}
	if vars["payload"] == nil {
		vars["payload"] = map[string]interface{}{}
	}

	for _, r := range s.rules {
		result, _, err := r.program.ContextEval(ctx, vars)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Suppression rule evaluation failed, rule skipped",
				"error", err,
				"rule", r.name,
			)
			continue
		}

		matched, ok := result.Value().(bool)
		if !ok {
			s.logger.WarnwCtx(ctx, "Suppression rule returned non-bool, rule skipped",
				"rule", r.name,
			)
			continue
		}

		if matched {
			metrics.SuppressedNotificationsTotal.WithLabelValues(r.name).Inc()
			return true, r.name
		}
	}

	return false, ""
}

func domainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
