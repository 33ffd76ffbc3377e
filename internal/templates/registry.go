package templates

import (
	"fmt"
	"sort"

	"trustpipe/internal/config"
	"trustpipe/internal/logger"
	"trustpipe/pkg/errors"
)

// TemplateContract binds a notification kind to its remote template and the
// personalisation fields that template is assumed to consume. Contracts are
// defined at deploy time and immutable for the process lifetime.
type TemplateContract struct {
	Kind       string   `json:"kind"`
	TemplateID string   `json:"template_id"`
	Required   []string `json:"required"`
	Optional   []string `json:"optional"`
}

// Fields returns required ∪ optional, required first, order preserved.
func (c TemplateContract) Fields() []string {
	fields := make([]string, 0, len(c.Required)+len(c.Optional))
	fields = append(fields, c.Required...)
	fields = append(fields, c.Optional...)
	return fields
}

func (c TemplateContract) contracted(field string) bool {
	for _, f := range c.Required {
		if f == field {
			return true
		}
	}
	for _, f := range c.Optional {
		if f == field {
			return true
		}
	}
	return false
}

// Registry is the static kind → contract mapping plus the portal link
// builder used by the field builders.
type Registry struct {
	contracts map[string]TemplateContract
	portal    *PortalLinkBuilder
	logger    logger.Logger
}

func NewRegistry(cfg config.TemplatesConfig, portal *PortalLinkBuilder, log logger.Logger) (*Registry, error) {
	contracts := make(map[string]TemplateContract, len(cfg.Contracts))

	for kind, c := range cfg.Contracts {
		if c.TemplateID == "" {
			return nil, fmt.Errorf("template contract %q has no remote template id", kind)
		}

		required := make(map[string]struct{}, len(c.Required))
		for _, f := range c.Required {
			required[f] = struct{}{}
		}
		for _, f := range c.Optional {
			if _, ok := required[f]; ok {
				return nil, fmt.Errorf("template contract %q: field %q is both required and optional", kind, f)
			}
		}

		contracts[kind] = TemplateContract{
			Kind:       kind,
			TemplateID: c.TemplateID,
			Required:   append([]string(nil), c.Required...),
			Optional:   append([]string(nil), c.Optional...),
		}
	}

	return &Registry{
		contracts: contracts,
		portal:    portal,
		logger:    log,
	}, nil
}

// Contract looks up the contract for a notification kind.
func (r *Registry) Contract(kind string) (TemplateContract, error) {
	c, ok := r.contracts[kind]
	if !ok {
		return TemplateContract{}, errors.Permanent("UNKNOWN_KIND", "no template contract for notification kind").
			WithDetail("kind", kind)
	}
	return c, nil
}

// Contracts returns all registered contracts, ordered by kind for stable
// iteration during startup validation.
func (r *Registry) Contracts() []TemplateContract {
	out := make([]TemplateContract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
