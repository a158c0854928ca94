package exchangeset

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
)

// cellName matches an S-57 / S-63 ENC cell: producer code, usage band and
// a five character identifier.
var cellName = regexp.MustCompile(`^[A-Z]{2}[1-6][A-Z0-9]{5}$`)

// s100Filter keeps products of the configured product specifications
func s100Filter(specifications []string) filter {
	allowed := make(map[string]bool, len(specifications))
	for _, s := range specifications {
		allowed[strings.TrimSpace(s)] = true
	}
	return func(c *AssemblyContext, products []model.Product) []model.Product {
		var kept []model.Product
		for _, p := range latestEditions(products) {
			spec := p.Specification
			if spec == "" && len(p.Name) >= 3 {
				spec = p.Name[:3]
			}
			if !allowed[spec] {
				c.Logger.Debug("skipping product outside configured specifications",
					zap.String("product", p.Name),
					zap.String("specification", spec),
				)
				continue
			}
			if strings.EqualFold(p.Status, model.ProductStatusCancelled) {
				continue
			}
			p.Specification = spec
			kept = append(kept, p)
		}
		return kept
	}
}

// cellFilter normalises ENC cell names and keeps the newest edition of each
// cell that is not cancelled.
func cellFilter() filter {
	return func(c *AssemblyContext, products []model.Product) []model.Product {
		normalised := make([]model.Product, 0, len(products))
		for _, p := range products {
			p.Name = strings.ToUpper(strings.TrimSpace(p.Name))
			if !cellName.MatchString(p.Name) {
				c.Logger.Warn("skipping invalid cell name", zap.String("product", p.Name))
				continue
			}
			normalised = append(normalised, p)
		}

		var kept []model.Product
		for _, p := range latestEditions(normalised) {
			if strings.EqualFold(p.Status, model.ProductStatusCancelled) {
				continue
			}
			kept = append(kept, p)
		}
		return kept
	}
}

// latestEditions keeps the highest edition/update per product name,
// ordered by name.
func latestEditions(products []model.Product) []model.Product {
	latest := make(map[string]model.Product, len(products))
	for _, p := range products {
		current, ok := latest[p.Name]
		if !ok || newer(p, current) {
			latest[p.Name] = p
		}
	}
	out := make([]model.Product, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newer(a, b model.Product) bool {
	if a.Edition != b.Edition {
		return a.Edition > b.Edition
	}
	return a.Update > b.Update
}

func s100Params(cfg config.StandardsConfig) buildParams {
	return func(_ *model.Job, req *model.BuildRequest) {
		req.WorkspaceKey = cfg.S100WorkspaceKey
	}
}

func namedParams(template string) buildParams {
	return func(job *model.Job, req *model.BuildRequest) {
		req.ExchangeSetNameTemplate = template
		job.ExchangeSetName = expandNameTemplate(template, req.Timestamp)
	}
}
