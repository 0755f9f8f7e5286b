package search

import (
	"strings"

	"mediatracker/searchservice/internal/domain"
)

const maxPrecisionVariants = 3

// QueryVariant is one query string sent to the web search backend.
type QueryVariant struct {
	Query string `json:"query"`
	// Domain is set for site: restricted precision variants.
	Domain string `json:"domain,omitempty"`
	Hinted bool   `json:"hinted,omitempty"`
}

// QueryPlan is the ordered, precision-first set of variants for one query.
type QueryPlan struct {
	Query    string           `json:"query"`
	Type     domain.MediaType `json:"type"`
	Declared bool             `json:"declared"`
	Language domain.Language  `json:"lang"`
	Short    bool             `json:"short"`
	Variants []QueryVariant   `json:"variants"`
}

type Planner struct {
	classifier   *Classifier
	maxPrecision int
}

func NewPlanner(classifier *Classifier) *Planner {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Planner{classifier: classifier, maxPrecision: maxPrecisionVariants}
}

// Plan infers the media type when none was declared and orders the variants:
// site: restricted queries first, then the type-hinted query, then the query
// as typed.
func (p *Planner) Plan(query string, mediaType domain.MediaType, lang domain.Language) QueryPlan {
	query = strings.Join(strings.Fields(query), " ")
	if lang == "" {
		lang = domain.DetectLanguage(query)
	}
	plan := QueryPlan{
		Query:    query,
		Type:     mediaType,
		Declared: mediaType != "" && mediaType != domain.MediaTypeAll,
		Language: lang,
		Short:    isShortQuery(query),
	}
	if query == "" {
		return plan
	}
	if !plan.Declared {
		plan.Type = p.classifier.Infer(query)
	}

	lower := strings.ToLower(query)
	if !strings.Contains(lower, "site:") {
		domains := p.classifier.TrustedDomains(plan.Type, lang)
		for i, trusted := range domains {
			if i >= p.maxPrecision {
				break
			}
			plan.Variants = append(plan.Variants, QueryVariant{Query: "site:" + trusted + " " + query, Domain: trusted})
		}
	}
	if term := p.classifier.TypeTerm(plan.Type, lang); term != "" && !strings.Contains(lower, strings.ToLower(term)) {
		plan.Variants = append(plan.Variants, QueryVariant{Query: query + " " + term, Hinted: true})
	}
	plan.Variants = append(plan.Variants, QueryVariant{Query: query})
	return plan
}
