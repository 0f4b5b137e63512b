package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
)

// Strategy extracts raw unit records for one source. An empty slice with a
// nil error means the source genuinely lists nothing. Strategies never touch
// storage.
type Strategy interface {
	ID() string
	Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error)
}

// Extractor turns cleaned page content into candidate records.
type Extractor interface {
	Extract(ctx context.Context, pageURL, content string) ([]models.RawUnit, error)
}

// Strategy identifiers.
const (
	StrategyRentCafe   = "rentcafe"
	StrategyPPM        = "ppm"
	StrategySightMap   = "sightmap"
	StrategyFunnel     = "funnel"
	StrategyAppFolio   = "appfolio"
	StrategyBozzuto    = "bozzuto"
	StrategyRealPage   = "realpage"
	StrategyGroupFox   = "groupfox"
	StrategySecureCafe = "securecafe"
	StrategyLLM        = "llm"

	StrategyEntrata = "entrata"
	StrategyMRI     = "mri"

	StrategyDead                = "dead"
	StrategyNeedsClassification = "needs_classification"
)

// aliases route identifiers that have no dedicated strategy.
var aliases = map[string]string{
	StrategyEntrata: StrategyLLM,
	StrategyMRI:     StrategyLLM,
}

var skipped = map[string]bool{
	StrategyDead:                true,
	StrategyNeedsClassification: true,
}

// IsSkipped reports whether sources with this strategy id are left out of
// batches.
func IsSkipped(strategyID string) bool {
	return skipped[strategyID]
}

// Deps are the shared collaborators strategies are built from.
type Deps struct {
	HTTP      *http.Client
	Renderer  render.Renderer
	Extractor Extractor
	// Base URLs, overridable for tests.
	RentCafeAPI  string
	PPMPage      string
	SightMapBase string
	ContentLimit int
}

// Registry maps strategy ids to implementations.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry wires every built-in strategy.
func DefaultRegistry(deps Deps) *Registry {
	return NewRegistry(
		NewRentCafe(deps.HTTP, deps.RentCafeAPI),
		NewPPM(deps.Renderer, deps.PPMPage),
		NewSightMap(deps.HTTP, deps.SightMapBase),
		NewFunnel(deps.HTTP),
		NewAppFolio(deps.HTTP),
		NewBozzuto(deps.HTTP),
		NewRealPage(deps.Renderer),
		NewGroupFox(deps.Renderer),
		NewSecureCafe(deps.Renderer),
		NewLLM(deps.Renderer, deps.Extractor, deps.ContentLimit),
	)
}

func (r *Registry) Register(s Strategy) {
	r.strategies[s.ID()] = s
}

// Resolve returns the strategy for src. Unassigned, skipped and unknown ids
// are configuration errors.
func (r *Registry) Resolve(src models.Source) (Strategy, error) {
	id := src.StrategyID
	if id == "" {
		return nil, configErr("source %d has no strategy assigned", src.ID)
	}
	if IsSkipped(id) {
		return nil, configErr("source %d is marked %s", src.ID, id)
	}
	if target, ok := aliases[id]; ok {
		id = target
	}
	s, ok := r.strategies[id]
	if !ok {
		return nil, configErr("unknown strategy %q", src.StrategyID)
	}
	return s, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry%v", r.IDs())
}
