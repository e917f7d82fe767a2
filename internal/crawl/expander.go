package crawl

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// DefaultFanOut caps children admitted per page.
const DefaultFanOut = 5

// ChildRequest describes a derived job.
type ChildRequest struct {
	URL      string
	Options  scrape.Options
	Identity string
	Plan     string
	ParentID string
	RootID   string
}

// Submitter admits child jobs through the normal admission path.
type Submitter interface {
	SubmitChild(ctx context.Context, req ChildRequest) (string, error)
}

// Expander turns a parent's links into child jobs.
type Expander struct {
	submitter Submitter
	budget    Budget
	fanOut    int
	logger    *zap.Logger
}

// NewExpander builds an Expander.
func NewExpander(submitter Submitter, budget Budget, fanOut int, logger *zap.Logger) *Expander {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	if budget == nil {
		budget = NewMemoryBudget(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{submitter: submitter, budget: budget, fanOut: fanOut, logger: logger}
}

// ChildOptions derives a child's options from its parent's.
func ChildOptions(parent scrape.Options) scrape.Options {
	child := parent
	child.MaxDepth = parent.MaxDepth - 1
	child.MaxPages = parent.MaxPages - 1
	if child.MaxDepth <= 0 || child.MaxPages <= 0 {
		child.Recursive = false
		child.MaxDepth = 0
		child.MaxPages = 0
	}
	return child
}

// Expand admits up to fanOut children for parent and returns the ids admitted.
// Child failures are logged and never surface to the parent.
func (e *Expander) Expand(ctx context.Context, parent scrape.Job, links []string) []string {
	opts := parent.Options
	if !opts.Recursive || opts.MaxDepth <= 0 || len(links) == 0 {
		return nil
	}
	rootID := parent.RootID
	if rootID == "" {
		rootID = parent.ID
	}
	// The current page has already consumed one page of what it carries.
	seed := int64(opts.MaxPages - 1)

	childOpts := ChildOptions(opts)
	seen := map[string]struct{}{scrape.CacheKey(parent.URL): {}}
	var admitted []string
	for _, link := range links {
		if len(admitted) >= e.fanOut || ctx.Err() != nil {
			break
		}
		key := scrape.CacheKey(link)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ok, err := e.budget.Take(ctx, rootID, seed)
		if err != nil {
			e.logger.Warn("crawl budget unavailable", zap.String("root_id", rootID), zap.Error(err))
			break
		}
		if !ok {
			e.logger.Debug("crawl budget exhausted", zap.String("root_id", rootID))
			break
		}
		id, err := e.submitter.SubmitChild(ctx, ChildRequest{
			URL:      link,
			Options:  childOpts,
			Identity: parent.Identity,
			Plan:     parent.Plan,
			ParentID: parent.ID,
			RootID:   rootID,
		})
		if err != nil {
			if rerr := e.budget.Refund(ctx, rootID); rerr != nil {
				e.logger.Warn("crawl budget refund failed", zap.String("root_id", rootID), zap.Error(rerr))
			}
			e.logger.Warn("child admission failed",
				zap.String("job_id", parent.ID),
				zap.String("url", link),
				zap.Error(err),
			)
			continue
		}
		admitted = append(admitted, id)
	}
	return admitted
}
