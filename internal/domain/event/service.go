package event

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vitaltrack/vitaltrack/internal/domain/meta"
	"github.com/vitaltrack/vitaltrack/internal/platform/auth"
	"github.com/vitaltrack/vitaltrack/pkg/pagination"
)

// Service is the read side of the event engine: parameter preparation,
// security scoping, paging strategy and the two result shapes.
type Service struct {
	store Store
	repo  meta.Repository
	log   zerolog.Logger
}

func NewService(store Store, repo meta.Repository, log zerolog.Logger) *Service {
	return &Service{store: store, repo: repo, log: log}
}

// EventPage is one page of the object-graph search result.
type EventPage struct {
	Events []*Event          `json:"events"`
	Pager  *pagination.Pager `json:"pager,omitempty"`
}

// SearchEvents runs the object-graph search. The pager is slim (no total
// count) unless the caller asked for total pages, and absent when paging
// is skipped.
func (s *Service) SearchEvents(ctx context.Context, p *SearchParams) (*EventPage, error) {
	cache, err := s.prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	queriesTotal.WithLabelValues("events").Inc()

	if p.Paging.SkipPaging {
		events, err := s.store.GetEvents(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := s.attachCategoryOptions(ctx, cache, p, events); err != nil {
			return nil, err
		}
		return &EventPage{Events: events}, nil
	}

	if p.Paging.TotalPages {
		total, err := s.store.CountEvents(ctx, p)
		if err != nil {
			return nil, err
		}
		events, err := s.store.GetEvents(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := s.attachCategoryOptions(ctx, cache, p, events); err != nil {
			return nil, err
		}
		return &EventPage{
			Events: events,
			Pager:  pagination.NewPager(p.Paging.Page, p.Paging.PageSize, total),
		}, nil
	}

	// Slim pager: fetch one row past the page to learn whether a next
	// page exists without a count query. Only the limit widens; the
	// offset stays tied to the requested page size.
	over := *p
	over.Paging.OverFetch = true
	events, err := s.store.GetEvents(ctx, &over)
	if err != nil {
		return nil, err
	}
	isLast := len(events) <= p.Paging.PageSize
	if !isLast {
		events = events[:p.Paging.PageSize]
	}
	if err := s.attachCategoryOptions(ctx, cache, p, events); err != nil {
		return nil, err
	}
	return &EventPage{
		Events: events,
		Pager:  pagination.NewSlimPager(p.Paging.Page, p.Paging.PageSize, isLast),
	}, nil
}

// SearchGrid runs the columnar search variant.
func (s *Service) SearchGrid(ctx context.Context, p *SearchParams) (*Grid, *pagination.Pager, error) {
	if _, err := s.prepare(ctx, p); err != nil {
		return nil, nil, err
	}
	queriesTotal.WithLabelValues("grid").Inc()

	if p.Paging.SkipPaging {
		grid, err := s.store.GetEventRows(ctx, p)
		return grid, nil, err
	}

	if p.Paging.TotalPages {
		total, err := s.store.CountEvents(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		grid, err := s.store.GetEventRows(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		return grid, pagination.NewPager(p.Paging.Page, p.Paging.PageSize, total), nil
	}

	over := *p
	over.Paging.OverFetch = true
	grid, err := s.store.GetEventRows(ctx, &over)
	if err != nil {
		return nil, nil, err
	}
	isLast := len(grid.Rows) <= p.Paging.PageSize
	if !isLast {
		grid.Rows = grid.Rows[:p.Paging.PageSize]
	}
	grid.Height = len(grid.Rows)
	return grid, pagination.NewSlimPager(p.Paging.Page, p.Paging.PageSize, isLast), nil
}

// GetEvent fetches a single event by UID, enforcing the caller's program
// scope. Events outside the scope read as absent.
func (s *Service) GetEvent(ctx context.Context, uid string) (*Event, error) {
	ev, err := s.store.GetEvent(ctx, uid)
	if err != nil {
		return nil, err
	}
	if user := auth.UserFromContext(ctx); user != nil && !user.Superuser {
		if !user.AccessiblePrograms[ev.Program] {
			return nil, ErrNotFound
		}
	}
	return ev, nil
}

// prepare validates the parameters and resolves everything the query
// builder needs: the security scope, the org-unit subtree, item metadata
// and the attribute option combo filter.
func (s *Service) prepare(ctx context.Context, p *SearchParams) (*meta.RefCache, error) {
	applyUserScope(ctx, p)
	p.Paging = p.Paging.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cache := meta.NewRefCache(s.repo)

	if p.OrgUnit != "" {
		ou, err := cache.OrgUnit(ctx, p.OrgUnit)
		if err != nil {
			if errors.Is(err, meta.ErrNotFound) {
				return nil, clientErrorf("organisation unit does not exist: %s", p.OrgUnit)
			}
			return nil, err
		}
		p.OrgUnitPath = ou.Path
		p.OrgUnitLevel = ou.Level
	}

	for i := range p.Items {
		item := &p.Items[i]
		if item.ValueType != "" {
			continue
		}
		de, err := cache.DataElement(ctx, item.DataElement)
		if err != nil {
			if errors.Is(err, meta.ErrNotFound) {
				return nil, clientErrorf("data element does not exist: %s", item.DataElement)
			}
			return nil, err
		}
		item.ValueType = de.ValueType
		if de.OptionSet != nil {
			item.OptionSetUID = de.OptionSet.UID
			item.OptionSetID = de.OptionSet.ID
		}
	}

	if len(p.CategoryOptions) > 0 {
		resolver := meta.NewResolver(cache)
		coc, err := resolver.ResolveAttributeOptionCombo(ctx, p.CategoryCombo, p.CategoryOptions, p.AttributeOptionCombo)
		if err != nil {
			if errors.Is(err, meta.ErrConfig) {
				return nil, err
			}
			return nil, clientErrorf("%s", err.Error())
		}
		p.AttributeOptionCombo = coc.UID
	}
	return cache, nil
}

// attachCategoryOptions fills the semicolon-joined category option UIDs
// on each event when the caller asked for attributes. Only meaningful
// under the native combo identifier scheme.
func (s *Service) attachCategoryOptions(ctx context.Context, cache *meta.RefCache, p *SearchParams, events []*Event) error {
	if !p.IncludeAttributes || !p.IDSchemes.AttributeOptionCombo.IsUID() {
		return nil
	}
	for _, ev := range events {
		if ev.AttributeOptionCombo == "" {
			continue
		}
		coc, err := cache.CategoryOptionCombo(ctx, ev.AttributeOptionCombo)
		if err != nil {
			if errors.Is(err, meta.ErrNotFound) {
				continue
			}
			return err
		}
		ev.AttributeCategoryOptions = strings.Join(coc.OptionUIDs, ";")
	}
	return nil
}

// applyUserScope copies the authenticated user's access scope onto the
// parameters. An unauthenticated context yields an empty scope, which
// matches nothing for non-superusers.
func applyUserScope(ctx context.Context, p *SearchParams) {
	user := auth.UserFromContext(ctx)
	if user == nil {
		return
	}
	p.Superuser = user.Superuser
	p.CurrentUserUID = user.UID
	p.AccessiblePrograms = setToSlice(user.AccessiblePrograms)
	p.AccessibleStages = setToSlice(user.AccessibleStages)
	p.AccessibleCategoryOptions = setToSlice(user.AccessibleCategoryOptions)
	p.OrgUnitPaths = user.OrgUnitPaths
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
