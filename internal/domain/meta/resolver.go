package meta

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver resolves attribute option combos for incoming events, either
// from a direct combo reference, from a set of category options, or by
// falling back to the system default.
type Resolver struct {
	cache *RefCache
}

func NewResolver(cache *RefCache) *Resolver {
	return &Resolver{cache: cache}
}

// ResolveAttributeOptionCombo resolves the combo for an event.
//
// Precedence: explicit category option UIDs (must all exist and match a
// combo within the category combo), then a direct combo UID, then the
// system default. Unresolvable caller-supplied identifiers are client
// errors; a missing default combo is a configuration error.
func (r *Resolver) ResolveAttributeOptionCombo(ctx context.Context, categoryComboUID string, categoryOptionUIDs []string, comboUID string) (*CategoryOptionCombo, error) {
	switch {
	case len(categoryOptionUIDs) > 0:
		for _, opt := range categoryOptionUIDs {
			if _, err := r.cache.CategoryOption(ctx, opt); err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("illegal category option identifier: %s", opt)
				}
				return nil, err
			}
		}
		cc := categoryComboUID
		if cc == "" {
			def, err := r.cache.DefaultCategoryOptionCombo(ctx)
			if err != nil {
				return nil, err
			}
			cc = def.CategoryComboUID
		}
		coc, err := r.cache.CategoryOptionComboByOptions(ctx, cc, categoryOptionUIDs)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("attribute option combo does not exist for category combo %s and given category options", cc)
		}
		return coc, err

	case comboUID != "":
		coc, err := r.cache.CategoryOptionCombo(ctx, comboUID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("attribute option combo %s does not exist", comboUID)
		}
		return coc, err

	default:
		return r.cache.DefaultCategoryOptionCombo(ctx)
	}
}

// ValidateOptionDates checks that the event date falls inside every
// category option's validity window.
func (r *Resolver) ValidateOptionDates(ctx context.Context, coc *CategoryOptionCombo, eventDate time.Time) error {
	if coc == nil || coc.Default {
		return nil
	}
	for _, uid := range coc.OptionUIDs {
		opt, err := r.cache.CategoryOption(ctx, uid)
		if err != nil {
			return err
		}
		if opt.StartDate != nil && eventDate.Before(*opt.StartDate) {
			return fmt.Errorf("event date %s is before the start date of category option %s",
				eventDate.Format("2006-01-02"), opt.UID)
		}
		if opt.EndDate != nil && eventDate.After(*opt.EndDate) {
			return fmt.Errorf("event date %s is after the end date of category option %s",
				eventDate.Format("2006-01-02"), opt.UID)
		}
	}
	return nil
}
