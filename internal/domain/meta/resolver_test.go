package meta

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestResolver() (*Resolver, *mockRepo) {
	repo := newMockRepo()
	repo.options["optA"] = &CategoryOption{UID: "optA"}
	repo.options["optB"] = &CategoryOption{UID: "optB"}
	repo.combos["cocAB"] = &CategoryOptionCombo{
		UID: "cocAB", CategoryComboUID: "cc1", OptionUIDs: []string{"optA", "optB"},
	}
	repo.defaultCombo = &CategoryOptionCombo{UID: "cocDef", Default: true, CategoryComboUID: "ccDef"}
	return NewResolver(NewRefCache(repo)), repo
}

func TestResolveByOptions(t *testing.T) {
	r, _ := newTestResolver()
	coc, err := r.ResolveAttributeOptionCombo(context.Background(), "cc1", []string{"optB", "optA"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if coc.UID != "cocAB" {
		t.Errorf("resolved %s, want cocAB", coc.UID)
	}
}

func TestResolveByOptionsUnknownOption(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.ResolveAttributeOptionCombo(context.Background(), "cc1", []string{"optA", "bogus"}, "")
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected error naming the bad option, got %v", err)
	}
}

func TestResolveByOptionsNoMatchingCombo(t *testing.T) {
	r, _ := newTestResolver()
	_, err := r.ResolveAttributeOptionCombo(context.Background(), "cc1", []string{"optA"}, "")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected no-matching-combo error, got %v", err)
	}
}

func TestResolveDirect(t *testing.T) {
	r, _ := newTestResolver()
	coc, err := r.ResolveAttributeOptionCombo(context.Background(), "", nil, "cocAB")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if coc.UID != "cocAB" {
		t.Errorf("resolved %s, want cocAB", coc.UID)
	}

	if _, err := r.ResolveAttributeOptionCombo(context.Background(), "", nil, "nope"); err == nil {
		t.Error("expected error for unknown combo uid")
	}
}

func TestResolveDefault(t *testing.T) {
	r, _ := newTestResolver()
	coc, err := r.ResolveAttributeOptionCombo(context.Background(), "", nil, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if coc.UID != "cocDef" {
		t.Errorf("resolved %s, want the default combo", coc.UID)
	}
}

func TestResolveDefaultMissingIsConfigError(t *testing.T) {
	repo := newMockRepo()
	r := NewResolver(NewRefCache(repo))
	_, err := r.ResolveAttributeOptionCombo(context.Background(), "", nil, "")
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestResolveCachesComboLookup(t *testing.T) {
	r, repo := newTestResolver()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.ResolveAttributeOptionCombo(ctx, "cc1", []string{"optA", "optB"}, ""); err != nil {
			t.Fatal(err)
		}
	}
	if repo.queries["comboByOptions"] != 1 {
		t.Errorf("expected 1 combo lookup, got %d", repo.queries["comboByOptions"])
	}
}

func TestValidateOptionDates(t *testing.T) {
	r, repo := newTestResolver()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	repo.options["optA"].StartDate = &start
	repo.options["optA"].EndDate = &end
	coc := repo.combos["cocAB"]
	ctx := context.Background()

	if err := r.ValidateOptionDates(ctx, coc, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Errorf("in-window date rejected: %v", err)
	}
	if err := r.ValidateOptionDates(ctx, coc, time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("date before option start accepted")
	}
	if err := r.ValidateOptionDates(ctx, coc, time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("date after option end accepted")
	}
	if err := r.ValidateOptionDates(ctx, &CategoryOptionCombo{Default: true}, time.Now()); err != nil {
		t.Errorf("default combo must skip date validation: %v", err)
	}
}
