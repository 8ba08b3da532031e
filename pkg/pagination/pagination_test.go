package pagination

import "testing"

func TestOffset(t *testing.T) {
	cases := []struct {
		page, size, want int
	}{
		{1, 50, 0},
		{2, 50, 50},
		{3, 2, 4},
		{10, 25, 225},
	}
	for _, c := range cases {
		p := Params{Page: c.page, PageSize: c.size}
		if got := p.Offset(); got != c.want {
			t.Errorf("Offset(page=%d,size=%d) = %d, want %d", c.page, c.size, got, c.want)
		}
	}
}

func TestLimit(t *testing.T) {
	p := Params{Page: 2, PageSize: 5}
	if got := p.Limit(); got != 5 {
		t.Errorf("Limit() = %d, want 5", got)
	}

	p.OverFetch = true
	if got := p.Limit(); got != 6 {
		t.Errorf("over-fetch Limit() = %d, want 6", got)
	}
	// Over-fetching widens the limit only; the offset stays anchored to
	// the page size so consecutive pages are contiguous.
	if got := p.Offset(); got != 5 {
		t.Errorf("over-fetch Offset() = %d, want 5", got)
	}
}

func TestWithDefaults(t *testing.T) {
	p := Params{}.WithDefaults()
	if p.Page != DefaultPage || p.PageSize != DefaultPageSize {
		t.Errorf("defaults not applied: %+v", p)
	}

	p = Params{Page: 3, PageSize: 10}.WithDefaults()
	if p.Page != 3 || p.PageSize != 10 {
		t.Errorf("explicit values overridden: %+v", p)
	}
}

func TestNewPager(t *testing.T) {
	pg := NewPager(1, 50, 120)
	if pg.PageCount != 3 {
		t.Errorf("expected 3 pages for 120/50, got %d", pg.PageCount)
	}
	if pg.IsLast {
		t.Error("page 1 of 3 reported as last")
	}

	pg = NewPager(3, 50, 120)
	if !pg.IsLast {
		t.Error("page 3 of 3 not reported as last")
	}

	pg = NewPager(1, 50, 0)
	if pg.PageCount != 1 || !pg.IsLast {
		t.Errorf("empty result should yield a single last page, got %+v", pg)
	}
}

func TestNewSlimPager(t *testing.T) {
	pg := NewSlimPager(2, 50, false)
	if pg.Total != 0 || pg.PageCount != 0 {
		t.Errorf("slim pager must not carry totals: %+v", pg)
	}
	if pg.IsLast {
		t.Error("isLast should be false when an extra row was fetched")
	}
}
