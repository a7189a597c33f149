package fetch

import (
	"context"
	"net/http"
	"testing"
)

func TestDriverOffsetModeStopsOnEmptyPage(t *testing.T) {
	pagesData := [][]any{
		{"a", "b"},
		{"c"},
		{},
	}
	var issued []any
	issue := func(ctx context.Context, varValue any) (*Response, error) {
		issued = append(issued, varValue)
		idx := len(issued) - 1
		return &Response{Body: pagesData[idx]}, nil
	}

	cfg := PaginationConfig{Mode: PageOffset, Var: "offset", Size: 2}
	pages, err := Driver(context.Background(), cfg, issue, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if issued[0] != 0 || issued[1] != 2 || issued[2] != 4 {
		t.Fatalf("unexpected offsets: %v", issued)
	}
}

func TestDriverPageModeStopsOnUntil(t *testing.T) {
	call := 0
	issue := func(ctx context.Context, varValue any) (*Response, error) {
		call++
		return &Response{Body: []any{"x"}}, nil
	}
	until := func(p *PageResult) (bool, error) {
		return p.VarValue.(int) >= 2, nil
	}

	cfg := PaginationConfig{Mode: PagePage, Var: "page", StartAt: 1}
	pages, err := Driver(context.Background(), cfg, issue, until)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
}

func TestDriverCursorModeFromResponseBody(t *testing.T) {
	bodies := []map[string]any{
		{"items": []any{1, 2}, "nextCursor": "abc"},
		{"items": []any{3}, "nextCursor": nil},
	}
	call := 0
	issue := func(ctx context.Context, varValue any) (*Response, error) {
		b := bodies[call]
		call++
		return &Response{Body: b}, nil
	}

	cfg := PaginationConfig{Mode: PageCursor, Var: "cursor", CursorPath: "nextCursor"}
	pages, err := Driver(context.Background(), cfg, issue, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[1].VarValue != "abc" {
		t.Fatalf("expected 2nd page to be requested with cursor abc, got %v", pages[1].VarValue)
	}
}

func TestDriverCursorModeFromLinkHeader(t *testing.T) {
	call := 0
	issue := func(ctx context.Context, varValue any) (*Response, error) {
		call++
		h := http.Header{}
		if call == 1 {
			h.Set("Link", `<https://api.example.com/items?page=2>; rel="next"`)
		}
		return &Response{Body: map[string]any{}, Header: h}, nil
	}

	cfg := PaginationConfig{Mode: PageCursor, Var: "cursor"}
	pages, err := Driver(context.Background(), cfg, issue, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[1].VarValue != "https://api.example.com/items?page=2" {
		t.Fatalf("unexpected cursor: %v", pages[1].VarValue)
	}
}
