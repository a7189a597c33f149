package fetch

import (
	"context"
	"fmt"
	"regexp"
)

// PageMode selects how the pagination driver advances between pages.
type PageMode string

const (
	PageOffset PageMode = "offset"
	PagePage   PageMode = "page"
	PageCursor PageMode = "cursor"
)

// PaginationConfig describes one fetch step's pagination directive.
type PaginationConfig struct {
	Mode PageMode
	// Var is the request variable name the driver writes the
	// offset/page number/cursor value into before each request.
	Var string
	// Size is the page size (offset/page modes only).
	Size int
	// StartAt overrides the page-mode start value (0 or 1).
	StartAt int
	// CursorPath is a dotted path into the response body where the next
	// cursor is found; empty means fall back to the Link header.
	CursorPath string
}

// PageResult is one page the driver fetched: the response body plus
// whatever query/body variable value produced it.
type PageResult struct {
	Response *Response
	VarValue any
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Driver runs pages of a single fetch step to exhaustion, invoking
// issue for every page and until for the `until` predicate. issue
// receives the current variable value and returns the page's Response.
func Driver(ctx context.Context, cfg PaginationConfig, issue func(ctx context.Context, varValue any) (*Response, error), until func(page *PageResult) (bool, error)) ([]PageResult, error) {
	switch cfg.Mode {
	case PageOffset:
		return driveOffsetOrPage(ctx, cfg, issue, until, 0, cfg.Size)
	case PagePage:
		return driveOffsetOrPage(ctx, cfg, issue, until, cfg.StartAt, 1)
	case PageCursor:
		return driveCursor(ctx, cfg, issue, until)
	default:
		return nil, fmt.Errorf("fetch: unknown pagination mode %q", cfg.Mode)
	}
}

func driveOffsetOrPage(ctx context.Context, cfg PaginationConfig, issue func(context.Context, any) (*Response, error), until func(*PageResult) (bool, error), start, step int) ([]PageResult, error) {
	var pages []PageResult
	value := start
	for {
		resp, err := issue(ctx, value)
		if err != nil {
			return pages, err
		}
		page := PageResult{Response: resp, VarValue: value}
		pages = append(pages, page)

		if isEmptyArray(resp.Body) {
			return pages, nil
		}
		if until != nil {
			stop, err := until(&page)
			if err != nil {
				return pages, err
			}
			if stop {
				return pages, nil
			}
		}
		if cfg.Mode == PageOffset {
			value += cfg.Size
		} else {
			value += step
		}
	}
}

func driveCursor(ctx context.Context, cfg PaginationConfig, issue func(context.Context, any) (*Response, error), until func(*PageResult) (bool, error)) ([]PageResult, error) {
	var pages []PageResult
	var cursor any

	for {
		resp, err := issue(ctx, cursor)
		if err != nil {
			return pages, err
		}
		page := PageResult{Response: resp, VarValue: cursor}
		pages = append(pages, page)

		next := nextCursor(resp, cfg.CursorPath)
		if next == nil {
			return pages, nil
		}
		if until != nil {
			stop, err := until(&page)
			if err != nil {
				return pages, err
			}
			if stop {
				return pages, nil
			}
		}
		cursor = next
	}
}

func nextCursor(resp *Response, cursorPath string) any {
	if cursorPath != "" {
		if m, ok := resp.Body.(map[string]any); ok {
			if v, ok := lookupPath(m, cursorPath); ok {
				return v
			}
		}
		return nil
	}

	if resp.Header == nil {
		return nil
	}
	link := resp.Header.Get("Link")
	if link == "" {
		return nil
	}
	match := linkNextRe.FindStringSubmatch(link)
	if match == nil {
		return nil
	}
	return match[1]
}

func lookupPath(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, part := range splitPath(path) {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func isEmptyArray(body any) bool {
	arr, ok := body.([]any)
	return ok && len(arr) == 0
}
