package executor

import (
	"context"
	"fmt"

	"github.com/reqon/reqon/internal/checkpoint"
	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/fetch"
	"github.com/reqon/reqon/internal/mission"
)

func (e *Engine) runFetch(ctx context.Context, rc *RunContext, s *mission.FetchStep) (Outcome, error) {
	client, ok := rc.Sources[s.Source]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindLoad, Message: fmt.Sprintf("unknown source %q", s.Source)}
	}

	buildReq := func(ctx context.Context, pageVar any) (fetch.Request, error) {
		scoped := rc
		if s.Pagination != nil && s.Pagination.Var != "" {
			scoped = rc.Child()
			scoped.Set(s.Pagination.Var, pageVar)
		}
		req, err := e.buildRequest(ctx, scoped, s.Method, s.Path, s.Headers, s.Query, s.Body, s.Since)
		if err != nil {
			return fetch.Request{}, err
		}
		req.MockSchema = s.ResponseSchema
		return req, nil
	}

	issue := func(ctx context.Context, pageVar any) (*fetch.Response, error) {
		req, err := buildReq(ctx, pageVar)
		if err != nil {
			return nil, err
		}
		e.Log.Info(ctx, "fetch.begin", map[string]any{"source": s.Source, "method": req.Method, "path": req.Path})
		resp, err := client.Do(ctx, req)
		if err != nil {
			e.Log.Error(ctx, "fetch.end", map[string]any{"source": s.Source, "error": err.Error()})
			return nil, &MissionError{Kind: KindTransport, Message: err.Error(), Cause: err}
		}
		e.Log.Info(ctx, "fetch.end", map[string]any{"source": s.Source, "status": resp.StatusCode, "attempts": resp.Attempts})
		rc.lastFetch = &pendingFetch{client: client, req: req}
		return resp, nil
	}

	if s.Pagination == nil {
		resp, err := issue(ctx, nil)
		if err != nil {
			return Outcome{}, err
		}
		rc.Response = normalizeResponse(resp)
		return proceed(), nil
	}

	cfg := fetch.PaginationConfig{
		Mode:       fetch.PageMode(s.Pagination.Mode),
		Var:        s.Pagination.Var,
		Size:       s.Pagination.Size,
		StartAt:    s.Pagination.StartAt,
		CursorPath: s.Pagination.CursorPath,
	}

	var until func(*fetch.PageResult) (bool, error)
	if s.Pagination.Until != nil {
		until = func(page *fetch.PageResult) (bool, error) {
			scoped := rc.Child()
			scoped.Response = normalizeResponse(page.Response)
			v, err := eval(ctx, e.Eval, scoped, s.Pagination.Until)
			if err != nil {
				return false, err
			}
			b, _ := v.(bool)
			return b, nil
		}
	}

	pages, err := fetch.Driver(ctx, cfg, issue, until)
	if err != nil {
		return Outcome{}, err
	}
	if len(pages) > 0 {
		rc.Response = normalizeResponse(pages[len(pages)-1].Response)
	} else {
		rc.Response = nil
	}
	return proceed(), nil
}

func (e *Engine) runCall(ctx context.Context, rc *RunContext, s *mission.CallStep) (Outcome, error) {
	client, ok := rc.Sources[s.Source]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindLoad, Message: fmt.Sprintf("unknown source %q", s.Source)}
	}
	op, ok := client.Source.Operations[s.OperationID]
	if !ok {
		return Outcome{}, &MissionError{Kind: KindLoad, Message: fmt.Sprintf("unknown operation %q on source %q", s.OperationID, s.Source)}
	}

	params := make(map[string]evalx.Expr, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	query, err := e.evalStringMap(ctx, rc, params)
	if err != nil {
		return Outcome{}, err
	}
	body, err := evalOrNil(ctx, e.Eval, rc, s.Body)
	if err != nil {
		return Outcome{}, err
	}

	req := fetch.Request{Method: op.Method, Path: op.PathTemplate, QueryParams: query, Body: body, MockSchema: op.ResponseSchema}
	e.Log.Info(ctx, "fetch.begin", map[string]any{"source": s.Source, "operationId": s.OperationID})
	resp, err := client.Do(ctx, req)
	if err != nil {
		return Outcome{}, &MissionError{Kind: KindTransport, Message: err.Error(), Cause: err}
	}
	e.Log.Info(ctx, "fetch.end", map[string]any{"source": s.Source, "status": resp.StatusCode})
	rc.lastFetch = &pendingFetch{client: client, req: req}
	rc.Response = normalizeResponse(resp)
	return proceed(), nil
}

func (e *Engine) buildRequest(ctx context.Context, rc *RunContext, method string, path evalx.Expr, headers, query map[string]evalx.Expr, body evalx.Expr, since *mission.SinceConfig) (fetch.Request, error) {
	pathVal, err := eval(ctx, e.Eval, rc, path)
	if err != nil {
		return fetch.Request{}, err
	}
	pathStr, _ := pathVal.(string)

	hdrs, err := e.evalStringMap(ctx, rc, headers)
	if err != nil {
		return fetch.Request{}, err
	}
	qs, err := e.evalStringMap(ctx, rc, query)
	if err != nil {
		return fetch.Request{}, err
	}
	bodyVal, err := evalOrNil(ctx, e.Eval, rc, body)
	if err != nil {
		return fetch.Request{}, err
	}

	if since != nil && rc.LastSync != nil {
		formatted, err := checkpoint.FormatSince(rc.LastSync, checkpoint.SinceFormat(since.Format))
		if err != nil {
			return fetch.Request{}, err
		}
		if qs == nil {
			qs = make(map[string]string)
		}
		qs[since.Param] = formatted
	}

	return fetch.Request{Method: method, Path: pathStr, Headers: hdrs, QueryParams: qs, Body: bodyVal}, nil
}

func (e *Engine) evalStringMap(ctx context.Context, rc *RunContext, exprs map[string]evalx.Expr) (map[string]string, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(exprs))
	for k, ex := range exprs {
		v, err := eval(ctx, e.Eval, rc, ex)
		if err != nil {
			return nil, err
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func evalOrNil(ctx context.Context, ev *evalx.Evaluator, rc *RunContext, e evalx.Expr) (any, error) {
	if e == nil {
		return nil, nil
	}
	return eval(ctx, ev, rc, e)
}

// normalizeResponse converts a fetch.Response into the shape the
// evaluator and schema matcher operate on: the circuit-open sentinel
// for a tripped breaker, otherwise the decoded body.
func normalizeResponse(resp *fetch.Response) any {
	if resp == nil {
		return nil
	}
	if resp.CircuitOpen {
		return map[string]any{"circuitOpen": true}
	}
	if m, ok := resp.Body.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["status"] = resp.StatusCode
		return out
	}
	return resp.Body
}

// redriveLastFetch re-issues the most recently attempted fetch/call
// request, per spec.md §4.7's RetryCurrent outcome, honoring the
// source's own retry/backoff policy via fetch.Client.Do.
func (e *Engine) redriveLastFetch(ctx context.Context, rc *RunContext) error {
	if rc.lastFetch == nil {
		return nil
	}
	pf := rc.lastFetch
	resp, err := pf.client.Do(ctx, pf.req)
	if err != nil {
		return &MissionError{Kind: KindTransport, Message: err.Error(), Cause: err}
	}
	rc.Response = normalizeResponse(resp)
	return nil
}
