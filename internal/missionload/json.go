// Package missionload builds a mission.Mission from a JSON (or YAML)
// document. It is not a DSL: lexing/parsing the surface declarative
// language spec.md describes is an explicit external concern (spec.md
// §1). This package instead defines ONE concrete, boring boundary
// format for the already-resolved AST spec.md's core operates on — the
// shape an external parser (or a test, or this CLI) could hand the
// runtime — using encoding/json for structure and expr-lang (via
// evalx.Evaluator.Compile) for every leaf expression string.
//
// Grounded on the teacher's runtime/engine/yaml loader (FlowLoader.Load
// reading *.yaml into the Flow struct via gopkg.in/yaml.v3), generalized
// from YAML-flow to JSON-mission and from flat step args to the typed
// mission.Step union. *.yaml/*.yml missions are accepted the same way
// the teacher's loader accepted flow files: decoded with yaml.v3 into a
// generic tree, then re-marshaled to JSON so the rest of this package
// only ever deals with one document shape.
package missionload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/mission"
	"gopkg.in/yaml.v3"
)

// doc mirrors mission.Mission field-for-field in JSON-friendly shape.
type doc struct {
	Name     string                  `json:"name"`
	Sources  map[string]sourceDoc    `json:"sources"`
	Stores   map[string]storeDoc     `json:"stores"`
	Schemas  map[string]schemaDoc    `json:"schemas"`
	Actions  map[string]actionDoc    `json:"actions"`
	Pipeline []stageDoc              `json:"pipeline"`
	Schedule *scheduleDoc            `json:"schedule"`
}

type retryDoc struct {
	MaxAttempts  int    `json:"maxAttempts"`
	Backoff      string `json:"backoff"`
	InitialDelay string `json:"initialDelay"`
	MaxDelay     string `json:"maxDelay"`
	Jitter       bool   `json:"jitter"`
}

func (r *retryDoc) build() (mission.RetryConfig, error) {
	if r == nil {
		return mission.RetryConfig{MaxAttempts: 1}, nil
	}
	initial, err := parseDuration(r.InitialDelay)
	if err != nil {
		return mission.RetryConfig{}, err
	}
	max, err := parseDuration(r.MaxDelay)
	if err != nil {
		return mission.RetryConfig{}, err
	}
	return mission.RetryConfig{
		MaxAttempts:  r.MaxAttempts,
		Backoff:      mission.BackoffKind(orDefault(r.Backoff, "constant")),
		InitialDelay: initial,
		MaxDelay:     max,
		Jitter:       r.Jitter,
	}, nil
}

type rateLimitDoc struct {
	RequestsPerInterval int    `json:"requestsPerInterval"`
	Interval             string `json:"interval"`
	Strategy             string `json:"strategy"`
	MaxWait              string `json:"maxWait"`
}

type circuitDoc struct {
	FailureThreshold int    `json:"failureThreshold"`
	FailureWindow    string `json:"failureWindow"`
	ResetTimeout     string `json:"resetTimeout"`
	SuccessThreshold int    `json:"successThreshold"`
}

type sourceDoc struct {
	BaseURL     string            `json:"baseUrl"`
	Auth        string            `json:"auth"`
	Headers     map[string]string `json:"headers"`
	RateLimit   *rateLimitDoc     `json:"rateLimit"`
	Circuit     *circuitDoc       `json:"circuit"`
	Retry       *retryDoc         `json:"retry"`
	Timeout     string            `json:"timeout"`
	Credentials string            `json:"credentials"`
	Operations  map[string]struct {
		Method         string   `json:"method"`
		Path           string   `json:"path"`
		ParamNames     []string `json:"paramNames"`
		ResponseSchema string   `json:"responseSchema"`
	} `json:"operations"`
}

type storeDoc struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

type fieldDoc struct {
	Type     string    `json:"type"`
	Optional bool      `json:"optional"`
	Element  *schemaDoc `json:"element"`
	Object   *schemaDoc `json:"object"`
}

type schemaDoc struct {
	Fields  map[string]fieldDoc `json:"fields"`
	Element *schemaDoc          `json:"element"`
}

func (s *schemaDoc) build(name string) *mission.Schema {
	if s == nil {
		return nil
	}
	out := &mission.Schema{Name: name}
	if s.Element != nil {
		out.Element = s.Element.build(name + "[]")
		return out
	}
	out.Fields = make(map[string]mission.Field, len(s.Fields))
	for fname, f := range s.Fields {
		field := mission.Field{Type: mission.FieldType(f.Type), Optional: f.Optional}
		if f.Element != nil {
			field.Element = f.Element.build(fname + "[]")
		}
		if f.Object != nil {
			field.Object = f.Object.build(fname)
		}
		out.Fields[fname] = field
	}
	return out
}

type stageDoc struct {
	Actions []string `json:"actions"`
}

type scheduleDoc struct {
	Interval       string    `json:"interval"`
	Cron           string    `json:"cron"`
	At             *string   `json:"at"`
	Timezone       string    `json:"timezone"`
	MaxConcurrency int       `json:"maxConcurrency"`
	SkipIfRunning  bool      `json:"skipIfRunning"`
	RetryOnFailure *retryDoc `json:"retryOnFailure"`
}

type actionDoc struct {
	Steps        []stepDoc `json:"steps"`
	OnError      []stepDoc `json:"onError"`
	Compensation []stepDoc `json:"compensation"`
}

// stepDoc is a tagged union over every mission.Step variant, keyed by
// its "type" field ("fetch", "call", "for", "map", "validate", "store",
// "match", "wait", "continue", "skip", "abort", "retry", "queue",
// "jump").
type stepDoc struct {
	Type string `json:"type"`

	// fetch / call
	Source  string            `json:"source"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Body    string            `json:"body"`
	OpID    string            `json:"operationId"`
	Params  map[string]string `json:"params"`

	// responseSchema names a schema used to synthesise a response in
	// dry-run mode (spec.md §6); ignored otherwise.
	ResponseSchema string `json:"responseSchema"`

	Pagination *struct {
		Mode       string `json:"mode"`
		Var        string `json:"var"`
		Size       int    `json:"size"`
		StartAt    int    `json:"startAt"`
		CursorPath string `json:"cursorPath"`
		Until      string `json:"until"`
	} `json:"pagination"`

	Since *struct {
		Format string `json:"format"`
		Param  string `json:"param"`
	} `json:"since"`

	Retry *retryDoc `json:"retry"`

	// for
	Var      string    `json:"var"`
	IndexVar string    `json:"indexVar"`
	Store    string    `json:"store"`
	Iterable string    `json:"iterable"`
	Where    string    `json:"where"`
	Body2    []stepDoc `json:"body"`

	// map
	Schema string `json:"schema"`
	Fields []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"fields"`

	// validate
	Target      string `json:"target"`
	Assumptions []struct {
		Predicate string `json:"predicate"`
		Message   string `json:"message"`
		Warning   bool   `json:"warning"`
	} `json:"assume"`

	// store
	Key     string `json:"key"`
	Partial bool   `json:"partial"`
	Upsert  bool   `json:"upsert"`

	// match
	Subject string `json:"subject"`
	Arms    []struct {
		Schema string    `json:"schema"`
		Guard  string    `json:"guard"`
		Body   []stepDoc `json:"body"`
	} `json:"arms"`

	// wait
	Timeout        int64  `json:"timeout"`
	ExpectedEvents int    `json:"expectedEvents"`
	Filter         string `json:"filter"`

	// abort
	Message string `json:"message"`

	// queue
	Item string `json:"item"`

	// jump
	Action string `json:"action"`
	Mode   string `json:"mode"`
}

// builder compiles every expression string it encounters with a
// shared evalx.Evaluator, so the loader and the executor agree on
// available built-ins.
type builder struct {
	eval    *evalx.Evaluator
	schemas map[string]*mission.Schema
}

func (b *builder) compile(source string) (evalx.Expr, error) {
	if source == "" {
		return nil, nil
	}
	c, err := b.eval.Compile(source, nil)
	if err != nil {
		return nil, fmt.Errorf("missionload: compile %q: %w", source, err)
	}
	return c, nil
}

func (b *builder) compileMap(m map[string]string) (map[string]evalx.Expr, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]evalx.Expr, len(m))
	for k, v := range m {
		e, err := b.compile(v)
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("missionload: invalid duration %q: %w", s, err)
	}
	return d, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Load reads a JSON or YAML mission document from path and resolves it
// into a *mission.Mission. Expression strings are compiled, not parsed
// into a surface grammar — the compiler is expr-lang's, reused from
// evalx. The extension picks the decoder; everything else is identical.
func Load(path string) (*mission.Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("missionload: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("missionload: %s: %w", path, err)
		}
	}
	return Decode(data)
}

// yamlToJSON re-encodes a YAML mission document as JSON so Decode has a
// single document shape to work against. yaml.v3 decodes mappings as
// map[string]interface{} (unlike v2's map[interface{}]interface{}),
// which is what makes the round-trip through encoding/json work without
// a key-conversion pass.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-encode yaml as json: %w", err)
	}
	return out, nil
}

// Decode parses a JSON mission document already in memory.
func Decode(data []byte) (*mission.Mission, error) {
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("missionload: parse: %w", err)
	}

	m := &mission.Mission{
		Name:    d.Name,
		Sources: make(map[string]*mission.Source, len(d.Sources)),
		Stores:  make(map[string]*mission.StoreDef, len(d.Stores)),
		Schemas: make(map[string]*mission.Schema, len(d.Schemas)),
		Actions: make(map[string]*mission.Action, len(d.Actions)),
	}

	// Schemas are resolved first: sources' OAS operations and fetch
	// steps may reference one by name for dry-run response synthesis
	// (spec.md §6), so the name must already be in m.Schemas before
	// either is built.
	for name, s := range d.Schemas {
		sd := s
		m.Schemas[name] = sd.build(name)
	}

	b := &builder{eval: evalx.NewEvaluator(), schemas: m.Schemas}

	for name, s := range d.Sources {
		src, err := buildSource(name, s, m.Schemas)
		if err != nil {
			return nil, err
		}
		m.Sources[name] = src
	}

	for name, s := range d.Stores {
		m.Stores[name] = &mission.StoreDef{Name: name, Kind: mission.StoreKind(s.Kind), Identifier: s.Identifier}
	}

	for name, a := range d.Actions {
		steps, err := b.buildSteps(a.Steps)
		if err != nil {
			return nil, fmt.Errorf("missionload: action %q: %w", name, err)
		}
		onError, err := b.buildSteps(a.OnError)
		if err != nil {
			return nil, fmt.Errorf("missionload: action %q onError: %w", name, err)
		}
		comp, err := b.buildSteps(a.Compensation)
		if err != nil {
			return nil, fmt.Errorf("missionload: action %q compensation: %w", name, err)
		}
		m.Actions[name] = &mission.Action{Name: name, Steps: steps, OnError: onError, Compensation: comp}
	}

	for _, s := range d.Pipeline {
		m.Pipeline = append(m.Pipeline, mission.Stage{Actions: s.Actions})
	}

	if d.Schedule != nil {
		sched, err := buildSchedule(d.Schedule)
		if err != nil {
			return nil, err
		}
		m.Schedule = sched
	}

	return m, nil
}

func buildSource(name string, s sourceDoc, schemas map[string]*mission.Schema) (*mission.Source, error) {
	timeout, err := parseDuration(s.Timeout)
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry, err := s.Retry.build()
	if err != nil {
		return nil, err
	}

	src := &mission.Source{
		Name:        name,
		BaseURL:     s.BaseURL,
		Auth:        mission.AuthMode(orDefault(s.Auth, "none")),
		Headers:     s.Headers,
		Timeout:     timeout,
		Retry:       retry,
		Credentials: s.Credentials,
	}

	if s.RateLimit != nil {
		interval, err := parseDuration(s.RateLimit.Interval)
		if err != nil {
			return nil, err
		}
		maxWait, err := parseDuration(s.RateLimit.MaxWait)
		if err != nil {
			return nil, err
		}
		src.RateLimit = mission.RateLimitPolicy{
			RequestsPerInterval: s.RateLimit.RequestsPerInterval,
			Interval:            interval,
			Strategy:            mission.RateLimitStrategy(orDefault(s.RateLimit.Strategy, "pause")),
			MaxWait:             maxWait,
		}
	}

	if s.Circuit != nil {
		window, err := parseDuration(s.Circuit.FailureWindow)
		if err != nil {
			return nil, err
		}
		reset, err := parseDuration(s.Circuit.ResetTimeout)
		if err != nil {
			return nil, err
		}
		src.Circuit = mission.CircuitPolicy{
			FailureThreshold: s.Circuit.FailureThreshold,
			FailureWindow:    window,
			ResetTimeout:     reset,
			SuccessThreshold: s.Circuit.SuccessThreshold,
		}
	}

	if len(s.Operations) > 0 {
		src.Operations = make(map[string]mission.OASOperation, len(s.Operations))
		for opID, op := range s.Operations {
			src.Operations[opID] = mission.OASOperation{
				Method: op.Method, PathTemplate: op.Path, ParameterNames: op.ParamNames,
				ResponseSchema: schemas[op.ResponseSchema],
			}
		}
	}

	return src, nil
}

func buildSchedule(s *scheduleDoc) (*mission.SchedulePolicy, error) {
	interval, err := parseDuration(s.Interval)
	if err != nil {
		return nil, err
	}
	retry, err := s.RetryOnFailure.build()
	if err != nil {
		return nil, err
	}
	policy := &mission.SchedulePolicy{
		Interval:       interval,
		Cron:           s.Cron,
		Timezone:       s.Timezone,
		MaxConcurrency: s.MaxConcurrency,
		SkipIfRunning:  s.SkipIfRunning,
		RetryOnFailure: retry,
	}
	if s.At != nil {
		at, err := time.Parse(time.RFC3339, *s.At)
		if err != nil {
			return nil, fmt.Errorf("missionload: invalid schedule.at %q: %w", *s.At, err)
		}
		policy.At = &at
	}
	return policy, nil
}

func (b *builder) buildSteps(docs []stepDoc) ([]mission.Step, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]mission.Step, 0, len(docs))
	for _, d := range docs {
		step, err := b.buildStep(d)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}

func (b *builder) buildStep(d stepDoc) (mission.Step, error) {
	switch d.Type {
	case "fetch":
		path, err := b.compile(d.Path)
		if err != nil {
			return nil, err
		}
		headers, err := b.compileMap(d.Headers)
		if err != nil {
			return nil, err
		}
		query, err := b.compileMap(d.Query)
		if err != nil {
			return nil, err
		}
		body, err := b.compile(d.Body)
		if err != nil {
			return nil, err
		}
		retry, err := buildRetryPtr(d.Retry)
		if err != nil {
			return nil, err
		}
		pagination, err := b.buildPagination(d.Pagination)
		if err != nil {
			return nil, err
		}
		since := buildSince(d.Since)
		return &mission.FetchStep{
			Source: d.Source, Method: orDefault(d.Method, "GET"), Path: path,
			Headers: headers, Query: query, Body: body,
			Pagination: pagination, Since: since, Retry: retry,
			ResponseSchema: b.schemas[d.ResponseSchema],
		}, nil

	case "call":
		params, err := b.compileMap(d.Params)
		if err != nil {
			return nil, err
		}
		body, err := b.compile(d.Body)
		if err != nil {
			return nil, err
		}
		retry, err := buildRetryPtr(d.Retry)
		if err != nil {
			return nil, err
		}
		return &mission.CallStep{Source: d.Source, OperationID: d.OpID, Params: params, Body: body, Retry: retry}, nil

	case "for":
		iterable, err := b.compile(d.Iterable)
		if err != nil {
			return nil, err
		}
		where, err := b.compile(d.Where)
		if err != nil {
			return nil, err
		}
		body, err := b.buildSteps(d.Body2)
		if err != nil {
			return nil, err
		}
		return &mission.ForStep{Var: d.Var, IndexVar: d.IndexVar, Store: d.Store, Iterable: iterable, Where: where, Body: body}, nil

	case "map":
		source, err := b.compile(d.Source)
		if err != nil {
			return nil, err
		}
		fields := make([]evalx.ObjectField, 0, len(d.Fields))
		for _, f := range d.Fields {
			v, err := b.compile(f.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, evalx.ObjectField{Key: f.Key, Value: v})
		}
		return &mission.MapStep{Source: source, Schema: d.Schema, Fields: fields}, nil

	case "validate":
		target, err := b.compile(d.Target)
		if err != nil {
			return nil, err
		}
		assumptions := make([]mission.Assumption, 0, len(d.Assumptions))
		for _, a := range d.Assumptions {
			p, err := b.compile(a.Predicate)
			if err != nil {
				return nil, err
			}
			assumptions = append(assumptions, mission.Assumption{Predicate: p, Message: a.Message, Warning: a.Warning})
		}
		return &mission.ValidateStep{Target: target, Assumptions: assumptions}, nil

	case "store":
		source, err := b.compile(d.Source)
		if err != nil {
			return nil, err
		}
		key, err := b.compile(d.Key)
		if err != nil {
			return nil, err
		}
		return &mission.StoreStep{
			Source: source, Store: d.Store,
			Options: mission.StoreOptions{Key: key, Partial: d.Partial, Upsert: d.Upsert},
		}, nil

	case "match":
		subject, err := b.compile(d.Subject)
		if err != nil {
			return nil, err
		}
		arms := make([]mission.MatchStepArm, 0, len(d.Arms))
		for _, a := range d.Arms {
			guard, err := b.compile(a.Guard)
			if err != nil {
				return nil, err
			}
			body, err := b.buildSteps(a.Body)
			if err != nil {
				return nil, err
			}
			arms = append(arms, mission.MatchStepArm{SchemaName: a.Schema, Guard: guard, Body: body})
		}
		return &mission.MatchStep{Subject: subject, Arms: arms}, nil

	case "wait":
		filter, err := b.compile(d.Filter)
		if err != nil {
			return nil, err
		}
		expected := d.ExpectedEvents
		if expected < 1 {
			expected = 1
		}
		return &mission.WaitStep{Timeout: d.Timeout, ExpectedEvents: expected, Filter: filter}, nil

	case "continue":
		return &mission.ContinueStep{}, nil
	case "skip":
		return &mission.SkipStep{}, nil
	case "abort":
		msg, err := b.compile(d.Message)
		if err != nil {
			return nil, err
		}
		return &mission.AbortStep{Message: msg}, nil
	case "retry":
		override, err := buildRetryPtr(d.Retry)
		if err != nil {
			return nil, err
		}
		return &mission.RetryStep{Override: override}, nil
	case "queue":
		item, err := b.compile(d.Item)
		if err != nil {
			return nil, err
		}
		return &mission.QueueStep{Store: d.Store, Item: item}, nil
	case "jump":
		mode := mission.JumpThenContinue
		if d.Mode == string(mission.JumpThenRetry) {
			mode = mission.JumpThenRetry
		}
		return &mission.JumpStep{Action: d.Action, Mode: mode}, nil
	default:
		return nil, fmt.Errorf("missionload: unknown step type %q", d.Type)
	}
}

func buildRetryPtr(r *retryDoc) (*mission.RetryConfig, error) {
	if r == nil {
		return nil, nil
	}
	cfg, err := r.build()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (b *builder) buildPagination(p *struct {
	Mode       string `json:"mode"`
	Var        string `json:"var"`
	Size       int    `json:"size"`
	StartAt    int    `json:"startAt"`
	CursorPath string `json:"cursorPath"`
	Until      string `json:"until"`
}) (*mission.Pagination, error) {
	if p == nil {
		return nil, nil
	}
	until, err := b.compile(p.Until)
	if err != nil {
		return nil, err
	}
	return &mission.Pagination{
		Mode: p.Mode, Var: p.Var, Size: p.Size, StartAt: p.StartAt,
		CursorPath: p.CursorPath, Until: until,
	}, nil
}

func buildSince(s *struct {
	Format string `json:"format"`
	Param  string `json:"param"`
}) *mission.SinceConfig {
	if s == nil {
		return nil
	}
	return &mission.SinceConfig{Format: mission.SinceFormat(orDefault(s.Format, "iso")), Param: s.Param}
}
