package schema

import "github.com/reqon/reqon/internal/mission"

// Registry resolves schema names against a loaded mission's Schemas
// map and adapts Match into the callback shape evalx.MatchExpr
// evaluation expects, keeping evalx free of any mission import.
type Registry struct {
	schemas map[string]*mission.Schema
}

// NewRegistry builds a Registry over a mission's resolved schemas.
func NewRegistry(schemas map[string]*mission.Schema) *Registry {
	return &Registry{schemas: schemas}
}

// MatchSchema implements evalx.SchemaMatcherFunc.
func (r *Registry) MatchSchema(schemaName string, value any) (bool, error) {
	s, ok := r.schemas[schemaName]
	if !ok {
		return false, &UnknownSchemaError{Name: schemaName}
	}
	return Match(value, s)
}

// UnknownSchemaError is returned when a match arm or validate step
// names a schema the mission never declared. Resolution (C13) should
// normally catch this before execution reaches here.
type UnknownSchemaError struct {
	Name string
}

func (e *UnknownSchemaError) Error() string {
	return "schema: unknown schema \"" + e.Name + "\""
}
