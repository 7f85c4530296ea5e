// Package query filters contract documents with CEL expressions.
package query

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

var ErrInvalidFilter = errors.New("query: invalid filter")

// Query selects documents of one collection. An empty Filter matches
// everything; Limit 0 means no limit.
type Query struct {
	Filter string
	Limit  int
	Offset int
}

// Evaluator compiles filters against a document bound as `contract`, e.g.
//
//	contract.Status == "ACTIVE" && "AG1" in contract.OriginatingAgencies
//
// Compiled programs are cached by expression.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("contract", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile checks a filter without evaluating it.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Apply returns the documents matching q, in input order, paginated.
// A document on which the filter cannot be evaluated (typically a field
// the variant lacks) does not match.
func (e *Evaluator) Apply(docs []contracts.Document, q Query) ([]contracts.Document, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidFilter)
	}

	matched := docs
	if q.Filter != "" {
		prg, err := e.program(q.Filter)
		if err != nil {
			return nil, err
		}
		matched = make([]contracts.Document, 0, len(docs))
		for _, d := range docs {
			out, _, err := prg.Eval(map[string]any{"contract": map[string]any(d)})
			if err != nil {
				continue
			}
			if out == types.True {
				matched = append(matched, d)
			}
		}
	}

	if q.Offset >= len(matched) {
		return []contracts.Document{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.BoolType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("%w: %q does not evaluate to a boolean", ErrInvalidFilter, expr)
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}
