package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/cast"
	goValuate "gopkg.in/Knetic/govaluate.v3"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// TransformFunc is a registered, pure post-processing step over records.
// arg is the optional text after the function name ("fn:name:arg").
type TransformFunc func(ctx context.Context, records []pipeline.Record, arg string) ([]pipeline.Record, error)

// TransformRegistry resolves transform scripts. A script is either
// "fn:<name>[:arg]", naming a registered TransformFunc, or an expression
// program, optionally prefixed with "expr:".
type TransformRegistry struct {
	mu    sync.RWMutex
	funcs map[string]TransformFunc
}

// NewTransformRegistry returns a registry with the built-in functions
// trim_strings and drop_empty_records.
func NewTransformRegistry() *TransformRegistry {
	r := &TransformRegistry{funcs: make(map[string]TransformFunc)}
	r.Register("trim_strings", trimStrings)
	r.Register("drop_empty_records", dropEmptyRecords)
	return r
}

// Register adds or replaces a named function.
func (r *TransformRegistry) Register(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Apply runs script over a copy of records. Panics inside the transform
// are returned as errors; callers keep the original records on error.
func (r *TransformRegistry) Apply(ctx context.Context, records []pipeline.Record, script string) (out []pipeline.Record, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("transform panicked: %v", rec)
		}
	}()

	input := make([]pipeline.Record, len(records))
	for i, rec := range records {
		input[i] = rec.Clone()
	}

	script = strings.TrimSpace(script)
	switch {
	case strings.HasPrefix(script, "fn:"):
		name, arg, _ := strings.Cut(strings.TrimPrefix(script, "fn:"), ":")
		r.mu.RLock()
		fn, ok := r.funcs[strings.TrimSpace(name)]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownTransform, name)
		}
		out, err = fn(ctx, input, arg)
	default:
		var program *expressionProgram
		program, err = compileProgram(strings.TrimPrefix(script, "expr:"))
		if err != nil {
			return nil, err
		}
		out, err = program.run(input)
	}
	if err != nil {
		return nil, err
	}
	for i, rec := range out {
		if rec == nil {
			return nil, fmt.Errorf("transform produced a nil record at index %d", i)
		}
	}
	return out, nil
}

func trimStrings(_ context.Context, records []pipeline.Record, _ string) ([]pipeline.Record, error) {
	for _, rec := range records {
		for k, v := range rec {
			if s, ok := v.(string); ok {
				rec[k] = strings.TrimSpace(s)
			}
		}
	}
	return records, nil
}

func dropEmptyRecords(_ context.Context, records []pipeline.Record, _ string) ([]pipeline.Record, error) {
	out := records[:0]
	for _, rec := range records {
		for _, v := range rec {
			if v != nil && v != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

var assignmentLine = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*([^=].*)$`)

type programStep struct {
	field  string // empty for filters
	source string
	expr   *goValuate.EvaluableExpression
}

// expressionProgram is a list of steps run per record. Each line is either
// "field = <expression>" or "where <expression>"; lines may also be
// separated by ';'. Lines starting with '#' are comments.
type expressionProgram struct {
	steps []programStep
}

func compileProgram(src string) (*expressionProgram, error) {
	p := &expressionProgram{}
	lines := strings.FieldsFunc(src, func(r rune) bool { return r == '\n' || r == ';' })
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		step := programStep{}
		if rest, ok := strings.CutPrefix(line, "where "); ok {
			step.source = strings.TrimSpace(rest)
		} else if m := assignmentLine.FindStringSubmatch(line); m != nil {
			step.field, step.source = m[1], strings.TrimSpace(m[2])
		} else {
			return nil, fmt.Errorf("cannot parse transform line %q", line)
		}
		expr, err := goValuate.NewEvaluableExpressionWithFunctions(step.source, expressionFunctions)
		if err != nil {
			return nil, fmt.Errorf("cannot compile expression %q: %w", step.source, err)
		}
		step.expr = expr
		p.steps = append(p.steps, step)
	}
	if len(p.steps) == 0 {
		return nil, fmt.Errorf("transform program is empty")
	}
	return p, nil
}

func (p *expressionProgram) run(records []pipeline.Record) ([]pipeline.Record, error) {
	out := make([]pipeline.Record, 0, len(records))
records:
	for _, rec := range records {
		for _, step := range p.steps {
			result, err := step.expr.Evaluate(expressionParams(rec))
			if err != nil {
				return nil, fmt.Errorf("evaluate %q: %w", step.source, err)
			}
			if step.field != "" {
				rec[step.field] = result
				continue
			}
			keep, ok := result.(bool)
			if !ok {
				return nil, fmt.Errorf("filter %q returned %T, want bool", step.source, result)
			}
			if !keep {
				continue records
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func expressionParams(rec pipeline.Record) map[string]any {
	params := make(map[string]any, len(rec))
	for k, v := range rec {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				params[k] = f
				continue
			}
		}
		params[k] = v
	}
	return params
}

var expressionFunctions = map[string]goValuate.ExpressionFunction{
	"upper": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("upper expects 1 argument")
		}
		return strings.ToUpper(cast.ToString(args[0])), nil
	},
	"lower": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower expects 1 argument")
		}
		return strings.ToLower(cast.ToString(args[0])), nil
	},
	"trim": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("trim expects 1 argument")
		}
		return strings.TrimSpace(cast.ToString(args[0])), nil
	},
	"concat": func(args ...any) (any, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(cast.ToString(a))
		}
		return b.String(), nil
	},
	"coalesce": func(args ...any) (any, error) {
		for _, a := range args {
			if a != nil && a != "" {
				return a, nil
			}
		}
		return nil, nil
	},
	"round": func(args ...any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("round expects 1 or 2 arguments")
		}
		v, err := cast.ToFloat64E(args[0])
		if err != nil {
			return nil, err
		}
		places := 0.0
		if len(args) == 2 {
			places = cast.ToFloat64(args[1])
		}
		pow := math.Pow(10, places)
		return math.Round(v*pow) / pow, nil
	},
}
