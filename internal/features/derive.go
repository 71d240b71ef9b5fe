package features

import (
	"fmt"
	"math"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Engineered features computed from raw transaction fields.
const (
	AmountZScore = "amount_zscore"
	AmountLog    = "amount_log"
	V1V2Ratio    = "v1_v2_ratio"
	HighValue    = "high_value"
	VarianceAll  = "variance_all"
	MaxAbsV      = "max_abs_v"
	MeanAbsV     = "mean_abs_v"
)

// componentsVar names the list of V1..Vn values available to expressions.
const componentsVar = "v"

// BuiltinDerivations returns the engineered features shipped with the
// training pipeline. Amount statistics are the dataset mean and std.
func BuiltinDerivations() []domain.Derivation {
	return []domain.Derivation{
		{Name: AmountZScore, Expression: "(Amount - 88.0) / 250.0"},
		{Name: AmountLog, Expression: "log1p(Amount)"},
		{Name: V1V2Ratio, Expression: "abs(V1 / (V2 + 0.0001))"},
		{Name: HighValue, Expression: "Amount > 1000.0"},
		{Name: VarianceAll, Expression: "variance(v)"},
		{Name: MaxAbsV, Expression: "max_abs(v)"},
		{Name: MeanAbsV, Expression: "mean_abs(v)"},
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var componentPattern = regexp.MustCompile(`^V[0-9]+$`)

// Deriver evaluates compiled CEL derivations over raw feature values.
// Programs are immutable once compiled and safe for concurrent use.
type Deriver struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]*compiledDerivation
	order      []string
	components []string
}

type compiledDerivation struct {
	def     domain.Derivation
	program cel.Program
}

// NewDeriver creates a CEL environment exposing each raw feature as a double
// variable plus the V-component list.
func NewDeriver(rawNames []string) (*Deriver, error) {
	opts := []cel.EnvOption{}
	var components []string
	declared := make(map[string]bool)

	for _, name := range rawNames {
		if !identPattern.MatchString(name) || declared[name] {
			continue
		}
		declared[name] = true
		opts = append(opts, cel.Variable(name, cel.DoubleType))
		if componentPattern.MatchString(name) {
			components = append(components, name)
		}
	}
	if !declared[componentsVar] {
		opts = append(opts, cel.Variable(componentsVar, cel.ListType(cel.DoubleType)))
	}
	opts = append(opts, mathFunctions()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Deriver{
		env:        env,
		programs:   make(map[string]*compiledDerivation),
		components: components,
	}, nil
}

// Load compiles a derivation and registers it under its name.
func (d *Deriver) Load(def domain.Derivation) error {
	compiled, err := d.compile(def)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.programs[def.Name]; !exists {
		d.order = append(d.order, def.Name)
	}
	d.programs[def.Name] = compiled
	return nil
}

// Has reports whether a derivation is registered for name.
func (d *Deriver) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.programs[name]
	return ok
}

// Names returns registered derivation names in load order.
func (d *Deriver) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Derive evaluates every registered derivation against raw values.
func (d *Deriver) Derive(raw map[string]float64) (map[string]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	activation := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		activation[k] = v
	}
	comps := make([]float64, 0, len(d.components))
	for _, name := range d.components {
		comps = append(comps, raw[name])
	}
	activation[componentsVar] = comps

	out := make(map[string]float64, len(d.order))
	for _, name := range d.order {
		val, _, err := d.programs[name].program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("derivation %s: %w", name, err)
		}
		out[name] = toFloat(val)
	}
	return out, nil
}

func (d *Deriver) compile(def domain.Derivation) (*compiledDerivation, error) {
	if def.Name == "" || def.Expression == "" {
		return nil, &domain.ConfigurationError{Field: "derivation", Reason: "name and expression are required"}
	}

	ast, issues := d.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigurationError{
			Field:  "derivation " + def.Name,
			Reason: issues.Err().Error(),
		}
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, &domain.ConfigurationError{
			Field:  "derivation " + def.Name,
			Reason: fmt.Sprintf("expression must return bool, int, or double, got %s", outputType),
		}
	}

	program, err := d.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for derivation %s: %w", def.Name, err)
	}

	return &compiledDerivation{def: def, program: program}, nil
}

// toFloat converts a CEL value to a feature value.
func toFloat(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return math.NaN()
	}
}

func mathFunctions() []cel.EnvOption {
	unary := func(name string, fn func(float64) float64) cel.EnvOption {
		return cel.Function(name,
			cel.Overload(name+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					x, ok := val.(types.Double)
					if !ok {
						return types.NewErr("%s: expected double", name)
					}
					return types.Double(fn(float64(x)))
				}),
			),
		)
	}
	aggregate := func(name string, fn func([]float64) float64) cel.EnvOption {
		return cel.Function(name,
			cel.Overload(name+"_list_double", []*cel.Type{cel.ListType(cel.DoubleType)}, cel.DoubleType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					xs, err := toFloats(val)
					if err != nil {
						return types.NewErr("%s: %v", name, err)
					}
					return types.Double(fn(xs))
				}),
			),
		)
	}

	return []cel.EnvOption{
		unary("log1p", math.Log1p),
		unary("abs", math.Abs),
		aggregate("variance", variance),
		aggregate("max_abs", maxAbs),
		aggregate("mean_abs", meanAbs),
	}
}

func toFloats(val ref.Val) ([]float64, error) {
	lister, ok := val.(traits.Lister)
	if !ok {
		return nil, fmt.Errorf("expected list")
	}
	size, ok := lister.Size().(types.Int)
	if !ok {
		return nil, fmt.Errorf("invalid list size")
	}
	out := make([]float64, 0, int(size))
	for i := types.Int(0); i < size; i++ {
		switch x := lister.Get(i).(type) {
		case types.Double:
			out = append(out, float64(x))
		case types.Int:
			out = append(out, float64(x))
		default:
			return nil, fmt.Errorf("element %d is not numeric", i)
		}
	}
	return out, nil
}

// variance is the population variance (ddof=0).
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return sum / float64(len(xs))
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func meanAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += math.Abs(x)
	}
	return sum / float64(len(xs))
}
