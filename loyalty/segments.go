package loyalty

import (
	"sync"
	"time"

	"loyalty-engine/models"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// SegmentEvaluator compiles and runs segment expressions. Expressions see a
// single map variable, customer, with the keys visits, total_spent,
// days_since_last_purchase (-1 when the customer never bought), has_phone,
// accruals_blocked and redemptions_blocked.
//
//	customer.visits >= 5 && customer.total_spent > 10000
type SegmentEvaluator struct {
	once     sync.Once
	env      *cel.Env
	envErr   error
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewSegmentEvaluator() *SegmentEvaluator {
	return &SegmentEvaluator{programs: make(map[string]cel.Program)}
}

func (e *SegmentEvaluator) environment() (*cel.Env, error) {
	e.once.Do(func() {
		e.env, e.envErr = cel.NewEnv(
			cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return e.env, e.envErr
}

func (e *SegmentEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}
	env, err := e.environment()
	if err != nil {
		return nil, errors.Wrap(err, "segment env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrap(iss.Err(), "compile segment expression")
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.Errorf("segment expression must be boolean, got %s", out)
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build segment program")
	}
	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Validate compiles expr without evaluating it.
func (e *SegmentEvaluator) Validate(expr string) error {
	_, err := e.program(expr)
	return err
}

// Match evaluates expr against the customer attributes.
func (e *SegmentEvaluator) Match(expr string, attrs map[string]interface{}) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	val, _, err := prg.Eval(map[string]interface{}{"customer": attrs})
	if err != nil {
		return false, errors.Wrap(err, "evaluate segment expression")
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, errors.Errorf("segment expression returned %T", val.Value())
	}
	return b, nil
}

func customerAttributes(c models.Customer, now time.Time) map[string]interface{} {
	days := int64(-1)
	if c.LastPurchaseAt != nil {
		days = int64(now.Sub(*c.LastPurchaseAt) / (24 * time.Hour))
	}
	return map[string]interface{}{
		"visits":                   int64(c.Visits),
		"total_spent":              c.TotalSpent,
		"days_since_last_purchase": days,
		"has_phone":                c.Phone != nil && *c.Phone != "",
		"accruals_blocked":         c.AccrualsBlocked,
		"redemptions_blocked":      c.RedemptionsBlocked,
	}
}
