package rule

import (
	"strings"

	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/formula"
)

// CalcMethod is the formula family that turns a base into a tax amount.
type CalcMethod string

const (
	MethodPercentage   CalcMethod = "percentual"
	MethodFixedValue   CalcMethod = "valor_fixo"
	MethodExempt       CalcMethod = "isento"
	MethodNonIncidence CalcMethod = "nao_incidencia"
)

// Recipe is the calculation half of a rule. Exactly one variant applies:
// Percentage, FixedValue, Exempt, NonIncidence or Formula.
type Recipe interface {
	// Method is the calc method reported on tax lines.
	Method() CalcMethod
	validate() error
}

// Percentage taxes amount*(1-BaseReduction/100) at Rate percent.
type Percentage struct {
	Rate          decimal.Decimal
	BaseReduction decimal.Decimal
}

func (Percentage) Method() CalcMethod { return MethodPercentage }

func (p Percentage) validate() error {
	if p.Rate.IsNegative() {
		return apperror.NewValidation("rate must not be negative").WithDetail("field", "rate")
	}
	if err := types.ValidatePercent("base_reduction", p.BaseReduction); err != nil {
		return apperror.NewValidation(err.Error()).WithDetail("field", "baseReduction")
	}
	return nil
}

// FixedValue charges Amount regardless of the operation amount.
type FixedValue struct {
	Amount decimal.Decimal
}

func (FixedValue) Method() CalcMethod { return MethodFixedValue }

func (f FixedValue) validate() error {
	if f.Amount.IsNegative() {
		return apperror.NewValidation("fixed value must not be negative").WithDetail("field", "fixedValue")
	}
	return nil
}

// Exempt records a zero line for an exempt operation.
type Exempt struct{}

func (Exempt) Method() CalcMethod { return MethodExempt }
func (Exempt) validate() error    { return nil }

// NonIncidence records a zero line for an operation outside the tax's scope.
type NonIncidence struct{}

func (NonIncidence) Method() CalcMethod { return MethodNonIncidence }
func (NonIncidence) validate() error    { return nil }

// Formula evaluates Expression over amount, base_reduction and rate.
// Rate and BaseReduction only feed the expression's variables.
type Formula struct {
	Reported      CalcMethod
	Expression    string
	Rate          decimal.Decimal
	BaseReduction decimal.Decimal
}

func (f Formula) Method() CalcMethod { return f.Reported }

func (f Formula) validate() error {
	if f.Reported != MethodPercentage && f.Reported != MethodFixedValue {
		return apperror.NewValidation("formula rules must use percentual or valor_fixo").
			WithDetail("field", "calcMethod")
	}
	if err := types.ValidatePercent("base_reduction", f.BaseReduction); err != nil {
		return apperror.NewValidation(err.Error()).WithDetail("field", "baseReduction")
	}
	if _, err := formula.Compile(f.Expression, 0); err != nil {
		return apperror.NewValidation("invalid formula: " + err.Error()).WithDetail("field", "formula")
	}
	return nil
}

// Columns is the nullable column form of a recipe.
type Columns struct {
	CalcMethod    CalcMethod       `json:"calcMethod"`
	Rate          *decimal.Decimal `json:"rate"`
	BaseReduction *decimal.Decimal `json:"baseReduction"`
	FixedValue    *decimal.Decimal `json:"fixedValue"`
	Formula       *string          `json:"formula"`
}

// Recipe builds the tagged variant, enforcing the fields each method requires.
func (c Columns) Recipe() (Recipe, error) {
	reduction := decimal.Zero
	if c.BaseReduction != nil {
		reduction = *c.BaseReduction
	}

	if c.Formula != nil && strings.TrimSpace(*c.Formula) != "" {
		method := c.CalcMethod
		if method == "" {
			method = MethodPercentage
		}
		rate := decimal.Zero
		if c.Rate != nil {
			rate = *c.Rate
		}
		return Formula{
			Reported:      method,
			Expression:    strings.TrimSpace(*c.Formula),
			Rate:          rate,
			BaseReduction: reduction,
		}, nil
	}

	switch c.CalcMethod {
	case MethodPercentage:
		if c.Rate == nil {
			return nil, apperror.NewValidation("rate is required for percentual rules").WithDetail("field", "rate")
		}
		return Percentage{Rate: *c.Rate, BaseReduction: reduction}, nil
	case MethodFixedValue:
		if c.FixedValue == nil {
			return nil, apperror.NewValidation("fixed value is required for valor_fixo rules").
				WithDetail("field", "fixedValue")
		}
		return FixedValue{Amount: *c.FixedValue}, nil
	case MethodExempt:
		return Exempt{}, nil
	case MethodNonIncidence:
		return NonIncidence{}, nil
	case "":
		return nil, apperror.NewValidation("calc method is required").WithDetail("field", "calcMethod")
	default:
		return nil, apperror.NewValidation("unknown calc method").
			WithDetail("field", "calcMethod").WithDetail("value", string(c.CalcMethod))
	}
}

// ColumnsOf flattens a recipe back into columns.
func ColumnsOf(r Recipe) Columns {
	switch v := r.(type) {
	case Percentage:
		return Columns{CalcMethod: v.Method(), Rate: types.DecimalPtr(v.Rate), BaseReduction: types.DecimalPtr(v.BaseReduction)}
	case FixedValue:
		return Columns{CalcMethod: v.Method(), FixedValue: types.DecimalPtr(v.Amount)}
	case Formula:
		expr := v.Expression
		return Columns{
			CalcMethod:    v.Method(),
			Rate:          types.DecimalPtr(v.Rate),
			BaseReduction: types.DecimalPtr(v.BaseReduction),
			Formula:       &expr,
		}
	case nil:
		return Columns{}
	default:
		return Columns{CalcMethod: v.Method()}
	}
}
