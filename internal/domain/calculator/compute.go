package calculator

import (
	"github.com/shopspring/decimal"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/formula"
	"shopfiscal/internal/domain/rule"
)

var one = decimal.NewFromInt(1)

// reducedBase is amount*(1-reduction/100) at full precision.
func reducedBase(amount, reduction decimal.Decimal) decimal.Decimal {
	return amount.Mul(one.Sub(types.Percent(reduction)))
}

// ComputeLine applies r's recipe to amount. Only the final amount is rounded.
func ComputeLine(r *rule.Rule, amount decimal.Decimal, maxFormulaLen int) (Line, error) {
	line := Line{
		TaxTypeID:  r.TaxTypeID,
		RuleID:     r.ID,
		CalcMethod: r.Recipe.Method(),
	}

	switch recipe := r.Recipe.(type) {
	case rule.Percentage:
		line.Base = reducedBase(amount, recipe.BaseReduction)
		line.Rate = types.DecimalPtr(recipe.Rate)
		line.Amount = types.RoundMoney(line.Base.Mul(types.Percent(recipe.Rate)))
	case rule.FixedValue:
		line.Base = amount
		line.Amount = types.RoundMoney(recipe.Amount)
	case rule.Exempt, rule.NonIncidence:
		line.Base = amount
		line.Amount = types.Zero()
	case rule.Formula:
		line.Base = reducedBase(amount, recipe.BaseReduction)
		line.Rate = types.DecimalPtr(recipe.Rate)
		expr, err := formula.Compile(recipe.Expression, maxFormulaLen)
		if err != nil {
			return Line{}, apperror.NewFormulaEvaluation(r.ID.String(), r.TaxTypeID.String(), recipe.Expression, err)
		}
		v, err := expr.Eval(formula.Vars{Amount: amount, BaseReduction: recipe.BaseReduction, Rate: recipe.Rate})
		if err != nil {
			return Line{}, apperror.NewFormulaEvaluation(r.ID.String(), r.TaxTypeID.String(), recipe.Expression, err)
		}
		if v.IsNegative() {
			return Line{}, apperror.NewFormulaEvaluation(r.ID.String(), r.TaxTypeID.String(), recipe.Expression, errNegative)
		}
		line.Amount = types.RoundMoney(v)
	default:
		return Line{}, apperror.NewInternal(errUnknownRecipe).WithDetail("rule_id", r.ID.String())
	}
	return line, nil
}
