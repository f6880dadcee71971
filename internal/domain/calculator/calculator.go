package calculator

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
	"shopfiscal/internal/domain/catalog"
	"shopfiscal/internal/domain/rule"
	"shopfiscal/internal/domain/setting"
	"shopfiscal/pkg/logger"
)

var tracer = otel.Tracer("shopfiscal/calculator")

var (
	errNegative      = errors.New("formula produced a negative tax amount")
	errUnknownRecipe = errors.New("unknown calculation recipe")
)

// Outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "rule_conflict"
	OutcomeFormula  = "formula_error"
	OutcomeError    = "error"
)

// Resolver picks the rule per tax type.
type Resolver interface {
	Resolve(ctx context.Context, orgID id.ID, q rule.Query) ([]rule.Resolved, error)
}

// SettingLookup returns the fiscal setting in force at an instant.
type SettingLookup interface {
	Effective(ctx context.Context, orgID id.ID, at time.Time) (*setting.Setting, error)
}

// TaxTypeLookup loads tax type names for result lines.
type TaxTypeLookup interface {
	GetByID(ctx context.Context, taxTypeID id.ID) (*catalog.TaxType, error)
}

// Limits supplies tunable bounds.
type Limits interface {
	MaxFormulaLength() int
}

// Observer receives calculation outcomes.
type Observer interface {
	ObserveCalculation(outcome string, elapsed time.Duration)
}

// Calculator computes tax for a request without persisting anything.
type Calculator struct {
	resolver Resolver
	settings SettingLookup
	taxTypes TaxTypeLookup
	limits   Limits
	observer Observer
	now      func() time.Time
}

// New creates a calculator. limits and observer may be nil.
func New(resolver Resolver, settings SettingLookup, taxTypes TaxTypeLookup, limits Limits, observer Observer) *Calculator {
	return &Calculator{
		resolver: resolver,
		settings: settings,
		taxTypes: taxTypes,
		limits:   limits,
		observer: observer,
		now:      time.Now,
	}
}

// Calculate resolves rules for req and computes one line per matched tax type.
// Any formula failure aborts the whole calculation.
func (c *Calculator) Calculate(ctx context.Context, orgID id.ID, req Request) (res *Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "calculator.Calculate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.observer != nil {
			c.observer.ObserveCalculation(outcomeOf(err), time.Since(started))
		}
	}()

	if !req.Amount.IsPositive() {
		return nil, apperror.NewValidation("amount must be greater than zero").WithDetail("field", "amount")
	}
	if !req.Operation.Valid() {
		return nil, apperror.NewValidation("operation must be venda, compra or prestacao_servico").
			WithDetail("field", "operation")
	}

	at := c.now().UTC()
	if req.EffectiveDate != nil {
		at = req.EffectiveDate.UTC()
	}

	regimeID, ok := req.RegimeID.Get()
	if !ok {
		s, err := c.settings.Effective(ctx, orgID, at)
		if err != nil {
			if apperror.IsNotFound(err) {
				return nil, apperror.NewValidation("regime not given and no fiscal setting is effective on the date").
					WithDetail("field", "regimeId").WithDetail("effective_date", at.Format("2006-01-02"))
			}
			return nil, err
		}
		regimeID = s.RegimeID
	}
	span.SetAttributes(
		attribute.String("fiscal.org_id", orgID.String()),
		attribute.String("fiscal.regime_id", regimeID.String()),
		attribute.String("fiscal.operation", string(req.Operation)),
	)

	resolved, err := c.resolver.Resolve(ctx, orgID, rule.Query{
		RegimeID:  regimeID,
		Operation: req.Operation,
		Subject: rule.Subject{
			OriginUF:         req.OriginUF,
			DestinationUF:    req.DestinationUF,
			ClassificationID: req.ClassificationID,
		},
		At: at,
	})
	if err != nil {
		return nil, err
	}

	maxLen := 0
	if c.limits != nil {
		maxLen = c.limits.MaxFormulaLength()
	}

	result := &Result{
		RegimeID:      regimeID,
		Operation:     req.Operation,
		EffectiveDate: at,
		TotalAmount:   req.Amount,
		TotalTax:      types.Zero(),
		Taxes:         make([]Line, 0, len(resolved)),
		Notes:         req.Notes,
	}
	for _, r := range resolved {
		line, err := ComputeLine(r.Rule, req.Amount, maxLen)
		if err != nil {
			logger.Warn(ctx, "tax line failed", "rule_id", r.Rule.ID, "tax_type_id", r.Rule.TaxTypeID, "error", err)
			return nil, err
		}
		tt, err := c.taxTypes.GetByID(ctx, line.TaxTypeID)
		if err != nil {
			return nil, err
		}
		line.TaxTypeCode = tt.Code
		line.TaxTypeName = tt.Name
		result.Taxes = append(result.Taxes, line)
		result.TotalTax = result.TotalTax.Add(line.Amount)
	}
	sort.SliceStable(result.Taxes, func(i, j int) bool {
		return result.Taxes[i].TaxTypeCode < result.Taxes[j].TaxTypeCode
	})
	result.NetAmount = result.TotalAmount.Sub(result.TotalTax)

	span.SetAttributes(attribute.Int("fiscal.tax_lines", len(result.Taxes)))
	return result, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		return OutcomeError
	}
	switch appErr.Code {
	case apperror.CodeValidation:
		return OutcomeInvalid
	case apperror.CodeRuleConflict:
		return OutcomeConflict
	case apperror.CodeFormulaEvaluation:
		return OutcomeFormula
	}
	return OutcomeError
}
