package rule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/entity"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/core/types"
)

var (
	regimeSimples = id.MustParse("0190a000-0000-7000-8000-000000000001")
	taxICMS       = id.MustParse("0190a000-0000-7000-8000-0000000000a1")
	taxISS        = id.MustParse("0190a000-0000-7000-8000-0000000000a2")
	rawMaterial   = id.MustParse("0190a000-0000-7000-8000-0000000000c1")
	jan2025       = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newRule(taxType id.ID, priority int, c Criteria) *Rule {
	return &Rule{
		BaseEntity: entity.NewBaseEntity(),
		OrgID:      id.New(),
		RegimeID:   regimeSimples,
		TaxTypeID:  taxType,
		Operation:  OpSale,
		Criteria:   c,
		Recipe:     Percentage{Rate: decimal.NewFromInt(4)},
		IsActive:   true,
		Priority:   priority,
		ValidFrom:  jan2025,
	}
}

func saleQuery(s Subject) Query {
	return Query{
		RegimeID:  regimeSimples,
		Operation: OpSale,
		Subject:   s,
		At:        time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestMatch(t *testing.T) {
	subject := Subject{
		OriginUF:         types.Some("SP"),
		DestinationUF:    types.Some("RJ"),
		ClassificationID: types.Some(rawMaterial),
	}

	tests := []struct {
		name      string
		criteria  Criteria
		subject   Subject
		wantOK    bool
		wantScore int
	}{
		{"all wildcards", Criteria{}, subject, true, 0},
		{"origin only", Criteria{OriginUF: types.Some("SP")}, subject, true, 1},
		{"fully specific", Criteria{
			OriginUF:         types.Some("SP"),
			DestinationUF:    types.Some("RJ"),
			ClassificationID: types.Some(rawMaterial),
		}, subject, true, 3},
		{"origin differs", Criteria{OriginUF: types.Some("MG")}, subject, false, 0},
		{"subject lacks required field", Criteria{DestinationUF: types.Some("RJ")}, Subject{}, false, 0},
		{"wildcard matches absent subject field", Criteria{}, Subject{}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, score := Match(tt.criteria, tt.subject)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestResolve_SpecificBeatsWildcardRegardlessOfPriority(t *testing.T) {
	wildcard := newRule(taxICMS, 1, Criteria{})
	specific := newRule(taxICMS, 99, Criteria{OriginUF: types.Some("SP")})

	got, err := Resolve([]*Rule{wildcard, specific}, saleQuery(Subject{OriginUF: types.Some("SP")}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, specific.ID, got[0].Rule.ID)
	assert.Equal(t, 1, got[0].Specificity)
}

func TestResolve_PriorityThenRecency(t *testing.T) {
	low := newRule(taxICMS, 1, Criteria{})
	high := newRule(taxICMS, 5, Criteria{})

	got, err := Resolve([]*Rule{high, low}, saleQuery(Subject{}))
	require.NoError(t, err)
	assert.Equal(t, low.ID, got[0].Rule.ID)

	older := newRule(taxICMS, 1, Criteria{})
	newer := newRule(taxICMS, 1, Criteria{})
	newer.ValidFrom = jan2025.AddDate(0, 1, 0)

	got, err = Resolve([]*Rule{older, newer}, saleQuery(Subject{}))
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got[0].Rule.ID)
}

func TestResolve_FullTieIsConflict(t *testing.T) {
	a := newRule(taxICMS, 1, Criteria{OriginUF: types.Some("SP")})
	b := newRule(taxICMS, 1, Criteria{DestinationUF: types.Some("RJ")})

	_, err := Resolve([]*Rule{a, b}, saleQuery(Subject{OriginUF: types.Some("SP"), DestinationUF: types.Some("RJ")}))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeRuleConflict))

	appErr, _ := apperror.AsAppError(err)
	assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, appErr.Details["rule_ids"])
}

func TestResolve_FiltersAndGroups(t *testing.T) {
	icms := newRule(taxICMS, 1, Criteria{})
	iss := newRule(taxISS, 1, Criteria{})

	inactive := newRule(taxICMS, 0, Criteria{})
	inactive.IsActive = false

	expired := newRule(taxICMS, 0, Criteria{})
	expiredTo := jan2025.AddDate(0, 2, 0)
	expired.ValidTo = &expiredTo

	future := newRule(taxICMS, 0, Criteria{})
	future.ValidFrom = jan2025.AddDate(1, 0, 0)

	purchase := newRule(taxICMS, 0, Criteria{})
	purchase.Operation = OpPurchase

	otherRegime := newRule(taxICMS, 0, Criteria{})
	otherRegime.RegimeID = id.New()

	got, err := Resolve([]*Rule{inactive, expired, future, purchase, otherRegime, iss, icms}, saleQuery(Subject{}))
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []id.ID{got[0].Rule.ID, got[1].Rule.ID}
	assert.ElementsMatch(t, []id.ID{icms.ID, iss.ID}, ids)
}

func TestResolve_NoCandidateIsNotAnError(t *testing.T) {
	r := newRule(taxICMS, 1, Criteria{OriginUF: types.Some("MG")})

	got, err := Resolve([]*Rule{r}, saleQuery(Subject{OriginUF: types.Some("SP")}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_Deterministic(t *testing.T) {
	rules := []*Rule{
		newRule(taxICMS, 3, Criteria{}),
		newRule(taxICMS, 2, Criteria{OriginUF: types.Some("SP")}),
		newRule(taxISS, 1, Criteria{}),
	}
	q := saleQuery(Subject{OriginUF: types.Some("SP")})

	first, err := Resolve(rules, q)
	require.NoError(t, err)
	reversed := []*Rule{rules[2], rules[1], rules[0]}
	second, err := Resolve(reversed, q)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Rule.ID, second[i].Rule.ID)
	}
}
