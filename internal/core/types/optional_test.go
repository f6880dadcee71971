package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional_JSON(t *testing.T) {
	var got struct {
		UF   Optional[string] `json:"uf"`
		Code Optional[string] `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"uf":"SP","code":null}`), &got))

	uf, ok := got.UF.Get()
	assert.True(t, ok)
	assert.Equal(t, "SP", uf)
	assert.False(t, got.Code.IsSet())

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uf":"SP","code":null}`, string(out))
}

func TestPatch_TriState(t *testing.T) {
	var p struct {
		A Patch[string] `json:"a"`
		B Patch[string] `json:"b"`
		C Patch[string] `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":null}`), &p))

	cur := Some("old")
	assert.Equal(t, Some("x"), p.A.Apply(cur))
	assert.Equal(t, None[string](), p.B.Apply(cur))
	assert.Equal(t, cur, p.C.Apply(cur))
}

func TestRoundMoney_HalfUp(t *testing.T) {
	assert.Equal(t, "2.68", RoundMoney(MustMoney("2.675")).StringFixed(2))
	assert.Equal(t, "40.00", RoundMoney(MustMoney("40")).StringFixed(2))
	assert.Equal(t, "0.01", RoundMoney(MustMoney("0.005")).StringFixed(2))
	assert.Equal(t, "0.00", RoundMoney(MustMoney("0.0049")).StringFixed(2))
}
