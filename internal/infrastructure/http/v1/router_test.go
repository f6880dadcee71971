package v1_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfiscal/internal/app"
	"shopfiscal/internal/core/id"
	"shopfiscal/internal/domain/auth"
	v1 "shopfiscal/internal/infrastructure/http/v1"
	"shopfiscal/internal/infrastructure/metrics"
	"shopfiscal/pkg/logger"
)

var orgID = id.MustParse("0190f100-0000-7000-8000-000000000001")

type server struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTService
	token  string
}

func newServer(t *testing.T) *server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine := app.NewMemoryEngine(app.Options{Metrics: m})
	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))

	router := v1.NewRouter(v1.RouterConfig{
		Engine:       engine,
		Logger:       logger.Nop(),
		JWTValidator: jwtSvc,
		Metrics:      m,
		Gatherer:     reg,
	})

	s := &server{t: t, router: router, jwt: jwtSvc}
	s.token = s.issue(auth.TokenRequest{
		UserID: "accountant-1",
		Roles:  []string{v1.RoleCatalogAdmin},
		OrgIDs: []string{orgID.String()},
	})
	return s
}

func (s *server) issue(req auth.TokenRequest) string {
	s.t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(req)
	require.NoError(s.t, err)
	return token
}

func (s *server) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func orgPath(suffix string) string {
	return "/api/v1/orgs/" + orgID.String() + suffix
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestAuth(t *testing.T) {
	s := newServer(t)

	t.Run("missing token", func(t *testing.T) {
		w := s.do(http.MethodGet, orgPath("/rules"), nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decode(t, w)["code"])
	})

	t.Run("other organization", func(t *testing.T) {
		token := s.issue(auth.TokenRequest{UserID: "u-2", OrgIDs: []string{id.New().String()}})
		w := s.do(http.MethodGet, orgPath("/rules"), nil, token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("malformed org id", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/v1/orgs/not-a-uuid/rules", nil, s.token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("catalog creation needs role", func(t *testing.T) {
		token := s.issue(auth.TokenRequest{UserID: "u-3", OrgIDs: []string{orgID.String()}})
		w := s.do(http.MethodPost, "/api/v1/catalog/regimes", map[string]string{"code": "X", "name": "X"}, token)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(http.MethodGet, "/api/v1/catalog/regimes", nil, token)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCalculateValidation(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, orgPath("/calculations"),
		map[string]any{"operation": "venda", "amount": "0", "regimeId": id.New().String()}, s.token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])

	w = s.do(http.MethodPost, orgPath("/calculations"), "{not json", s.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeriodClose_EmptyPeriodIsRefusedWith200(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, orgPath("/periods/2025/3/close"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])

	w = s.do(http.MethodPost, orgPath("/periods/2025/13/close"), nil, s.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFiscalFlow(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/catalog/regimes", map[string]string{"code": "SIMPLES", "name": "Simples Nacional"}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	regimeID := decode(t, w)["id"].(string)

	w = s.do(http.MethodPost, "/api/v1/catalog/tax-types", map[string]string{"code": "ICMS", "name": "ICMS"}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	taxTypeID := decode(t, w)["id"].(string)

	w = s.do(http.MethodPost, "/api/v1/catalog/tax-types", map[string]string{"code": "icms", "name": "dup"}, s.token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, orgPath("/settings"), map[string]any{
		"orgName":       "Loja Centro",
		"state":         "SP",
		"regimeId":      regimeID,
		"effectiveFrom": "2025-01-01",
	}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, orgPath("/settings"), map[string]any{
		"orgName":       "Loja Centro",
		"regimeId":      regimeID,
		"effectiveFrom": "2025-06-01",
	}, s.token)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SETTING_OVERLAP", decode(t, w)["code"])

	w = s.do(http.MethodGet, orgPath("/settings/effective?at=2025-03-10"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, regimeID, decode(t, w)["regimeId"])

	w = s.do(http.MethodPost, orgPath("/rules"), map[string]any{
		"regimeId":   regimeID,
		"taxTypeId":  taxTypeID,
		"operation":  "venda",
		"calcMethod": "percentual",
		"rate":       "18",
		"validFrom":  "2025-01-01",
	}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ruleID := decode(t, w)["id"].(string)

	w = s.do(http.MethodPost, orgPath("/calculations"), map[string]any{
		"operation":     "venda",
		"amount":        "1000.00",
		"effectiveDate": "2025-03-10",
	}, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := json.RawMessage(w.Body.Bytes())
	calc := decode(t, w)
	total, err := decimal.NewFromString(calc["totalTax"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(180)), total.String())

	w = s.do(http.MethodPost, orgPath("/calculations/post"), map[string]any{
		"result": result,
		"period": map[string]int{"month": 3, "year": 2025},
	}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, orgPath("/calculations/summary?month=3&year=2025"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["totalOperations"])

	// Referenced by a posting: only deactivation is allowed.
	w = s.do(http.MethodDelete, orgPath("/rules/"+ruleID), nil, s.token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, orgPath("/periods/2025/3/close"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])

	w = s.do(http.MethodPost, orgPath("/periods/2025/3/close"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code)
	refused := decode(t, w)
	assert.Equal(t, false, refused["success"])
	assert.Equal(t, "LEDGER_CLOSED", refused["error"].(map[string]any)["code"])

	w = s.do(http.MethodGet, orgPath("/ledgers?status=fechado"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["totalCount"])

	w = s.do(http.MethodPost, orgPath("/ledgers/reopen"), map[string]any{
		"taxTypeId": taxTypeID,
		"regimeId":  regimeID,
		"month":     3,
		"year":      2025,
	}, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "aberto", decode(t, w)["status"])

	w = s.do(http.MethodPost, orgPath("/rules/"+ruleID+"/deactivate"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["isActive"])

	w = s.do(http.MethodGet, orgPath("/audit?table_name=fiscal_tax_rules"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	trail := decode(t, w)
	assert.EqualValues(t, 2, trail["totalCount"])
	for _, item := range trail["items"].([]any) {
		entry := item.(map[string]any)
		assert.Equal(t, "accountant-1", entry["userId"])
		assert.Equal(t, true, entry["verified"])
	}

	w = s.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "fiscal_calculations_total"))
	assert.True(t, strings.Contains(w.Body.String(), "fiscal_http_request_duration_seconds"))
}

func TestObligationRoutes(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/catalog/obligation-kinds",
		map[string]string{"code": "EFD", "name": "EFD ICMS/IPI", "periodicity": "monthly"}, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	kindID := decode(t, w)["id"].(string)

	body := map[string]any{"obligationKindId": kindID, "month": 4, "year": 2025}
	w = s.do(http.MethodPost, orgPath("/obligations"), body, s.token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	obligationID := decode(t, w)["id"].(string)

	w = s.do(http.MethodPost, orgPath("/obligations"), body, s.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, obligationID, decode(t, w)["id"])

	w = s.do(http.MethodPost, orgPath("/obligations/"+obligationID+"/transition"),
		map[string]any{"status": "enviado"}, s.token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w)["code"])

	w = s.do(http.MethodPost, orgPath("/obligations/"+obligationID+"/transition"),
		map[string]any{"status": "erro", "errorMessage": "schema rejected"}, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "erro", decode(t, w)["status"])

	w = s.do(http.MethodPost, orgPath("/obligations/"+obligationID+"/retry"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "rascunho", decode(t, w)["status"])

	w = s.do(http.MethodGet, orgPath("/obligations?status=rascunho&month=4&year=2025"), nil, s.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["totalCount"])
}
