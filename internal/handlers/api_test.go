package handlers

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bank-dashboard/internal/config"
	"bank-dashboard/internal/models"
	"bank-dashboard/internal/services"
	"bank-dashboard/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func testTables() store.Tables {
	return store.Tables{
		Profiles: []models.CustomerProfile{
			{CustomerID: "C1", TotalBalance: nullDec("5000"), TotalLoans: nullDec("215000"), CreditCardBalance: nullDec("900")},
			{CustomerID: "C2", TotalBalance: nullDec("12000"), TotalLoans: nullDec("25000"), CreditCardBalance: nullDec("150")},
			{CustomerID: "C3", TotalBalance: nullDec("300"), TotalLoans: nullDec("45000"), CreditCardBalance: nullDec("2500")},
			{CustomerID: "C4", TotalBalance: nullDec("80000"), TotalLoans: nullDec("350000"), CreditCardBalance: nullDec("100")},
		},
		Transactions: []models.Transaction{
			{AccountID: "C1", Timestamp: "2024-01-05 10:00:00", Amount: dec("100")},
			{AccountID: "C1", Timestamp: "2024-01-06", Amount: dec("250")},
		},
		Loans: []models.Loan{
			{CustomerID: "C1", LoanType: "Mortgage", Amount: dec("200000"), InterestRate: 3.5, Status: models.LoanStatusApproved},
			{CustomerID: "C1", LoanType: "Personal", Amount: dec("15000"), InterestRate: 12.5, Status: models.LoanStatusRejected},
			{CustomerID: "C2", LoanType: "Auto", Amount: dec("25000"), InterestRate: 5, Status: models.LoanStatusApproved},
			{CustomerID: "C3", LoanType: "Personal", Amount: dec("40000"), InterestRate: 18, Status: models.LoanStatusRejected},
		},
		CreditCards: []models.CreditCard{
			{CustomerID: "C1", CardType: "Gold", Balance: dec("900"), CreditLimit: dec("1000")},
			{CustomerID: "C2", CardType: "Silver", Balance: dec("150"), CreditLimit: dec("5000")},
		},
	}
}

func analyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		Segments: 4, Seed: 42, KMeansMaxIter: 300, KMeansTolerance: 1e-4, KMeansInit: 1,
		Estimators: 25, HighUsageThreshold: 80, HistogramBins: 10,
	}
}

func createTestAnalyticsFrom(t *testing.T, tables store.Tables) *services.Analytics {
	t.Helper()
	s := store.New(config.DataConfig{}, testLogger(), nil)
	if err := s.SetTables(tables); err != nil {
		t.Fatalf("SetTables() error = %v", err)
	}
	return services.NewAnalytics(s, analyticsConfig(), nil, testLogger())
}

func createTestAnalytics(t *testing.T) *services.Analytics {
	return createTestAnalyticsFrom(t, testTables())
}

// get calls handler with the {id} path value set, as the mux would.
func get(handler http.HandlerFunc, target, id string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if id != "" {
		r.SetPathValue("id", id)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return env
}

func TestNewAPIHandlers(t *testing.T) {
	analytics := createTestAnalytics(t)
	logger := slog.Default()
	handlers := NewAPIHandlers(analytics, logger)

	if handlers == nil {
		t.Fatal("NewAPIHandlers() returned nil")
	}
	if handlers.analytics != analytics {
		t.Error("NewAPIHandlers() should set analytics field")
	}
	if handlers.logger != logger {
		t.Error("NewAPIHandlers() should set logger field")
	}
}

func TestAPIHandlers_HandleCustomers(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleCustomers, "/api/customers", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cc := w.Header().Get("Cache-Control"); cc != cacheControl {
		t.Errorf("cache-control = %q, want %q", cc, cacheControl)
	}

	var ids []string
	if err := json.Unmarshal(decode(t, w).Data, &ids); err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "C1,C2,C3,C4" {
		t.Errorf("ids = %v", ids)
	}
}

func TestAPIHandlers_HandleCustomerView(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())

	tests := []struct {
		id        string
		found     bool
		loans     int
		highUsage bool
	}{
		{"C1", true, 2, true},
		{"C2", true, 1, false},
		{"nobody", false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := get(h.HandleCustomerView, "/api/customers/"+tt.id, tt.id)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}

			var v models.CustomerView
			if err := json.Unmarshal(decode(t, w).Data, &v); err != nil {
				t.Fatal(err)
			}
			if (v.Profile != nil) != tt.found {
				t.Errorf("profile present = %v, want %v", v.Profile != nil, tt.found)
			}
			if len(v.Loans) != tt.loans {
				t.Errorf("loans = %d, want %d", len(v.Loans), tt.loans)
			}
			if v.HighUsageAlert != tt.highUsage {
				t.Errorf("high usage alert = %v, want %v", v.HighUsageAlert, tt.highUsage)
			}
		})
	}
}

func TestAPIHandlers_HandleCustomerSegment(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())

	w := get(h.HandleCustomerSegment, "/api/customers/C1/segment", "C1")
	var seg models.CustomerSegment
	if err := json.Unmarshal(decode(t, w).Data, &seg); err != nil {
		t.Fatal(err)
	}
	if seg.CustomerID != "C1" || seg.K != 4 || seg.Segment < 0 || seg.Segment >= 4 {
		t.Errorf("segment = %+v", seg)
	}

	w = get(h.HandleCustomerSegment, "/api/customers/nobody/segment", "nobody")
	if data := string(decode(t, w).Data); data != "null" {
		t.Errorf("unknown customer data = %s, want null", data)
	}
}

func TestAPIHandlers_InsufficientData(t *testing.T) {
	tables := testTables()
	tables.Profiles = tables.Profiles[:2]
	tables.Loans = tables.Loans[:0]
	h := NewAPIHandlers(createTestAnalyticsFrom(t, tables), testLogger())

	tests := []struct {
		name    string
		handler http.HandlerFunc
		target  string
		id      string
	}{
		{"segments", h.HandleSegments, "/api/segments", ""},
		{"customer segment", h.HandleCustomerSegment, "/api/customers/C1/segment", "C1"},
		{"risk", h.HandleCustomerRisk, "/api/customers/C1/risk", "C1"},
		{"scatter", h.HandleSegmentScatter, "/api/charts/segments", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(tt.handler, tt.target, tt.id)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
			}
			env := decode(t, w)
			if env.Success || env.Error == nil || env.Error.Code != "INSUFFICIENT_DATA" {
				t.Errorf("response = %+v, want INSUFFICIENT_DATA error", env)
			}
		})
	}

	// The dashboard still renders with the failures reported per section.
	w := get(h.HandleDashboard, "/api/customers/C1/dashboard", "C1")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"segment_error"`) || !strings.Contains(body, `"risk_error"`) {
		t.Errorf("dashboard should report section errors, got %s", body)
	}
}

func TestAPIHandlers_HandleCustomerRisk(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleCustomerRisk, "/api/customers/C1/risk", "C1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var lr models.LoanRisk
	if err := json.Unmarshal(decode(t, w).Data, &lr); err != nil {
		t.Fatal(err)
	}
	if len(lr.Predictions) != 2 {
		t.Errorf("predictions = %d, want 2", len(lr.Predictions))
	}
	if lr.TrainingSize != 4 {
		t.Errorf("training size = %d, want 4", lr.TrainingSize)
	}
}

func TestAPIHandlers_HandleReport(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleReport, "/api/customers/C1/report.csv", "C1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content-type = %q, want text/csv", ct)
	}
	want := `attachment; filename="customer_C1_report.csv"`
	if cd := w.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("content-disposition = %q, want %q", cd, want)
	}

	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want header plus 4", len(rows))
	}
	sections := []string{rows[1][4], rows[2][4], rows[3][4], rows[4][4]}
	if strings.Join(sections, "|") != "Profile|Loans|Loans|Credit Cards" {
		t.Errorf("sections = %v", sections)
	}
	if got := rows[4][len(rows[4])-1]; got != "90" {
		t.Errorf("usage_percent = %q, want 90", got)
	}
}

func TestAPIHandlers_HandleReport_UnknownCustomer(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleReport, "/api/customers/nobody/report.csv", "nobody")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want only the header", len(rows))
	}
}

func TestAPIHandlers_ParseError(t *testing.T) {
	tables := testTables()
	tables.Transactions = append(tables.Transactions, models.Transaction{AccountID: "C1", Timestamp: "not-a-time", Amount: dec("1")})
	h := NewAPIHandlers(createTestAnalyticsFrom(t, tables), testLogger())

	w := get(h.HandleCustomerView, "/api/customers/C1", "C1")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if env := decode(t, w); env.Error == nil || env.Error.Code != "PARSE_ERROR" {
		t.Errorf("error = %+v, want PARSE_ERROR", env.Error)
	}
}

func TestAPIHandlers_HandleBalanceDistribution(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleBalanceDistribution, "/api/charts/balance-distribution", "")

	var chart struct {
		ChartType string `json:"chartType"`
		Series    []struct {
			Data []struct {
				Value float64 `json:"value"`
			} `json:"data"`
		} `json:"series"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &chart); err != nil {
		t.Fatal(err)
	}
	if chart.ChartType != "histogram" || len(chart.Series) != 1 || len(chart.Series[0].Data) != 10 {
		t.Errorf("chart = %+v", chart)
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	w := get(h.HandleHealth, "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var health map[string]string
	if err := json.Unmarshal(decode(t, w).Data, &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", health["status"])
	}
	if _, ok := health["timestamp"]; !ok {
		t.Error("health response should include timestamp")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("health should not be cached, got %q", cc)
	}
}

func TestAPIHandlers_HandleStats(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())
	get(h.HandleCustomerView, "/api/customers/C1", "C1")
	w := get(h.HandleStats, "/admin/stats", "")

	var stats map[string]any
	if err := json.Unmarshal(decode(t, w).Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats["profiles"] != float64(4) {
		t.Errorf("profiles = %v, want 4", stats["profiles"])
	}
	if stats["requests"] != float64(1) {
		t.Errorf("requests = %v, want 1", stats["requests"])
	}
	if stats["loaded"] != true {
		t.Errorf("loaded = %v, want true", stats["loaded"])
	}
}

func TestAPIHandlers_ResponseFormat(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(t), testLogger())

	endpoints := map[string]http.HandlerFunc{
		"customers":  h.HandleCustomers,
		"view":       h.HandleCustomerView,
		"dashboard":  h.HandleDashboard,
		"segment":    h.HandleCustomerSegment,
		"segments":   h.HandleSegments,
		"scatter":    h.HandleSegmentScatter,
		"risk":       h.HandleCustomerRisk,
		"histogram":  h.HandleBalanceDistribution,
		"health":     h.HandleHealth,
		"statistics": h.HandleStats,
	}

	for name, handler := range endpoints {
		t.Run(name, func(t *testing.T) {
			w := get(handler, "/", "C1")
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q, want application/json", ct)
			}
			if env := decode(t, w); !env.Success {
				t.Errorf("success = false, error = %+v", env.Error)
			}
		})
	}
}
