package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-dashboard/internal/config"
	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
	"bank-dashboard/internal/observability"
)

func testConfig(dir string) config.DataConfig {
	return config.DataConfig{
		Dir:              dir,
		ProfilesFile:     "customer_profiles.csv",
		TransactionsFile: "clean_transactions.csv",
		LoansFile:        "clean_loans.csv",
		CreditCardsFile:  "clean_credit_cards.csv",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// copyTestdata copies the fixture tables into a fresh directory so a test can
// break one of them.
func copyTestdata(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	entries, err := os.ReadDir("testdata")
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join("testdata", e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644))
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func loadTestdata(t *testing.T) *Store {
	t.Helper()
	s := New(testConfig("testdata"), testLogger(), nil)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestStore_Load(t *testing.T) {
	s := loadTestdata(t)

	assert.True(t, s.Loaded())
	assert.Len(t, s.Profiles(), 5)
	assert.Len(t, s.Transactions(), 5)
	assert.Len(t, s.Loans(), 6)
	assert.Len(t, s.CreditCards(), 3)
	assert.Equal(t, []string{"C1", "C2", "C3", "C4", "C5"}, s.CustomerIDs())
	assert.Len(t, s.Version(), 64)

	c1 := s.Profiles()[0]
	assert.True(t, c1.TotalBalance.Valid)
	assert.True(t, c1.TotalBalance.Decimal.Equal(decimal.NewFromInt(5000)))

	c5 := s.Profiles()[4]
	assert.False(t, c5.TotalBalance.Valid, "empty cell should be a missing value")
	assert.Equal(t, [3]float64{0, 1000, 0}, c5.Features())

	loan := s.Loans()[1]
	assert.Equal(t, "Personal", loan.LoanType)
	assert.Equal(t, 12.5, loan.InterestRate)
	assert.Equal(t, models.LoanStatusRejected, loan.Status)

	tx := s.Transactions()[0]
	assert.Equal(t, "2024-01-05 10:00:00", tx.Timestamp, "timestamps stay raw until a view parses them")
}

func TestStore_Load_UsagePercent(t *testing.T) {
	s := loadTestdata(t)
	cards := s.CreditCards()

	require.NotNil(t, cards[0].UsagePercent)
	assert.Equal(t, 90.0, *cards[0].UsagePercent)

	require.NotNil(t, cards[1].UsagePercent)
	assert.Equal(t, 3.0, *cards[1].UsagePercent)

	assert.Nil(t, cards[2].UsagePercent, "zero credit limit leaves usage undefined")
}

func TestStore_Load_HeaderNormalisation(t *testing.T) {
	s := loadTestdata(t)
	// The credit card fixture uses "Customer ID" style headers.
	assert.Equal(t, "Gold", s.CreditCards()[0].CardType)
}

func TestStore_Load_ByteOrderMark(t *testing.T) {
	dir := copyTestdata(t)
	writeFile(t, dir, "clean_loans.csv", "\ufeffcustomer_id,loan_type,amount,interest_rate,status\nC1,Auto,100,2,Approved\n")

	s := New(testConfig(dir), testLogger(), nil)
	require.NoError(t, s.Load(context.Background()))
	require.Len(t, s.Loans(), 1)
	assert.Equal(t, "C1", s.Loans()[0].CustomerID)
}

func TestStore_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		remove  bool
	}{
		{name: "missing file", file: "clean_loans.csv", remove: true},
		{name: "empty file", file: "clean_transactions.csv", content: ""},
		{
			name:    "missing column",
			file:    "clean_credit_cards.csv",
			content: "customer_id,card_type,balance\nC1,Gold,900\n",
		},
		{
			name:    "malformed amount",
			file:    "clean_loans.csv",
			content: "customer_id,loan_type,amount,interest_rate,status\nC1,Auto,lots,2,Approved\n",
		},
		{
			name:    "malformed interest rate",
			file:    "clean_loans.csv",
			content: "customer_id,loan_type,amount,interest_rate,status\nC1,Auto,100,high,Approved\n",
		},
		{
			name:    "NaN interest rate",
			file:    "clean_loans.csv",
			content: "customer_id,loan_type,amount,interest_rate,status\nC1,Auto,5000,NaN,Approved\n",
		},
		{
			name:    "infinite interest rate",
			file:    "clean_loans.csv",
			content: "customer_id,loan_type,amount,interest_rate,status\nC1,Auto,6000,+Inf,Rejected\n",
		},
		{
			name:    "duplicate customer",
			file:    "customer_profiles.csv",
			content: "customer_id,total_balance,total_loans,credit_card_balance\nC1,1,2,3\nC1,4,5,6\n",
		},
		{
			name:    "ragged row",
			file:    "customer_profiles.csv",
			content: "customer_id,total_balance,total_loans,credit_card_balance\nC1,1,2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := copyTestdata(t)
			if tt.remove {
				require.NoError(t, os.Remove(filepath.Join(dir, tt.file)))
			} else {
				writeFile(t, dir, tt.file, tt.content)
			}

			s := New(testConfig(dir), testLogger(), nil)
			err := s.Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeLoad), "got %v", err)
			assert.False(t, s.Loaded())
		})
	}
}

func TestStore_Load_ExtraColumns(t *testing.T) {
	dir := copyTestdata(t)
	writeFile(t, dir, "clean_loans.csv",
		"Loan ID,customer_id,loan_type,amount,interest_rate,status,Start Date\n"+
			"L1,C1,Mortgage,200000,3.5,Approved,2023-02-01\n")

	s := New(testConfig(dir), testLogger(), nil)
	require.NoError(t, s.Load(context.Background()))

	loans := s.Loans()
	require.Len(t, loans, 1)
	assert.Equal(t, []models.Field{
		{Name: "loan_id", Value: "L1"},
		{Name: "start_date", Value: "2023-02-01"},
	}, loans[0].Extra)
	assert.Nil(t, s.Profiles()[0].Extra)
}

func TestStore_Load_CellErrorLocation(t *testing.T) {
	dir := copyTestdata(t)
	writeFile(t, dir, "clean_credit_cards.csv", "customer_id,card_type,balance,credit_limit\nC1,Gold,900,1000\nC2,Silver,abc,5000\n")

	err := New(testConfig(dir), testLogger(), nil).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "balance")
	assert.Contains(t, err.Error(), string(errors.CodeParse))
}

func TestStore_Load_FailedReloadKeepsTables(t *testing.T) {
	dir := copyTestdata(t)
	s := New(testConfig(dir), testLogger(), nil)
	require.NoError(t, s.Load(context.Background()))
	version := s.Version()

	require.NoError(t, os.Remove(filepath.Join(dir, "clean_loans.csv")))
	require.Error(t, s.Load(context.Background()))

	assert.Equal(t, version, s.Version())
	assert.Len(t, s.Loans(), 6)
}

func TestStore_Load_VersionTracksContent(t *testing.T) {
	dir := copyTestdata(t)
	s := New(testConfig(dir), testLogger(), nil)
	require.NoError(t, s.Load(context.Background()))
	first := s.Version()

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, first, s.Version(), "same files give the same version")

	writeFile(t, dir, "clean_loans.csv", "customer_id,loan_type,amount,interest_rate,status\nC1,Auto,100,2,Approved\n")
	require.NoError(t, s.Load(context.Background()))
	assert.NotEqual(t, first, s.Version())
}

func TestStore_Load_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(testConfig("testdata"), testLogger(), nil).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Load_Metrics(t *testing.T) {
	metrics := observability.NewMetrics()
	s := New(testConfig("testdata"), testLogger(), metrics)
	require.NoError(t, s.Load(context.Background()))

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	rows := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "bank_dashboard_table_rows" {
			continue
		}
		for _, m := range mf.GetMetric() {
			rows[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		TableProfiles:     5,
		TableTransactions: 5,
		TableLoans:        6,
		TableCreditCards:  3,
	}, rows)
}

func TestStore_SetTables(t *testing.T) {
	s := New(config.DataConfig{}, testLogger(), nil)
	stale := 12.0

	err := s.SetTables(Tables{
		Profiles: []models.CustomerProfile{{CustomerID: "A"}, {CustomerID: "B"}},
		CreditCards: []models.CreditCard{
			{CustomerID: "A", Balance: decimal.NewFromInt(50), CreditLimit: decimal.NewFromInt(200), UsagePercent: &stale},
		},
	})
	require.NoError(t, err)

	assert.True(t, s.Loaded())
	assert.Equal(t, []string{"A", "B"}, s.CustomerIDs())
	require.NotNil(t, s.CreditCards()[0].UsagePercent)
	assert.Equal(t, 25.0, *s.CreditCards()[0].UsagePercent, "usage is always derived")
	assert.Len(t, s.Version(), 64)

	first := s.Version()
	require.NoError(t, s.SetTables(Tables{Profiles: []models.CustomerProfile{{CustomerID: "A"}}}))
	assert.NotEqual(t, first, s.Version())
}

func TestStore_SetTables_Duplicate(t *testing.T) {
	s := New(config.DataConfig{}, testLogger(), nil)
	err := s.SetTables(Tables{
		Profiles: []models.CustomerProfile{{CustomerID: "A"}, {CustomerID: "A"}},
	})
	assert.True(t, errors.HasCode(err, errors.CodeLoad))
	assert.False(t, s.Loaded())
}

func TestUsagePercent(t *testing.T) {
	tests := []struct {
		balance, limit int64
		want           float64
		wantErr        bool
	}{
		{balance: 900, limit: 1000, want: 90},
		{balance: 0, limit: 1000, want: 0},
		{balance: 1500, limit: 1000, want: 150},
		{balance: 100, limit: 0, wantErr: true},
	}

	for _, tt := range tests {
		got, err := UsagePercent(decimal.NewFromInt(tt.balance), decimal.NewFromInt(tt.limit))
		if tt.wantErr {
			assert.True(t, errors.HasCode(err, errors.CodeDivisionByZero))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStore_Stats(t *testing.T) {
	s := loadTestdata(t)
	stats := s.Stats()

	assert.Equal(t, true, stats["loaded"])
	assert.Equal(t, 5, stats["profiles"])
	assert.Equal(t, 6, stats["loans"])
	assert.Equal(t, s.Version(), stats["version"])
}

func TestNormalizeColumn(t *testing.T) {
	tests := map[string]string{
		"customer_id":   "customer_id",
		" Credit Limit": "credit_limit",
		"Card-Type":     "card_type",
		"AMOUNT":        "amount",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeColumn(in), in)
	}
}
