package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bank-dashboard/internal/config"
	"bank-dashboard/internal/errors"
	"bank-dashboard/internal/models"
	"bank-dashboard/internal/observability"
)

const (
	TableProfiles     = "customer_profiles"
	TableTransactions = "transactions"
	TableLoans        = "loans"
	TableCreditCards  = "credit_cards"
)

var (
	profileColumns     = []string{"customer_id", "total_balance", "total_loans", "credit_card_balance"}
	transactionColumns = []string{"account_id", "timestamp", "amount"}
	loanColumns        = []string{"customer_id", "loan_type", "amount", "interest_rate", "status"}
	creditCardColumns  = []string{"customer_id", "card_type", "balance", "credit_limit"}
)

var hundred = decimal.NewFromInt(100)

// Tables is the full dataset held by a Store.
type Tables struct {
	Profiles     []models.CustomerProfile
	Transactions []models.Transaction
	Loans        []models.Loan
	CreditCards  []models.CreditCard
}

// Store holds the four source tables in memory. It is populated once by Load
// (or SetTables) and read-only afterwards; a later Load replaces the tables
// and the version atomically.
type Store struct {
	mu       sync.RWMutex
	cfg      config.DataConfig
	tables   Tables
	ids      []string
	version  string
	loaded   bool
	loadedAt time.Time
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func New(cfg config.DataConfig, logger *slog.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Load reads and validates the four tables in parallel. Any missing file,
// missing column or malformed cell fails the whole load with a LOAD_ERROR and
// leaves previously loaded tables untouched.
func (s *Store) Load(ctx context.Context) error {
	start := time.Now()

	var (
		tables  Tables
		digests [4][]byte
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		data, digest, err := readFile(ctx, s.cfg.Path(s.cfg.ProfilesFile), TableProfiles)
		if err != nil {
			return err
		}
		digests[0] = digest
		tables.Profiles, err = parseProfiles(data)
		return err
	})

	g.Go(func() error {
		data, digest, err := readFile(ctx, s.cfg.Path(s.cfg.TransactionsFile), TableTransactions)
		if err != nil {
			return err
		}
		digests[1] = digest
		tables.Transactions, err = parseTransactions(data)
		return err
	})

	g.Go(func() error {
		data, digest, err := readFile(ctx, s.cfg.Path(s.cfg.LoansFile), TableLoans)
		if err != nil {
			return err
		}
		digests[2] = digest
		tables.Loans, err = parseLoans(data)
		return err
	})

	g.Go(func() error {
		data, digest, err := readFile(ctx, s.cfg.Path(s.cfg.CreditCardsFile), TableCreditCards)
		if err != nil {
			return err
		}
		digests[3] = digest
		tables.CreditCards, err = parseCreditCards(data)
		return err
	})

	if err := g.Wait(); err != nil {
		s.metrics.ObserveStage("load", time.Since(start), string(errors.CodeOf(err)))
		return err
	}

	h := sha256.New()
	for _, d := range digests {
		h.Write(d)
	}

	if err := s.install(tables, hex.EncodeToString(h.Sum(nil))); err != nil {
		s.metrics.ObserveStage("load", time.Since(start), string(errors.CodeOf(err)))
		return err
	}

	duration := time.Since(start)
	s.metrics.ObserveStage("load", duration, "")
	s.logger.Info("dataset loaded",
		"profiles", len(tables.Profiles),
		"transactions", len(tables.Transactions),
		"loans", len(tables.Loans),
		"credit_cards", len(tables.CreditCards),
		"version", s.Version(),
		"duration", duration,
	)

	return nil
}

// SetTables installs in-memory tables, deriving usage percentages and the
// dataset version exactly as Load does.
func (s *Store) SetTables(tables Tables) error {
	tables.CreditCards = append([]models.CreditCard(nil), tables.CreditCards...)
	for i := range tables.CreditCards {
		tables.CreditCards[i].UsagePercent = nil
	}

	encoded, err := json.Marshal(tables)
	if err != nil {
		return errors.LoadWrap(err, "encode tables")
	}
	sum := sha256.Sum256(encoded)

	return s.install(tables, hex.EncodeToString(sum[:]))
}

func (s *Store) install(tables Tables, version string) error {
	ids := make([]string, 0, len(tables.Profiles))
	seen := make(map[string]struct{}, len(tables.Profiles))
	for _, p := range tables.Profiles {
		if _, dup := seen[p.CustomerID]; dup {
			return errors.Load(fmt.Sprintf("%s: duplicate customer_id %q", TableProfiles, p.CustomerID))
		}
		seen[p.CustomerID] = struct{}{}
		ids = append(ids, p.CustomerID)
	}

	undefined := deriveUsage(tables.CreditCards)
	if undefined > 0 {
		s.logger.Warn("credit cards with zero credit limit have no usage percent",
			"cards", undefined,
		)
	}

	s.mu.Lock()
	s.tables = tables
	s.ids = ids
	s.version = version
	s.loaded = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	s.metrics.SetTableRows(TableProfiles, len(tables.Profiles))
	s.metrics.SetTableRows(TableTransactions, len(tables.Transactions))
	s.metrics.SetTableRows(TableLoans, len(tables.Loans))
	s.metrics.SetTableRows(TableCreditCards, len(tables.CreditCards))

	return nil
}

// UsagePercent computes balance / limit * 100. A zero limit yields a
// DIVISION_BY_ZERO error instead of an infinite or NaN value.
func UsagePercent(balance, limit decimal.Decimal) (float64, error) {
	if limit.IsZero() {
		return 0, errors.DivisionByZero("credit limit is zero")
	}
	return balance.Div(limit).Mul(hundred).InexactFloat64(), nil
}

// deriveUsage fills UsagePercent in place and returns how many cards were
// left without one.
func deriveUsage(cards []models.CreditCard) int {
	undefined := 0
	for i := range cards {
		usage, err := UsagePercent(cards[i].Balance, cards[i].CreditLimit)
		if err != nil {
			cards[i].UsagePercent = nil
			undefined++
			continue
		}
		cards[i].UsagePercent = &usage
	}
	return undefined
}

func (s *Store) Profiles() []models.CustomerProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables.Profiles
}

func (s *Store) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables.Transactions
}

func (s *Store) Loans() []models.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables.Loans
}

func (s *Store) CreditCards() []models.CreditCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables.CreditCards
}

// CustomerIDs returns profile identifiers in file order.
func (s *Store) CustomerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids
}

// Version identifies the loaded dataset; it changes whenever the content of
// any table changes.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"loaded":       s.loaded,
		"loaded_at":    s.loadedAt,
		"version":      s.version,
		"profiles":     len(s.tables.Profiles),
		"transactions": len(s.tables.Transactions),
		"loans":        len(s.tables.Loans),
		"credit_cards": len(s.tables.CreditCards),
	}
}

func readFile(ctx context.Context, path, name string) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.LoadWrap(err, fmt.Sprintf("%s: open %s", name, path))
	}
	sum := sha256.Sum256(data)
	return data, sum[:], nil
}

func parseProfiles(data []byte) ([]models.CustomerProfile, error) {
	t, err := parseTable(TableProfiles, data, profileColumns)
	if err != nil {
		return nil, err
	}

	profiles := make([]models.CustomerProfile, 0, len(t.rows))
	for i := range t.rows {
		p := models.CustomerProfile{CustomerID: t.value(i, "customer_id"), Extra: t.extra(i)}
		if p.TotalBalance, err = t.nullDecimal(i, "total_balance"); err != nil {
			return nil, err
		}
		if p.TotalLoans, err = t.nullDecimal(i, "total_loans"); err != nil {
			return nil, err
		}
		if p.CreditCardBalance, err = t.nullDecimal(i, "credit_card_balance"); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func parseTransactions(data []byte) ([]models.Transaction, error) {
	t, err := parseTable(TableTransactions, data, transactionColumns)
	if err != nil {
		return nil, err
	}

	txns := make([]models.Transaction, 0, len(t.rows))
	for i := range t.rows {
		amount, err := t.decimal(i, "amount")
		if err != nil {
			return nil, err
		}
		txns = append(txns, models.Transaction{
			AccountID: t.value(i, "account_id"),
			Timestamp: t.value(i, "timestamp"),
			Amount:    amount,
		})
	}
	return txns, nil
}

func parseLoans(data []byte) ([]models.Loan, error) {
	t, err := parseTable(TableLoans, data, loanColumns)
	if err != nil {
		return nil, err
	}

	loans := make([]models.Loan, 0, len(t.rows))
	for i := range t.rows {
		amount, err := t.decimal(i, "amount")
		if err != nil {
			return nil, err
		}
		rate, err := t.float(i, "interest_rate")
		if err != nil {
			return nil, err
		}
		loans = append(loans, models.Loan{
			CustomerID:   t.value(i, "customer_id"),
			LoanType:     t.value(i, "loan_type"),
			Amount:       amount,
			InterestRate: rate,
			Status:       models.LoanStatus(t.value(i, "status")),
			Extra:        t.extra(i),
		})
	}
	return loans, nil
}

func parseCreditCards(data []byte) ([]models.CreditCard, error) {
	t, err := parseTable(TableCreditCards, data, creditCardColumns)
	if err != nil {
		return nil, err
	}

	cards := make([]models.CreditCard, 0, len(t.rows))
	for i := range t.rows {
		balance, err := t.decimal(i, "balance")
		if err != nil {
			return nil, err
		}
		limit, err := t.decimal(i, "credit_limit")
		if err != nil {
			return nil, err
		}
		cards = append(cards, models.CreditCard{
			CustomerID:  t.value(i, "customer_id"),
			CardType:    t.value(i, "card_type"),
			Balance:     balance,
			CreditLimit: limit,
			Extra:       t.extra(i),
		})
	}
	return cards, nil
}
