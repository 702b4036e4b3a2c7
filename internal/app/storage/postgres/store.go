package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/domain/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. The composite
// operations run inside a single SQL transaction.
type Store struct {
	db *sql.DB
}

var _ storage.FinanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- LoanStore --------------------------------------------------------------

const loanColumns = `id, student_id, cosigner_id, original_amount, current_balance,
	monthly_payment, interest_rate, term_months, grace_period_months, origination_fee,
	payments_made, late_payments, last_payment_date, status, collateral_required,
	special_conditions, purpose, created_at, first_payment_due, updated_at`

func (s *Store) CreateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	return createLoan(ctx, s.db, ln)
}

func createLoan(ctx context.Context, db execer, ln loan.Loan) (loan.Loan, error) {
	if ln.ID == "" {
		var seq int64
		if err := db.QueryRowContext(ctx, `SELECT nextval('loan_seq')`).Scan(&seq); err != nil {
			return loan.Loan{}, err
		}
		ln.ID = fmt.Sprintf("LOAN-%08d", seq)
	}

	now := time.Now().UTC()
	if ln.CreatedAt.IsZero() {
		ln.CreatedAt = now
	}
	ln.UpdatedAt = now

	conditionsJSON, err := json.Marshal(ln.SpecialConditions)
	if err != nil {
		return loan.Loan{}, err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, ln.ID, ln.StudentID, nullString(ln.CosignerID), ln.OriginalAmount, ln.CurrentBalance,
		ln.MonthlyPayment, ln.InterestRate, ln.TermMonths, ln.GracePeriodMonths, ln.OriginationFee,
		ln.PaymentsMade, ln.LatePayments, nullTime(ln.LastPaymentDate), ln.Status, ln.CollateralRequired,
		conditionsJSON, ln.Purpose, ln.CreatedAt, ln.FirstPaymentDue, ln.UpdatedAt)
	if err != nil {
		return loan.Loan{}, err
	}
	return ln, nil
}

func (s *Store) UpdateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error) {
	return updateLoan(ctx, s.db, ln)
}

func updateLoan(ctx context.Context, db execer, ln loan.Loan) (loan.Loan, error) {
	ln.UpdatedAt = time.Now().UTC()

	conditionsJSON, err := json.Marshal(ln.SpecialConditions)
	if err != nil {
		return loan.Loan{}, err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE loans
		SET current_balance = $2, monthly_payment = $3, payments_made = $4,
		    late_payments = $5, last_payment_date = $6, status = $7,
		    special_conditions = $8, updated_at = $9
		WHERE id = $1
	`, ln.ID, ln.CurrentBalance, ln.MonthlyPayment, ln.PaymentsMade,
		ln.LatePayments, nullTime(ln.LastPaymentDate), ln.Status,
		conditionsJSON, ln.UpdatedAt)
	if err != nil {
		return loan.Loan{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return loan.Loan{}, finance.NewError(finance.KindNotFound, "loan %s not found", ln.ID)
	}
	return ln, nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	return getLoan(ctx, s.db, id)
}

func getLoan(ctx context.Context, db execer, id string) (loan.Loan, error) {
	row := db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	ln, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, finance.NewError(finance.KindNotFound, "loan %s not found", id)
	}
	return ln, err
}

func (s *Store) ListLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY id`)
}

func (s *Store) ListLoansByStudent(ctx context.Context, studentID string) ([]loan.Loan, error) {
	return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE student_id = $1 ORDER BY id`, studentID)
}

func (s *Store) ListLoansByStatus(ctx context.Context, status loan.Status) ([]loan.Loan, error) {
	return s.listLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY id`, status)
}

func (s *Store) listLoans(ctx context.Context, query string, args ...any) ([]loan.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []loan.Loan
	for rows.Next() {
		ln, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ln)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (loan.Loan, error) {
	var (
		ln             loan.Loan
		cosigner       sql.NullString
		lastPayment    sql.NullTime
		conditionsJSON []byte
	)
	err := row.Scan(&ln.ID, &ln.StudentID, &cosigner, &ln.OriginalAmount, &ln.CurrentBalance,
		&ln.MonthlyPayment, &ln.InterestRate, &ln.TermMonths, &ln.GracePeriodMonths, &ln.OriginationFee,
		&ln.PaymentsMade, &ln.LatePayments, &lastPayment, &ln.Status, &ln.CollateralRequired,
		&conditionsJSON, &ln.Purpose, &ln.CreatedAt, &ln.FirstPaymentDue, &ln.UpdatedAt)
	if err != nil {
		return loan.Loan{}, err
	}
	ln.CosignerID = cosigner.String
	if lastPayment.Valid {
		t := lastPayment.Time
		ln.LastPaymentDate = &t
	}
	if len(conditionsJSON) > 0 {
		_ = json.Unmarshal(conditionsJSON, &ln.SpecialConditions)
	}
	return ln, nil
}

// --- PaymentStore -----------------------------------------------------------

const paymentColumns = `id, loan_id, student_id, amount, principal_portion, interest_portion,
	late_fee, payment_type, payment_method, status, transaction_hash, notes, created_at, processed_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	return createPayment(ctx, s.db, p)
}

func createPayment(ctx context.Context, db execer, p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		var seq int64
		if err := db.QueryRowContext(ctx, `SELECT nextval('payment_seq')`).Scan(&seq); err != nil {
			return payment.Payment{}, err
		}
		p.ID = fmt.Sprintf("PAY-%08d", seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.ID, p.LoanID, p.StudentID, p.Amount, p.PrincipalPortion, p.InterestPortion,
		p.LateFee, p.Type, p.Method, p.Status, p.TransactionHash, p.Notes, p.CreatedAt, nullTime(p.ProcessedAt))
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	return updatePayment(ctx, s.db, p)
}

func updatePayment(ctx context.Context, db execer, p payment.Payment) (payment.Payment, error) {
	var current payment.Status
	err := db.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = $1`, p.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "payment %s not found", p.ID)
	}
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status != current && !payment.CanTransition(current, p.Status) {
		return payment.Payment{}, finance.WrapError(finance.KindInvalidInput,
			&payment.TransitionError{From: current, To: p.Status}, "payment %s", p.ID)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, principal_portion = $3, interest_portion = $4, late_fee = $5,
		    transaction_hash = $6, notes = $7, processed_at = $8
		WHERE id = $1
	`, p.ID, p.Status, p.PrincipalPortion, p.InterestPortion, p.LateFee,
		p.TransactionHash, p.Notes, nullTime(p.ProcessedAt))
	if err != nil {
		return payment.Payment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "payment %s not found", p.ID)
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "payment %s not found", id)
	}
	return p, err
}

func (s *Store) GetPaymentByTransactionHash(ctx context.Context, hash string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE transaction_hash = $1 AND status = $2
	`, hash, payment.StatusCompleted)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "no completed payment with transaction hash %s", hash)
	}
	return p, err
}

func (s *Store) ListPayments(ctx context.Context, loanID string) ([]payment.Payment, error) {
	return s.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE loan_id = $1 ORDER BY id`, loanID)
}

func (s *Store) ListPaymentsByStudent(ctx context.Context, studentID string) ([]payment.Payment, error) {
	return s.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE student_id = $1 ORDER BY id`, studentID)
}

func (s *Store) listPayments(ctx context.Context, query string, args ...any) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPayment(row scanner) (payment.Payment, error) {
	var (
		p         payment.Payment
		processed sql.NullTime
	)
	err := row.Scan(&p.ID, &p.LoanID, &p.StudentID, &p.Amount, &p.PrincipalPortion, &p.InterestPortion,
		&p.LateFee, &p.Type, &p.Method, &p.Status, &p.TransactionHash, &p.Notes, &p.CreatedAt, &processed)
	if err != nil {
		return payment.Payment{}, err
	}
	if processed.Valid {
		t := processed.Time
		p.ProcessedAt = &t
	}
	return p, nil
}

// --- TreasuryStore ----------------------------------------------------------

const treasuryColumns = `total_funds, available_funds, reserved_funds,
	maximum_loan_to_fund_ratio, minimum_reserve_ratio, interest_reserve_ratio,
	emergency_fund_ratio, auto_rebalance_enabled, last_rebalance, updated_at`

func (s *Store) GetTreasuryConfig(ctx context.Context) (treasury.Config, error) {
	return getTreasuryConfig(ctx, s.db)
}

func getTreasuryConfig(ctx context.Context, db execer) (treasury.Config, error) {
	row := db.QueryRowContext(ctx, `SELECT `+treasuryColumns+` FROM treasury_config WHERE id = 1`)

	var cfg treasury.Config
	err := row.Scan(&cfg.TotalFunds, &cfg.AvailableFunds, &cfg.ReservedFunds,
		&cfg.MaximumLoanToFundRatio, &cfg.MinimumReserveRatio, &cfg.InterestReserveRatio,
		&cfg.EmergencyFundRatio, &cfg.AutoRebalanceEnabled, &cfg.LastRebalance, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return treasury.Config{}, finance.NewError(finance.KindInternal, "treasury configuration row missing")
	}
	return cfg, err
}

func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]treasury.LedgerEntry, error) {
	query := `SELECT id, type, amount, loan_id, reference, created_at FROM treasury_ledger ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []treasury.LedgerEntry
	for rows.Next() {
		var (
			e      treasury.LedgerEntry
			loanID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Amount, &loanID, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LoanID = loanID.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) UpdateTreasury(ctx context.Context, cfg treasury.Config, entries []treasury.LedgerEntry) (treasury.Config, error) {
	var out treasury.Config
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = updateTreasury(ctx, tx, cfg, entries)
		return err
	})
	return out, err
}

func updateTreasury(ctx context.Context, db execer, cfg treasury.Config, entries []treasury.LedgerEntry) (treasury.Config, error) {
	if err := validateTreasury(cfg); err != nil {
		return treasury.Config{}, err
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now

	result, err := db.ExecContext(ctx, `
		UPDATE treasury_config
		SET total_funds = $1, available_funds = $2, reserved_funds = $3,
		    maximum_loan_to_fund_ratio = $4, minimum_reserve_ratio = $5,
		    interest_reserve_ratio = $6, emergency_fund_ratio = $7,
		    auto_rebalance_enabled = $8, last_rebalance = $9, updated_at = $10
		WHERE id = 1
	`, cfg.TotalFunds, cfg.AvailableFunds, cfg.ReservedFunds,
		cfg.MaximumLoanToFundRatio, cfg.MinimumReserveRatio,
		cfg.InterestReserveRatio, cfg.EmergencyFundRatio,
		cfg.AutoRebalanceEnabled, cfg.LastRebalance, cfg.UpdatedAt)
	if err != nil {
		return treasury.Config{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return treasury.Config{}, finance.NewError(finance.KindInternal, "treasury configuration row missing")
	}

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO treasury_ledger (id, type, amount, loan_id, reference, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.Type, e.Amount, nullString(e.LoanID), e.Reference, e.CreatedAt)
		if err != nil {
			return treasury.Config{}, err
		}
	}
	return cfg, nil
}

func validateTreasury(cfg treasury.Config) error {
	if cfg.TotalFunds < 0 || cfg.AvailableFunds < 0 || cfg.ReservedFunds < 0 {
		return finance.NewError(finance.KindInternal, "treasury funds negative: total=%d available=%d reserved=%d",
			cfg.TotalFunds, cfg.AvailableFunds, cfg.ReservedFunds)
	}
	if cfg.TotalFunds != cfg.AvailableFunds+cfg.ReservedFunds {
		return finance.NewError(finance.KindInternal, "treasury sum invariant violated: total=%d available=%d reserved=%d",
			cfg.TotalFunds, cfg.AvailableFunds, cfg.ReservedFunds)
	}
	return nil
}

// --- Composite transactions -------------------------------------------------

func (s *Store) CreateLoanWithReservation(ctx context.Context, ln loan.Loan, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, error) {
	var created loan.Loan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = createLoan(ctx, tx, ln)
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].LoanID == "" {
				entries[i].LoanID = created.ID
			}
		}
		_, err = updateTreasury(ctx, tx, cfg, entries)
		return err
	})
	if err != nil {
		return loan.Loan{}, err
	}
	return created, nil
}

func (s *Store) ApplyPayment(ctx context.Context, ln loan.Loan, p payment.Payment, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, payment.Payment, error) {
	var (
		outLoan    loan.Loan
		outPayment payment.Payment
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if p.TransactionHash != "" {
			var existingID string
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM payments
				WHERE transaction_hash = $1 AND status = $2 AND id <> $3
			`, p.TransactionHash, payment.StatusCompleted, p.ID).Scan(&existingID)
			switch {
			case err == nil:
				return finance.NewError(finance.KindAlreadyExists,
					"transaction hash %s already settled by payment %s", p.TransactionHash, existingID)
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		var err error
		outLoan, err = updateLoan(ctx, tx, ln)
		if err != nil {
			return err
		}

		outPayment, err = updatePayment(ctx, tx, p)
		if finance.IsKind(err, finance.KindNotFound) {
			outPayment, err = createPayment(ctx, tx, p)
		}
		if err != nil {
			return err
		}

		_, err = updateTreasury(ctx, tx, cfg, entries)
		return err
	})
	if err != nil {
		return loan.Loan{}, payment.Payment{}, err
	}
	return outLoan, outPayment, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
