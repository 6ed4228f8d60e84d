/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements billing.TxStore, rules.Store, and audit.Sink using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ALLOCATIONS:
  payment_allocations rows are inserted, never updated or deleted.
  Reversals are separate rows with kind='reversal'.

TRANSACTION BOUNDARY:
  WithTx wraps BEGIN/COMMIT/ROLLBACK around the callback. Group balance
  reads and writes inside an allocation all go through the same
  transaction, so two concurrent payments against the same tab cannot
  lose updates (SQLite serializes writers; with PostgreSQL the
  equivalent is SELECT ... FOR UPDATE).

WAL MODE:
  SQLite is opened with WAL for better read concurrency and crash
  recovery.

KEY TABLES:
  tabs, line_items, billing_groups, billing_group_rules, payments,
  payment_allocations, audit_events.

USAGE:
  store, err := sqlite.New("./data/tabs.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - billing/store.go: interface definitions
  - billing/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/tab-engine/audit"
	"github.com/warp/tab-engine/billing"
	"github.com/warp/tab-engine/rules"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx abstracts *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Compile-time interface checks.
var (
	_ billing.TxStore = (*Store)(nil)
	_ rules.Store     = (*Store)(nil)
	_ audit.Sink      = (*Store)(nil)
)

// New creates a new SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tabs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		tab_id TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		group_id TEXT,
		pending_approval INTEGER NOT NULL DEFAULT 0,
		pending_group_id TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_tab ON line_items(tab_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_group ON line_items(group_id)
		WHERE group_id IS NOT NULL AND group_id != '';

	CREATE TABLE IF NOT EXISTS billing_groups (
		id TEXT PRIMARY KEY,
		tab_id TEXT NOT NULL,
		name TEXT NOT NULL,
		group_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		current_balance TEXT NOT NULL,
		deposit_amount TEXT NOT NULL DEFAULT '0',
		deposit_applied TEXT NOT NULL DEFAULT '0',
		credit_limit TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_billing_groups_tab ON billing_groups(tab_id);

	CREATE TABLE IF NOT EXISTS billing_group_rules (
		id TEXT PRIMARY KEY,
		tab_id TEXT NOT NULL,
		group_id TEXT,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		conditions_json TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_tab ON billing_group_rules(tab_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tab_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL,
		allocation_method TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_tab ON payments(tab_id);

	-- Append-only. Reversals are separate rows; originals are never touched.
	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'original',
		created_at TEXT NOT NULL,
		UNIQUE(payment_id, group_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment ON payment_allocations(payment_id);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id TEXT,
		user_email TEXT,
		ip_address TEXT,
		changes_json TEXT,
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_type, entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TABS
// =============================================================================

func (s *Store) GetTab(ctx context.Context, id billing.TabID) (*billing.Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTab(ctx, s.db, id)
}

func getTab(ctx context.Context, db dbtx, id billing.TabID) (*billing.Tab, error) {
	var tab billing.Tab
	var createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT id, org_id, name, currency, created_at FROM tabs WHERE id = ?", id,
	).Scan(&tab.ID, &tab.OrgID, &tab.Name, &tab.Currency, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tab.CreatedAt = parseTime(createdAt)
	return &tab, nil
}

func (s *Store) SaveTab(ctx context.Context, tab billing.Tab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTab(ctx, s.db, tab)
}

func saveTab(ctx context.Context, db dbtx, tab billing.Tab) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tabs (id, org_id, name, currency, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			currency = excluded.currency
	`, tab.ID, tab.OrgID, tab.Name, tab.Currency, formatTime(tab.CreatedAt))
	return err
}

// =============================================================================
// LINE ITEMS
// =============================================================================

const lineItemColumns = `id, tab_id, description, category, quantity, unit_price,
	total_price, group_id, pending_approval, pending_group_id, metadata_json, created_at`

func (s *Store) GetLineItem(ctx context.Context, id billing.LineItemID) (*billing.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLineItem(ctx, s.db, id)
}

func getLineItem(ctx context.Context, db dbtx, id billing.LineItemID) (*billing.LineItem, error) {
	items, err := queryLineItems(ctx, db,
		"SELECT "+lineItemColumns+" FROM line_items WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *Store) SaveLineItem(ctx context.Context, item billing.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLineItem(ctx, s.db, item)
}

func saveLineItem(ctx context.Context, db dbtx, item billing.LineItem) error {
	metadataJSON, _ := json.Marshal(item.Metadata)
	_, err := db.ExecContext(ctx, `
		INSERT INTO line_items
		(id, tab_id, description, category, quantity, unit_price, total_price,
		 group_id, pending_approval, pending_group_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			category = excluded.category,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			total_price = excluded.total_price,
			group_id = excluded.group_id,
			pending_approval = excluded.pending_approval,
			pending_group_id = excluded.pending_group_id,
			metadata_json = excluded.metadata_json
	`,
		item.ID, item.TabID, item.Description, item.Category,
		item.Quantity.String(), item.UnitPrice.Value.String(), item.TotalPrice.Value.String(),
		string(item.GroupID), boolToInt(item.PendingApproval), string(item.PendingGroupID),
		string(metadataJSON), formatTime(item.CreatedAt),
	)
	return err
}

func (s *Store) LineItemsByTab(ctx context.Context, tabID billing.TabID) ([]billing.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryLineItems(ctx, s.db,
		"SELECT "+lineItemColumns+" FROM line_items WHERE tab_id = ? ORDER BY created_at ASC, id ASC", tabID)
}

func (s *Store) LineItemsByGroup(ctx context.Context, groupID billing.GroupID) ([]billing.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lineItemsByGroup(ctx, s.db, groupID)
}

func lineItemsByGroup(ctx context.Context, db dbtx, groupID billing.GroupID) ([]billing.LineItem, error) {
	return queryLineItems(ctx, db,
		"SELECT "+lineItemColumns+" FROM line_items WHERE group_id = ? ORDER BY created_at ASC, id ASC", groupID)
}

func queryLineItems(ctx context.Context, db dbtx, query string, args ...any) ([]billing.LineItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []billing.LineItem
	for rows.Next() {
		var (
			item                            billing.LineItem
			category, groupID, pendingGroup sql.NullString
			quantity, unitPrice, totalPrice string
			pendingApproval                 int
			metadataJSON                    sql.NullString
			createdAt                       string
		)
		if err := rows.Scan(
			&item.ID, &item.TabID, &item.Description, &category,
			&quantity, &unitPrice, &totalPrice,
			&groupID, &pendingApproval, &pendingGroup, &metadataJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		item.Category = category.String
		item.Quantity = mustDecimal(quantity)
		item.UnitPrice = parseMoney(unitPrice)
		item.TotalPrice = parseMoney(totalPrice)
		item.GroupID = billing.GroupID(groupID.String)
		item.PendingApproval = pendingApproval != 0
		item.PendingGroupID = billing.GroupID(pendingGroup.String)
		item.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &item.Metadata)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// BILLING GROUPS
// =============================================================================

const groupColumns = `id, tab_id, name, group_type, status, current_balance,
	deposit_amount, deposit_applied, credit_limit, created_at`

func (s *Store) GetGroup(ctx context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGroup(ctx, s.db, id)
}

func getGroup(ctx context.Context, db dbtx, id billing.GroupID) (*billing.BillingGroup, error) {
	groups, err := queryGroups(ctx, db,
		"SELECT "+groupColumns+" FROM billing_groups WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return &groups[0], nil
}

func (s *Store) SaveGroup(ctx context.Context, group billing.BillingGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveGroup(ctx, s.db, group)
}

func saveGroup(ctx context.Context, db dbtx, group billing.BillingGroup) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO billing_groups
		(id, tab_id, name, group_type, status, current_balance,
		 deposit_amount, deposit_applied, credit_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			group_type = excluded.group_type,
			status = excluded.status,
			current_balance = excluded.current_balance,
			deposit_amount = excluded.deposit_amount,
			deposit_applied = excluded.deposit_applied,
			credit_limit = excluded.credit_limit
	`,
		group.ID, group.TabID, group.Name, group.Type, group.Status,
		group.CurrentBalance.Value.String(),
		group.DepositAmount.Value.String(), group.DepositApplied.Value.String(),
		group.CreditLimit.Value.String(), formatTime(group.CreatedAt),
	)
	return err
}

func (s *Store) GroupsByTab(ctx context.Context, tabID billing.TabID) ([]billing.BillingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return groupsByTab(ctx, s.db, tabID)
}

func groupsByTab(ctx context.Context, db dbtx, tabID billing.TabID) ([]billing.BillingGroup, error) {
	return queryGroups(ctx, db,
		"SELECT "+groupColumns+" FROM billing_groups WHERE tab_id = ? ORDER BY created_at ASC, id ASC", tabID)
}

func queryGroups(ctx context.Context, db dbtx, query string, args ...any) ([]billing.BillingGroup, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing groups: %w", err)
	}
	defer rows.Close()

	var groups []billing.BillingGroup
	for rows.Next() {
		var (
			g                                    billing.BillingGroup
			balance, deposit, applied, limit     string
			createdAt                            string
		)
		if err := rows.Scan(
			&g.ID, &g.TabID, &g.Name, &g.Type, &g.Status,
			&balance, &deposit, &applied, &limit, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan billing group: %w", err)
		}
		g.CurrentBalance = parseMoney(balance)
		g.DepositAmount = parseMoney(deposit)
		g.DepositApplied = parseMoney(applied)
		g.CreditLimit = parseMoney(limit)
		g.CreatedAt = parseTime(createdAt)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, tab_id, amount, currency, status, allocation_method,
	metadata_json, created_at`

func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, db dbtx, id billing.PaymentID) (*billing.Payment, error) {
	payments, err := queryPayments(ctx, db,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}

func (s *Store) SavePayment(ctx context.Context, payment billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, payment)
}

func savePayment(ctx context.Context, db dbtx, payment billing.Payment) error {
	metadataJSON, _ := json.Marshal(payment.Metadata)
	_, err := db.ExecContext(ctx, `
		INSERT INTO payments
		(id, tab_id, amount, currency, status, allocation_method, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			allocation_method = excluded.allocation_method,
			metadata_json = excluded.metadata_json
	`,
		payment.ID, payment.TabID, payment.Amount.Value.String(), payment.Currency,
		payment.Status, payment.AllocationMethod, string(metadataJSON),
		formatTime(payment.CreatedAt),
	)
	return err
}

func (s *Store) PaymentsByTab(ctx context.Context, tabID billing.TabID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsByTab(ctx, s.db, tabID)
}

func paymentsByTab(ctx context.Context, db dbtx, tabID billing.TabID) ([]billing.Payment, error) {
	return queryPayments(ctx, db,
		"SELECT "+paymentColumns+" FROM payments WHERE tab_id = ? ORDER BY created_at ASC, id ASC", tabID)
}

func queryPayments(ctx context.Context, db dbtx, query string, args ...any) ([]billing.Payment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p                        billing.Payment
			amount, createdAt        string
			method, metadataJSON     sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.TabID, &amount, &p.Currency, &p.Status,
			&method, &metadataJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = parseMoney(amount)
		p.AllocationMethod = method.String
		p.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &p.Metadata)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// ALLOCATIONS (append-only)
// =============================================================================

func (s *Store) AppendAllocations(ctx context.Context, allocations []billing.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAllocations(ctx, s.db, allocations)
}

func appendAllocations(ctx context.Context, db dbtx, allocations []billing.Allocation) error {
	for _, a := range allocations {
		_, err := db.ExecContext(ctx, `
			INSERT INTO payment_allocations
			(id, payment_id, group_id, amount, method, kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.PaymentID, a.GroupID, a.Amount.Value.String(), a.Method, a.Kind,
			formatTime(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append allocation: %w", err)
		}
	}
	return nil
}

func (s *Store) AllocationsByPayment(ctx context.Context, paymentID billing.PaymentID) ([]billing.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allocationsByPayment(ctx, s.db, paymentID)
}

func allocationsByPayment(ctx context.Context, db dbtx, paymentID billing.PaymentID) ([]billing.Allocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, payment_id, group_id, amount, method, kind, created_at
		FROM payment_allocations
		WHERE payment_id = ?
		ORDER BY created_at ASC, id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []billing.Allocation
	for rows.Next() {
		var (
			a                 billing.Allocation
			amount, createdAt string
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.GroupID, &amount, &a.Method, &a.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Amount = parseMoney(amount)
		a.CreatedAt = parseTime(createdAt)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// =============================================================================
// TRANSACTIONS (billing.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetTab(ctx context.Context, id billing.TabID) (*billing.Tab, error) {
	return getTab(ctx, ts.tx, id)
}

func (ts *txStore) SaveTab(ctx context.Context, tab billing.Tab) error {
	return saveTab(ctx, ts.tx, tab)
}

func (ts *txStore) GetLineItem(ctx context.Context, id billing.LineItemID) (*billing.LineItem, error) {
	return getLineItem(ctx, ts.tx, id)
}

func (ts *txStore) SaveLineItem(ctx context.Context, item billing.LineItem) error {
	return saveLineItem(ctx, ts.tx, item)
}

func (ts *txStore) LineItemsByTab(ctx context.Context, tabID billing.TabID) ([]billing.LineItem, error) {
	return queryLineItems(ctx, ts.tx,
		"SELECT "+lineItemColumns+" FROM line_items WHERE tab_id = ? ORDER BY created_at ASC, id ASC", tabID)
}

func (ts *txStore) LineItemsByGroup(ctx context.Context, groupID billing.GroupID) ([]billing.LineItem, error) {
	return lineItemsByGroup(ctx, ts.tx, groupID)
}

func (ts *txStore) GetGroup(ctx context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	return getGroup(ctx, ts.tx, id)
}

func (ts *txStore) SaveGroup(ctx context.Context, group billing.BillingGroup) error {
	return saveGroup(ctx, ts.tx, group)
}

func (ts *txStore) GroupsByTab(ctx context.Context, tabID billing.TabID) ([]billing.BillingGroup, error) {
	return groupsByTab(ctx, ts.tx, tabID)
}

func (ts *txStore) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) SavePayment(ctx context.Context, payment billing.Payment) error {
	return savePayment(ctx, ts.tx, payment)
}

func (ts *txStore) PaymentsByTab(ctx context.Context, tabID billing.TabID) ([]billing.Payment, error) {
	return paymentsByTab(ctx, ts.tx, tabID)
}

func (ts *txStore) AppendAllocations(ctx context.Context, allocations []billing.Allocation) error {
	return appendAllocations(ctx, ts.tx, allocations)
}

func (ts *txStore) AllocationsByPayment(ctx context.Context, paymentID billing.PaymentID) ([]billing.Allocation, error) {
	return allocationsByPayment(ctx, ts.tx, paymentID)
}

// =============================================================================
// RULES (rules.Store)
// =============================================================================

func (s *Store) GetRule(ctx context.Context, id billing.RuleID) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, err := s.queryRules(ctx,
		"SELECT id, tab_id, group_id, name, priority, action, conditions_json, is_active, created_at FROM billing_group_rules WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

func (s *Store) SaveRule(ctx context.Context, rule rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conditionsJSON, err := json.Marshal(conditionsToJSON(rule.Conditions))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_group_rules
		(id, tab_id, group_id, name, priority, action, conditions_json, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			action = excluded.action,
			conditions_json = excluded.conditions_json,
			is_active = excluded.is_active
	`,
		rule.ID, rule.TabID, rule.GroupID, rule.Name, rule.Priority, rule.Action,
		string(conditionsJSON), boolToInt(rule.IsActive), formatTime(rule.CreatedAt),
	)
	return err
}

func (s *Store) DeleteRule(ctx context.Context, id billing.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM billing_group_rules WHERE id = ?", id)
	return err
}

func (s *Store) RulesByTab(ctx context.Context, tabID billing.TabID) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx,
		"SELECT id, tab_id, group_id, name, priority, action, conditions_json, is_active, created_at FROM billing_group_rules WHERE tab_id = ? ORDER BY created_at ASC, id ASC", tabID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		var (
			r              rules.Rule
			groupID        sql.NullString
			conditionsJSON string
			isActive       int
			createdAt      string
		)
		if err := rows.Scan(&r.ID, &r.TabID, &groupID, &r.Name, &r.Priority, &r.Action,
			&conditionsJSON, &isActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.GroupID = billing.GroupID(groupID.String)
		r.IsActive = isActive != 0
		r.CreatedAt = parseTime(createdAt)

		var cj conditionsJSONModel
		if err := json.Unmarshal([]byte(conditionsJSON), &cj); err == nil {
			r.Conditions = cj.toConditions()
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// conditionsJSONModel is the stored wire form of rule conditions.
type conditionsJSONModel struct {
	Categories []string          `json:"category,omitempty"`
	AmountMin  *string           `json:"amount_min,omitempty"`
	AmountMax  *string           `json:"amount_max,omitempty"`
	TimeStart  string            `json:"time_start,omitempty"`
	TimeEnd    string            `json:"time_end,omitempty"`
	DaysOfWeek []int             `json:"day_of_week,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func conditionsToJSON(c rules.Conditions) conditionsJSONModel {
	m := conditionsJSONModel{
		Categories: c.Categories,
		TimeStart:  c.TimeStart,
		TimeEnd:    c.TimeEnd,
		Metadata:   c.Metadata,
	}
	if c.AmountMin != nil {
		v := c.AmountMin.Value.String()
		m.AmountMin = &v
	}
	if c.AmountMax != nil {
		v := c.AmountMax.Value.String()
		m.AmountMax = &v
	}
	for _, d := range c.DaysOfWeek {
		m.DaysOfWeek = append(m.DaysOfWeek, int(d))
	}
	return m
}

func (m conditionsJSONModel) toConditions() rules.Conditions {
	c := rules.Conditions{
		Categories: m.Categories,
		TimeStart:  m.TimeStart,
		TimeEnd:    m.TimeEnd,
		Metadata:   m.Metadata,
	}
	if m.AmountMin != nil {
		v := parseMoney(*m.AmountMin)
		c.AmountMin = &v
	}
	if m.AmountMax != nil {
		v := parseMoney(*m.AmountMax)
		c.AmountMax = &v
	}
	for _, d := range m.DaysOfWeek {
		c.DaysOfWeek = append(c.DaysOfWeek, time.Weekday(d))
	}
	return c
}

// =============================================================================
// AUDIT SINK (audit.Sink)
// =============================================================================

// Append inserts an audit event and prunes the trail to the retention bound.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changesJSON, _ := json.Marshal(event.Changes)
	metadataJSON, _ := json.Marshal(event.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(id, timestamp, entity_type, entity_id, action, user_id, user_email,
		 ip_address, changes_json, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.EntityType, event.EntityID, event.Action,
		event.UserID, event.UserEmail, event.IPAddress,
		string(changesJSON), string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	// Retention: keep only the newest events.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM audit_events WHERE id NOT IN (
			SELECT id FROM audit_events ORDER BY timestamp DESC, id DESC LIMIT ?
		)
	`, audit.Retention)
	return err
}

// Query runs a filtered, paginated audit query, newest first.
func (s *Store) Query(ctx context.Context, q audit.Query) (*audit.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := auditWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := `
		SELECT id, timestamp, entity_type, entity_id, action, user_id, user_email,
		       ip_address, changes_json, metadata_json
		FROM audit_events` + where + `
		ORDER BY timestamp DESC, id DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = total
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                              audit.Event
			timestamp                      string
			userID, userEmail, ipAddress   sql.NullString
			changesJSON, metadataJSON      sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.EntityType, &e.EntityID, &e.Action,
			&userID, &userEmail, &ipAddress, &changesJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		e.UserID = userID.String
		e.UserEmail = userEmail.String
		e.IPAddress = ipAddress.String
		if changesJSON.Valid && changesJSON.String != "" {
			json.Unmarshal([]byte(changesJSON.String), &e.Changes)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &audit.Result{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}

func auditWhere(q audit.Query) (string, []any) {
	var clauses []string
	var args []any

	if q.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, q.EntityType)
	}
	if q.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, q.EntityID)
	}
	if q.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, q.Action)
	}
	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if q.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}
	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		clauses = append(clauses,
			"(LOWER(entity_id) LIKE ? OR LOWER(user_email) LIKE ? OR LOWER(metadata_json) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"payment_allocations", "payments", "line_items",
		"billing_group_rules", "billing_groups", "tabs", "audit_events",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseMoney(s string) billing.Money {
	return billing.Money{Value: mustDecimal(s)}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
