package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"PayRoute/deploy/migrations"
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
)

// MySQLStore 使用 MySQL 保存策略。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	if err := migrations.Apply(db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化数据库表结构失败")
	}
	return &MySQLStore{db: db}, nil
}

// Put 创建或整体覆盖策略。覆盖是策略重置的唯一途径，消费状态一并清零。
func (s *MySQLStore) Put(ctx context.Context, p *SpendingPolicy) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "policy 不能为空")
	}

	recipientsValue, err := marshalRecipients(p.AllowedRecipients)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码收款白名单失败")
	}

	const stmt = `INSERT INTO spending_policies
        (owner, agent, max_per_tx, max_daily, daily_spent, window_start, allowed_recipients, active, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        max_per_tx = VALUES(max_per_tx), max_daily = VALUES(max_daily),
        daily_spent = VALUES(daily_spent), window_start = VALUES(window_start),
        allowed_recipients = VALUES(allowed_recipients), active = VALUES(active),
        created_at = VALUES(created_at), expires_at = VALUES(expires_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		string(p.Owner),
		string(p.Agent),
		p.MaxPerTx,
		p.MaxDaily,
		p.DailySpent,
		p.WindowStart,
		recipientsValue,
		p.Active,
		p.CreatedAt,
		p.ExpiresAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入策略失败")
	}
	return nil
}

// Get 查询指定策略。
func (s *MySQLStore) Get(ctx context.Context, owner, agent string) (*SpendingPolicy, error) {
	const stmt = `SELECT owner, agent, max_per_tx, max_daily, daily_spent, window_start,
        allowed_recipients, active, created_at, expires_at
        FROM spending_policies WHERE owner = ? AND agent = ?`

	row := s.db.QueryRowContext(ctx, stmt, owner, agent)
	p, err := scanPolicy(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询策略失败")
	}
	return p, nil
}

// Update 持久化已存在策略的最新状态。
func (s *MySQLStore) Update(ctx context.Context, p *SpendingPolicy) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "policy 不能为空")
	}

	recipientsValue, err := marshalRecipients(p.AllowedRecipients)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码收款白名单失败")
	}

	const stmt = `UPDATE spending_policies SET max_per_tx = ?, max_daily = ?, daily_spent = ?,
        window_start = ?, allowed_recipients = ?, active = ?, expires_at = ?
        WHERE owner = ? AND agent = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		p.MaxPerTx,
		p.MaxDaily,
		p.DailySpent,
		p.WindowStart,
		recipientsValue,
		p.Active,
		p.ExpiresAt,
		string(p.Owner),
		string(p.Agent),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新策略失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// ListByOwner 返回 owner 名下的全部策略。
func (s *MySQLStore) ListByOwner(ctx context.Context, owner string) ([]*SpendingPolicy, error) {
	const stmt = `SELECT owner, agent, max_per_tx, max_daily, daily_spent, window_start,
        allowed_recipients, active, created_at, expires_at
        FROM spending_policies WHERE owner = ? ORDER BY agent ASC`

	rows, err := s.db.QueryContext(ctx, stmt, owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询策略列表失败")
	}
	defer rows.Close()

	policies := make([]*SpendingPolicy, 0, 4)
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析策略记录失败")
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历策略失败")
	}
	return policies, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanPolicy(scan func(dest ...any) error) (*SpendingPolicy, error) {
	var p SpendingPolicy
	var owner, agent string
	var recipients sql.NullString
	if err := scan(
		&owner,
		&agent,
		&p.MaxPerTx,
		&p.MaxDaily,
		&p.DailySpent,
		&p.WindowStart,
		&recipients,
		&p.Active,
		&p.CreatedAt,
		&p.ExpiresAt,
	); err != nil {
		return nil, err
	}
	p.Owner = ledger.Account(owner)
	p.Agent = ledger.Account(agent)
	decoded, err := unmarshalRecipients(recipients)
	if err != nil {
		return nil, err
	}
	p.AllowedRecipients = decoded
	return &p, nil
}

func marshalRecipients(recipients []ledger.Account) (sql.NullString, error) {
	if len(recipients) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(recipients)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalRecipients(raw sql.NullString) ([]ledger.Account, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var recipients []ledger.Account
	if err := json.Unmarshal([]byte(raw.String), &recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
