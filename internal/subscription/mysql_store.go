package subscription

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"PayRoute/deploy/migrations"
	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
)

// MySQLStore 使用 MySQL 保存订阅，id 由 AUTO_INCREMENT 分配。
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

// Create 插入订阅并返回带数据库分配 id 的副本。
func (s *MySQLStore) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "subscription 不能为空")
	}

	const stmt = `INSERT INTO subscriptions
        (payer, recipient, token, amount, interval_seconds, max_executions, execution_count,
         tip_bps, next_execution_time, status, memo, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(sub.Payer),
		string(sub.Recipient),
		sub.Token,
		sub.Amount,
		sub.Interval,
		sub.MaxExecutions,
		sub.ExecutionCount,
		sub.TipBps,
		sub.NextExecutionTime,
		string(sub.Status),
		sub.Memo,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入订阅失败")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取订阅 id 失败")
	}
	stored := cloneSubscription(sub)
	stored.ID = uint64(id)
	return stored, nil
}

// Get 按 id 查询订阅。
func (s *MySQLStore) Get(ctx context.Context, id uint64) (*Subscription, error) {
	const stmt = selectColumns + ` WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	sub, err := scanSubscription(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订阅失败")
	}
	return sub, nil
}

// Update 持久化已存在订阅的最新状态。
func (s *MySQLStore) Update(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "subscription 不能为空")
	}

	const stmt = `UPDATE subscriptions SET execution_count = ?, next_execution_time = ?,
        status = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		sub.ExecutionCount,
		sub.NextExecutionTime,
		string(sub.Status),
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订阅失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// List 按过滤条件返回订阅。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Subscription, error) {
	options := buildListOptions(opts)

	var conditions []string
	var args []any
	if options.Payer != "" {
		conditions = append(conditions, "payer = ?")
		args = append(args, string(options.Payer))
	}
	if options.Recipient != "" {
		conditions = append(conditions, "recipient = ?")
		args = append(args, string(options.Recipient))
	}
	if len(options.Statuses) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(options.Statuses)), ",")
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders))
		for _, status := range options.Statuses {
			args = append(args, string(status))
		}
	}
	if options.DueBefore > 0 {
		conditions = append(conditions, "next_execution_time <= ?")
		args = append(args, options.DueBefore)
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch options.Order {
	case SortByCreatedDesc:
		query += " ORDER BY created_at DESC, id DESC"
	default:
		query += " ORDER BY next_execution_time ASC, id ASC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订阅列表失败")
	}
	defer rows.Close()

	subs := make([]*Subscription, 0, options.Limit)
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订阅记录失败")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订阅失败")
	}
	return subs, nil
}

// ListDue 返回在 now 时刻到期的活跃订阅，按到期时间升序。
func (s *MySQLStore) ListDue(ctx context.Context, now int64, limit int) ([]*Subscription, error) {
	return s.List(ctx,
		WithStatuses(StatusActive),
		WithDueBefore(now),
		WithLimit(limit),
		WithSortOrder(SortByNextExecutionAsc),
	)
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `SELECT id, payer, recipient, token, amount, interval_seconds,
        max_executions, execution_count, tip_bps, next_execution_time, status, memo,
        created_at, updated_at FROM subscriptions`

func scanSubscription(scan func(dest ...any) error) (*Subscription, error) {
	var sub Subscription
	var payer, recipient, status string
	if err := scan(
		&sub.ID,
		&payer,
		&recipient,
		&sub.Token,
		&sub.Amount,
		&sub.Interval,
		&sub.MaxExecutions,
		&sub.ExecutionCount,
		&sub.TipBps,
		&sub.NextExecutionTime,
		&status,
		&sub.Memo,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Payer = ledger.Account(payer)
	sub.Recipient = ledger.Account(recipient)
	sub.Status = Status(status)
	return &sub, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
