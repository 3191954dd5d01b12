package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "PayRoute/internal/errors"
)

// MemoryLedger 以内存方式模拟结算代币账本，主要用于测试和本地开发。
// 转账在互斥锁内完成扣减与入账，保证单笔转账的原子性。
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[Account]int64
	history  []TransferRecord
}

// NewMemoryLedger 创建空账本。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[Account]int64)}
}

// Mint 为账户铸造余额，仅供测试场景初始化资金。
func (m *MemoryLedger) Mint(account Account, amount int64) {
	m.mu.Lock()
	m.balances[account] += amount
	m.mu.Unlock()
}

// Transfer 实现 Ledger 接口。
func (m *MemoryLedger) Transfer(_ context.Context, from, to Account, amount int64, kind Kind) error {
	if from == "" || to == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "转账账户不能为空")
	}
	if amount <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正数")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from] < amount {
		return ErrInsufficientFunds
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	m.history = append(m.history, TransferRecord{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Timestamp: time.Now().Unix(),
	})
	return nil
}

// BalanceOf 实现 Ledger 接口。
func (m *MemoryLedger) BalanceOf(_ context.Context, account Account) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[account], nil
}

// History 返回账户相关的最近转账记录，按时间倒序排列。
func (m *MemoryLedger) History(_ context.Context, account Account, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]TransferRecord, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(records) < limit; i-- {
		record := m.history[i]
		if account != "" && record.From != account && record.To != account {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// TotalTransferred 统计账户以指定类型转出的总额。
func (m *MemoryLedger) TotalTransferred(_ context.Context, from Account, kind Kind) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, record := range m.history {
		if from != "" && record.From != from {
			continue
		}
		if kind != "" && record.Kind != kind {
			continue
		}
		total += record.Amount
	}
	return total, nil
}

// UniqueRecipients 统计账户以指定类型转出时覆盖的收款方数量。
func (m *MemoryLedger) UniqueRecipients(_ context.Context, from Account, kind Kind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[Account]struct{})
	for _, record := range m.history {
		if from != "" && record.From != from {
			continue
		}
		if kind != "" && record.Kind != kind {
			continue
		}
		seen[record.To] = struct{}{}
	}
	return len(seen), nil
}

// ensure interface compliance at compile time
var (
	_ Ledger        = (*MemoryLedger)(nil)
	_ HistoryReader = (*MemoryLedger)(nil)
)
