package policy

// TierCaps 定义某个身份等级允许的限额上限。
type TierCaps struct {
	MaxPerTx int64 `json:"max_per_tx"`
	MaxDaily int64 `json:"max_daily"`
}

// TierLimits 按身份等级对策略限额封顶。等级 0 代表未验证用户，
// 超出已配置的最高等级时按最高等级处理。金额单位为结算代币的最小单位。
type TierLimits struct {
	caps []TierCaps
}

// DefaultTierLimits 返回平台默认的等级限额表（以 6 位小数的稳定币计）。
func DefaultTierLimits() *TierLimits {
	return NewTierLimits([]TierCaps{
		{MaxPerTx: 50_000_000, MaxDaily: 200_000_000},       // tier 0: 未验证
		{MaxPerTx: 500_000_000, MaxDaily: 2_000_000_000},    // tier 1: 人类验证
		{MaxPerTx: 5_000_000_000, MaxDaily: 20_000_000_000}, // tier 2: 成年验证
	})
}

// NewTierLimits 根据给定的限额表创建 TierLimits。
func NewTierLimits(caps []TierCaps) *TierLimits {
	cloned := append([]TierCaps(nil), caps...)
	return &TierLimits{caps: cloned}
}

// Caps 返回指定等级的限额上限。
func (t *TierLimits) Caps(tier int) TierCaps {
	if len(t.caps) == 0 {
		return TierCaps{MaxPerTx: 0, MaxDaily: 0}
	}
	if tier < 0 {
		tier = 0
	}
	if tier >= len(t.caps) {
		tier = len(t.caps) - 1
	}
	return t.caps[tier]
}

// Clamp 将请求的限额压缩到等级允许的范围内。
func (t *TierLimits) Clamp(tier int, maxPerTx, maxDaily int64) (int64, int64) {
	caps := t.Caps(tier)
	if caps.MaxPerTx > 0 && maxPerTx > caps.MaxPerTx {
		maxPerTx = caps.MaxPerTx
	}
	if caps.MaxDaily > 0 && maxDaily > caps.MaxDaily {
		maxDaily = caps.MaxDaily
	}
	if maxDaily < maxPerTx {
		maxDaily = maxPerTx
	}
	return maxPerTx, maxDaily
}
