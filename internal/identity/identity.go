package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"PayRoute/internal/ledger"
)

// Predicate 定义外部身份校验能力。核心引擎不感知身份，
// 只有 API 层在启用时于调用前咨询该接口。
type Predicate interface {
	IsHuman(ctx context.Context, account ledger.Account) (bool, error)
	IsAdult(ctx context.Context, account ledger.Account) (bool, error)
	Tier(ctx context.Context, account ledger.Account) (int, error)
}

// Profile 描述一个账户的身份验证结论。
type Profile struct {
	Account ledger.Account `json:"account"`
	Human   bool           `json:"human"`
	Adult   bool           `json:"adult"`
	Tier    int            `json:"tier"`
}

// StaticProvider 通过加载 JSON 文件提供静态身份档案。
// 未收录的账户按未验证处理，不视为错误。
type StaticProvider struct {
	profiles map[ledger.Account]Profile
}

// NewStaticProvider 创建静态身份档案实例。
func NewStaticProvider(profiles []Profile) *StaticProvider {
	set := make(map[ledger.Account]Profile, len(profiles))
	for _, profile := range profiles {
		if profile.Account == "" {
			continue
		}
		set[profile.Account] = profile
	}
	return &StaticProvider{profiles: set}
}

// LoadStaticProvider 从 JSON 文件加载身份档案。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("身份档案文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析身份档案路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取身份档案文件失败: %w", err)
	}
	defer file.Close()

	var profiles []Profile
	if err := json.NewDecoder(file).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("解析身份档案文件失败: %w", err)
	}

	return NewStaticProvider(profiles), nil
}

// IsHuman 判断账户是否完成人类验证。
func (p *StaticProvider) IsHuman(ctx context.Context, account ledger.Account) (bool, error) {
	return p.profiles[account].Human, nil
}

// IsAdult 判断账户是否完成成年验证。
func (p *StaticProvider) IsAdult(ctx context.Context, account ledger.Account) (bool, error) {
	return p.profiles[account].Adult, nil
}

// Tier 返回账户的身份等级，未收录账户为 0。
func (p *StaticProvider) Tier(ctx context.Context, account ledger.Account) (int, error) {
	return p.profiles[account].Tier, nil
}

// Ensure StaticProvider 实现 Predicate 接口。
var _ Predicate = (*StaticProvider)(nil)
