package chainconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single settlement chain endpoint and its token.
type Definition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	WSURL       string `yaml:"ws_url"`
	ChainID     int64  `yaml:"chain_id"`
	Token       string `yaml:"token"`
	OperatorKey string `yaml:"operator_key"`
	Description string `yaml:"description"`
}

// Load parses the YAML file containing chain metadata.
func Load(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	return defs, nil
}

// Default returns the definition for the given name, falling back to the
// single entry when only one chain is configured.
func (d Definitions) Default(name string) (Definition, error) {
	if name != "" {
		def, ok := d.Chains[name]
		if !ok {
			return Definition{}, fmt.Errorf("未找到链配置: %s", name)
		}
		return def, nil
	}
	if len(d.Chains) == 1 {
		for _, def := range d.Chains {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("存在 %d 个链配置，必须显式指定默认链", len(d.Chains))
}
