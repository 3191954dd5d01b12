package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"PayRoute/internal/ledger"
	"PayRoute/internal/ledger/chainconfig"

	xerrors "PayRoute/internal/errors"
)

// erc20ABI covers the subset of the token contract the ledger adapter needs.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// transactBackend mirrors the subset of backend methods the client relies on.
type transactBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// committer is implemented by simulated backends that mine on demand.
type committer interface {
	Commit() common.Hash
}

// Client implements ledger.Ledger against an ERC-20 token on an EVM chain.
// Transfers are issued as transferFrom calls signed by the platform operator
// key, which token holders have approved beforehand.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   transactBackend
	token     common.Address
	contract  *bind.BoundContract
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and binds the settlement token.
func NewClient(ctx context.Context, cfg chainconfig.Definition) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("未配置结算代币合约地址")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.OperatorKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析 operator 私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	client := &Client{
		name:      cfg.Type,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		token:     common.HexToAddress(cfg.Token),
		chainID:   chainID,
		key:       key,
	}
	if err := client.bindToken(); err != nil {
		rpcClient.Close()
		return nil, err
	}
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing.
func NewSimulatedClient(name string, chainID *big.Int, backend transactBackend, token common.Address, key *ecdsa.PrivateKey) (*Client, error) {
	client := &Client{
		name:    name,
		backend: backend,
		token:   token,
		chainID: new(big.Int).Set(chainID),
		key:     key,
	}
	if err := client.bindToken(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) bindToken() error {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	c.contract = bind.NewBoundContract(c.token, parsedABI, c.backend, c.backend, c.backend)
	return nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Transfer implements ledger.Ledger. The kind label is a dashboard concern
// and is not recorded on chain; the chain history itself is authoritative.
func (c *Client) Transfer(ctx context.Context, from, to ledger.Account, amount int64, _ ledger.Kind) error {
	if amount <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正数")
	}
	if c == nil || c.contract == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "账本客户端未初始化")
	}

	// 链上 nonce 按 operator 账户串行分配。
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "构造交易签名器失败")
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, "transferFrom",
		common.HexToAddress(string(from)),
		common.HexToAddress(string(to)),
		big.NewInt(amount),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "提交转账交易失败")
	}

	if sim, ok := c.backend.(committer); ok {
		sim.Commit()
	}

	receipt, err := c.waitReceipt(ctx, tx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, "等待转账回执失败")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		// ERC-20 在余额或授权不足时回滚；revert reason 不可靠，统一按余额不足处理。
		return ledger.ErrInsufficientFunds
	}
	return nil
}

func (c *Client) waitReceipt(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if c.eth != nil {
		return bind.WaitMined(ctx, c.eth, tx)
	}
	return c.backend.TransactionReceipt(ctx, tx.Hash())
}

// BalanceOf implements ledger.Ledger.
func (c *Client) BalanceOf(ctx context.Context, account ledger.Account) (int64, error) {
	if c == nil || c.contract == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "账本客户端未初始化")
	}

	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(string(account)))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询余额失败")
	}
	if len(out) != 1 {
		return 0, xerrors.New(xerrors.CodeLedgerFailure, "余额返回值格式异常")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return 0, xerrors.New(xerrors.CodeLedgerFailure, "余额返回值类型异常")
	}
	if !balance.IsInt64() {
		return 0, xerrors.New(xerrors.CodeLedgerFailure, "余额超出 int64 表示范围")
	}
	return balance.Int64(), nil
}

// ensure interface compliance at compile time
var _ ledger.Ledger = (*Client)(nil)
