// Package chain は権限レジストリコントラクトの読み取り専用クライアント。
// コントラクトのアドレスとABIは固定なので、関数セレクタを直接エンコード
// して eth_call を発行する（名前解決のラウンドトリップを省く）。
// RPC障害やデコード失敗は呼び出し元へ伝播させず、欠落（absent）として
// 扱う。不確かな読み取りは「権限なし」「未精製」side に倒す。
package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	stringType, _  = abi.NewType("string", "", nil)

	permissionsArgs = abi.Arguments{{Type: uint256Type}, {Type: addressType}}
	refinementsArgs = abi.Arguments{{Type: uint256Type}, {Type: uint256Type}}
	entryAtArgs     = abi.Arguments{{Type: uint256Type}}

	stringReturn  = abi.Arguments{{Type: stringType}}
	uint256Return = abi.Arguments{{Type: uint256Type}}

	permissionsSelector = crypto.Keccak256([]byte("filePermissions(uint256,address)"))[:4]
	refinementsSelector = crypto.Keccak256([]byte("fileRefinements(uint256,uint256)"))[:4]
	entryAtSelector     = crypto.Keccak256([]byte("entryAt(uint256)"))[:4]
)

// Client はレジストリへの共有・ステートレスな読み取りクライアント。
// 並行するすべての問い合わせから安全に再利用できる。
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	operator common.Address
}

// Dial はRPCエンドポイントへ接続しクライアントを作成
func Dial(ctx context.Context, rpcURL string, contract, operator common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return &Client{eth: eth, contract: contract, operator: operator}, nil
}

// Close は接続を閉じる
func (c *Client) Close() {
	c.eth.Close()
}

// FilePermissions returns the encrypted key envelope granted to the operator
// for the file, or nil when no key is granted. RPC and decode failures also
// return nil; callers cannot tell the two apart.
func (c *Client) FilePermissions(ctx context.Context, fileID uint64) []byte {
	out, err := c.call(ctx, permissionsSelector, permissionsArgs,
		new(big.Int).SetUint64(fileID), c.operator)
	if err != nil {
		slog.Error("contract-error: filePermissions call failed", "file_id", fileID, "error", err)
		return nil
	}
	if len(out) == 0 {
		slog.Debug("no permission record", "file_id", fileID)
		return nil
	}
	vals, err := stringReturn.Unpack(out)
	if err != nil {
		slog.Error("contract-error: filePermissions decode failed", "file_id", fileID, "error", err)
		return nil
	}
	encoded, _ := vals[0].(string)
	if encoded == "" {
		slog.Debug("empty permission record", "file_id", fileID)
		return nil
	}
	key, err := decodeHexKey(encoded)
	if err != nil {
		slog.Error("contract-error: permission key is not valid hex", "file_id", fileID, "error", err)
		return nil
	}
	return key
}

// FileRefined reports whether the refiner has already refined the file.
// Absent records and read failures both collapse to false ("not yet refined").
func (c *Client) FileRefined(ctx context.Context, fileID, refinerID uint64) bool {
	out, err := c.call(ctx, refinementsSelector, refinementsArgs,
		new(big.Int).SetUint64(fileID), new(big.Int).SetUint64(refinerID))
	if err != nil {
		slog.Error("contract-error: fileRefinements call failed", "file_id", fileID, "error", err)
		return false
	}
	if len(out) == 0 {
		return false
	}
	vals, err := stringReturn.Unpack(out)
	if err != nil {
		slog.Error("contract-error: fileRefinements decode failed", "file_id", fileID, "error", err)
		return false
	}
	record, _ := vals[0].(string)
	slog.Debug("refinement record", "file_id", fileID, "refined", record != "")
	return record != ""
}

// FileIDAt resolves a registry-wide sequential index to a file ID.
// Returns false for out-of-range indexes, reverted calls, and decode failures.
func (c *Client) FileIDAt(ctx context.Context, index uint64) (uint64, bool) {
	out, err := c.call(ctx, entryAtSelector, entryAtArgs, new(big.Int).SetUint64(index))
	if err != nil {
		slog.Error("contract-error: entryAt call failed", "index", index, "error", err)
		return 0, false
	}
	if len(out) == 0 {
		return 0, false
	}
	vals, err := uint256Return.Unpack(out)
	if err != nil {
		slog.Error("contract-error: entryAt decode failed", "index", index, "error", err)
		return 0, false
	}
	id, ok := vals[0].(*big.Int)
	if !ok || !id.IsUint64() || id.Sign() == 0 {
		// The registry returns 0 for unassigned indexes.
		return 0, false
	}
	return id.Uint64(), true
}

// call packs the arguments behind the fixed selector and issues eth_call
// against the latest block.
func (c *Client) call(ctx context.Context, selector []byte, args abi.Arguments, vals ...interface{}) ([]byte, error) {
	packed, err := args.Pack(vals...)
	if err != nil {
		return nil, fmt.Errorf("abi pack: %w", err)
	}
	msg := ethereum.CallMsg{
		To:   &c.contract,
		Data: append(append([]byte{}, selector...), packed...),
	}
	return c.eth.CallContract(ctx, msg, nil)
}

// decodeHexKey decodes the hex-encoded envelope stored in the registry.
// Both 0x-prefixed and bare hex occur in practice.
func decodeHexKey(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
