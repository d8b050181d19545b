// Package config は環境変数からの設定読み込みと検証
package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"

	"refiner/internal/models"
	"refiner/internal/report"
)

// Config はパイプライン実行に必要な設定。必須値の欠落は起動時の
// 致命的エラーであり、プロセスを非ゼロ終了させる。
type Config struct {
	PrivateKeyHex   string `validate:"required"`
	OperatorAddress string `validate:"omitempty,eth_addr"`
	RegistryAddress string `validate:"required,eth_addr"`
	RPCURL          string `validate:"required,url"`

	RefinerID     uint64
	RefinementURL string `validate:"required,url"`

	Mode      string `validate:"oneof=direct index"`
	StartID   uint64
	EndID     uint64
	BatchSize int `validate:"gt=0"`

	LogDir      string `validate:"required"`
	LogMaxBytes int64  `validate:"gt=0"`
	Verbose     bool

	DBPath     string `validate:"required"`
	StatusAddr string

	// EnvVars は精製サービスへそのまま渡すストレージ資格情報
	EnvVars map[string]string
}

// FromEnv は環境変数からConfigを構築する。検証はValidateで行う。
func FromEnv() (*Config, error) {
	cfg := &Config{
		PrivateKeyHex:   strings.TrimPrefix(os.Getenv("PRIVATE_KEY"), "0x"),
		OperatorAddress: os.Getenv("OPERATOR_ADDRESS"),
		RegistryAddress: os.Getenv("DATA_REGISTRY_ADDRESS"),
		RPCURL:          os.Getenv("RPC_URL"),
		RefinementURL:   os.Getenv("REFINEMENT_SERVICE_URL"),
		Mode:            getEnv("MODE", models.ModeDirect),
		LogDir:          getEnv("LOG_DIR", "logs"),
		Verbose:         os.Getenv("VERBOSE") == "true" || os.Getenv("VERBOSE") == "1",
		DBPath:          getEnv("DB_PATH", "data/refiner.db"),
		StatusAddr:      os.Getenv("STATUS_ADDR"),
		EnvVars:         map[string]string{},
	}

	var err error
	if cfg.RefinerID, err = getEnvUint("REFINER_ID", 0); err != nil {
		return nil, err
	}
	if cfg.StartID, err = getEnvUint("START_FILE_ID", 0); err != nil {
		return nil, err
	}
	if cfg.EndID, err = getEnvUint("END_FILE_ID", 1); err != nil {
		return nil, err
	}
	batch, err := getEnvUint("BATCH_SIZE", 10)
	if err != nil {
		return nil, err
	}
	cfg.BatchSize = int(batch)
	maxBytes, err := getEnvUint("LOG_MAX_BYTES", report.DefaultMaxBytes)
	if err != nil {
		return nil, err
	}
	cfg.LogMaxBytes = int64(maxBytes)

	// ストレージ側チャネルの資格情報（設定されたものだけ渡す）
	for _, key := range []string{"STORAGE_API_KEY", "STORAGE_API_SECRET"} {
		if v := os.Getenv(key); v != "" {
			cfg.EnvVars[key] = v
		}
	}

	return cfg, nil
}

// Validate は構造タグによる検証と鍵・ウィンドウの整合性確認を行う
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	priv, err := c.PrivateKey()
	if err != nil {
		return err
	}
	derived := crypto.PubkeyToAddress(priv.PublicKey)
	if c.OperatorAddress == "" {
		c.OperatorAddress = derived.Hex()
	} else if common.HexToAddress(c.OperatorAddress) != derived {
		return fmt.Errorf("OPERATOR_ADDRESS %s does not match the private key (expected %s)",
			c.OperatorAddress, derived.Hex())
	}

	if c.StartID < c.EndID {
		return fmt.Errorf("START_FILE_ID %d is below END_FILE_ID %d (the window is descending)",
			c.StartID, c.EndID)
	}
	return nil
}

// PrivateKey は操作者秘密鍵をパースして返す
func (c *Config) PrivateKey() (*ecdsa.PrivateKey, error) {
	priv, err := crypto.HexToECDSA(c.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}
	return priv, nil
}

// Registry はレジストリコントラクトのアドレスを返す
func (c *Config) Registry() common.Address {
	return common.HexToAddress(c.RegistryAddress)
}

// Operator は操作者アドレスを返す
func (c *Config) Operator() common.Address {
	return common.HexToAddress(c.OperatorAddress)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}
