package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"refiner/internal/chain"
	"refiner/internal/config"
	"refiner/internal/eek"
)

// filecheck is a small diagnostic tool: it queries one file's permission
// and refinement state from the registry, and attempts key recovery when a
// private key is configured.
func main() {
	_ = godotenv.Load()

	var (
		fileID  = flag.Uint64("file", 0, "File ID to inspect (required)")
		decrypt = flag.Bool("decrypt", false, "Attempt to decrypt the key envelope")
	)
	flag.Parse()

	if *fileID == 0 {
		fmt.Fprintf(os.Stderr, "Error: -file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.Registry(), cfg.Operator())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	envelope := client.FilePermissions(ctx, *fileID)
	if envelope == nil {
		fmt.Printf("file %d: no key granted to %s\n", *fileID, cfg.OperatorAddress)
		return
	}
	fmt.Printf("file %d: key envelope present (%d bytes)\n", *fileID, len(envelope))

	refined := client.FileRefined(ctx, *fileID, cfg.RefinerID)
	fmt.Printf("file %d: refined by refiner %d: %v\n", *fileID, cfg.RefinerID, refined)

	if *decrypt {
		priv, err := cfg.PrivateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		key, err := eek.NewDecrypter(priv).Decrypt(envelope)
		if err != nil {
			fmt.Printf("file %d: decrypt failed: %v\n", *fileID, err)
			os.Exit(1)
		}
		fmt.Printf("file %d: decrypted content key: %d bytes\n", *fileID, len(key))
	}
}
