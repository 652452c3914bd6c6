// genkeys writes a fresh ledger signing key pair to a directory.
//
//	go run ./tools --dir ./keys
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"stageci/internal/security"
)

func main() {
	dir := pflag.String("dir", "./keys", "directory receiving ledger.pub and ledger.key")
	force := pflag.Bool("force", false, "overwrite an existing key pair")
	pflag.Parse()

	if _, err := os.Stat(filepath.Join(*dir, "ledger.key")); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "genkeys: %s already holds a key pair (use --force to replace it)\n", *dir)
		os.Exit(1)
	}

	kp, err := security.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "genkeys: %v\n", err)
		os.Exit(2)
	}
	if err := kp.Save(*dir); err != nil {
		fmt.Fprintf(os.Stderr, "genkeys: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("# ======= Ed25519 ledger key pair =======")
	fmt.Printf("dir:        %s\n", *dir)
	fmt.Printf("public key: %s\n", kp.PublicHex())
	fmt.Println("# =======================================")
}
