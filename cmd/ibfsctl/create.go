package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/4s1ght/ibfs/internal/icipher"
	"github.com/4s1ght/ibfs/internal/iconfig"
	"github.com/4s1ght/ibfs/pkg/ibfs"
)

var (
	flagBlockSizeLevel uint8
	flagBlockCount     uint64
	flagCipher         string
	flagKey            string
)

var createCmd = &cobra.Command{
	Use:   "create PATH",
	Short: "build a new, empty IBFS volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cipher, err := parseCipher(flagCipher)
		if err != nil {
			return err
		}

		cfg := iconfig.Defaults()
		if flagLeaseTimeout > 0 {
			cfg.LeaseTimeout = time.Duration(flagLeaseTimeout) * time.Millisecond
		}

		fs, err := ibfs.CreateEmpty(context.Background(), ibfs.CreateOptions{
			Path:           args[0],
			BlockSizeLevel: flagBlockSizeLevel,
			BlockCount:     flagBlockCount,
			Cipher:         cipher,
			UserKey:        []byte(flagKey),
			Config:         cfg,
			Log:            log,
			Progress: func(written, total int64) {
				log.Debugf("zero-filling: %d/%d bytes", written, total)
			},
		})
		if err != nil {
			return err
		}
		defer fs.Close()

		fmt.Printf("created %s\n", args[0])
		return nil
	},
}

func parseCipher(s string) (icipher.Cipher, error) {
	switch s {
	case "none":
		return icipher.CipherNone, nil
	case "aes-128-xts":
		return icipher.CipherAES128XTS, nil
	case "aes-256-xts":
		return icipher.CipherAES256XTS, nil
	default:
		return 0, fmt.Errorf("unknown cipher %q -- try one of: none, aes-128-xts, aes-256-xts", s)
	}
}

func init() {
	createCmd.Flags().Uint8VarP(&flagBlockSizeLevel, "block-size-level", "b", 3, "block size level, 1 (1 KiB) to 15 (16 MiB)")
	createCmd.Flags().Uint64VarP(&flagBlockCount, "blocks", "n", 1024, "total number of physical blocks in the volume")
	createCmd.Flags().StringVarP(&flagCipher, "cipher", "c", "aes-256-xts", "block cipher: none, aes-128-xts, aes-256-xts")
	createCmd.Flags().StringVarP(&flagKey, "key", "k", "", "user key, required unless --cipher=none")
	createCmd.Flags().IntVar(&flagLeaseTimeout, "lease-timeout-ms", 0, "I/O queue lease timeout in milliseconds (0 = default)")
}
