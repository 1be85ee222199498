package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/json420/dmedia/core/common"
	"github.com/json420/dmedia/mediastore/hashtree"
)

var (
	idDigest   string
	idLeafSize int64
)

var idCmd = &cobra.Command{
	Use:   "id <file>...",
	Short: "Compute content ids without importing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algo, err := hashtree.LookupAlgorithm(idDigest)
		if err != nil {
			return err
		}
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			fi, err := f.Stat()
			if err != nil {
				f.Close()
				return err
			}
			if fi.Size() == 0 {
				f.Close()
				return common.NewErrorf("empty_file", "%s is empty, empty files have no content hash", path)
			}
			ch, _, err := hashtree.HashStream(f, fi.Size(), idLeafSize, algo, nil)
			f.Close()
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d  %s\n", ch.ID, ch.FileSize, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
	idCmd.Flags().StringVar(&idDigest, "digest", "sha1", "digest algorithm (sha1, sha256, sha3-256, blake3)")
	idCmd.Flags().Int64Var(&idLeafSize, "leaf-size", hashtree.DefaultLeafSize, "leaf size in bytes")
}
