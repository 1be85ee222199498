package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/json420/dmedia/mediastore/config"
)

// splitObject splits "id[.ext]" the same way the HTTP routes do.
func splitObject(object string) (id, ext string) {
	if i := strings.Index(object, "."); i >= 0 {
		return object[:i], object[i+1:]
	}
	return object, ""
}

var verifyCmd = &cobra.Command{
	Use:   "verify <id[.ext]>...",
	Short: "Re-hash canonical files and check them against their ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		for _, object := range args {
			id, ext := splitObject(object)
			if _, err := store.Verify(id, ext); err != nil {
				return err
			}
			fmt.Printf("%s  OK\n", id)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id[.ext]>...",
	Short: "Remove canonical files from the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		for _, object := range args {
			id, ext := splitObject(object)
			if err := store.Remove(id, ext); err != nil {
				return err
			}
			fmt.Printf("%s  removed\n", id)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify every canonical file in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		result, err := store.Audit(context.Background(), config.Configuration.AuditNumWorkers)
		if err != nil {
			return err
		}
		fmt.Printf("checked %d files\n", result.Checked)
		for _, id := range result.Corrupt {
			fmt.Printf("CORRUPT  %s\n", id)
		}
		if len(result.Corrupt) > 0 {
			return fmt.Errorf("%d corrupt files", len(result.Corrupt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd, removeCmd, auditCmd)
}
