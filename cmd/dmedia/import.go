package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/json420/dmedia/mediastore/filestore"
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import local files into the store",
	Long: `Imports each file by streaming it through the tree hash into the
store's transfers directory, then renaming it into the canonical layout.
A file whose content is already in the store is reported as a duplicate,
which is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		for _, path := range args {
			ch, err := store.ImportFile(path, extOf(path))
			if filestore.IsDuplicate(err) {
				fmt.Printf("%s  %s (duplicate)\n", ch.ID, path)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", ch.ID, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
