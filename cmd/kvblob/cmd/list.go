package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var listCmd = &cobra.Command{
	Use:     "ls <uri> [prefix]",
	Aliases: []string{"list"},
	Short:   "List keys in storage",
	Long:    "List all keys in a storage, optionally filtered by prefix.",
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) (err error) {
	prefix := kvblob.Root
	if len(args) > 1 {
		prefix = kvblob.ParseKey(args[1])
	}

	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	keys, err := s.List(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	if len(keys) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "(no keys)")
	}
	return nil
}
