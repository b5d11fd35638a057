package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var mvCmd = &cobra.Command{
	Use:   "mv <uri> <source> <destination>",
	Short: "Move a value to another key",
	Args:  cobra.ExactArgs(3),
	RunE:  runMv,
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func runMv(cmd *cobra.Command, args []string) (err error) {
	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	return s.Move(cmd.Context(), kvblob.ParseKey(args[1]), kvblob.ParseKey(args[2]))
}
