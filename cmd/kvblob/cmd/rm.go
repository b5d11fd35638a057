package cmd

import (
	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var rmCmd = &cobra.Command{
	Use:   "rm <uri> <key>...",
	Short: "Delete keys",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) (err error) {
	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	for _, arg := range args[1:] {
		if err := s.Delete(cmd.Context(), kvblob.ParseKey(arg)); err != nil {
			return err
		}
	}
	return nil
}
