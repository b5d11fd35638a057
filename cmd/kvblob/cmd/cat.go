package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var catCmd = &cobra.Command{
	Use:   "cat <uri> <key>",
	Short: "Write a value to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) (err error) {
	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	content, err := s.Value(cmd.Context(), kvblob.ParseKey(args[1]))
	if err != nil {
		return err
	}
	defer content.Close()

	_, err = io.Copy(cmd.OutOrStdout(), content)
	return err
}
