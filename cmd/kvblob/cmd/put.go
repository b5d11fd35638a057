package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var putCmd = &cobra.Command{
	Use:   "put <uri> <key> [file]",
	Short: "Store a value",
	Long:  "Store the contents of file, or stdin when no file is given, under key.",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) (err error) {
	var content kvblob.Content
	if len(args) == 3 {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		content = kvblob.NewContent(f, info.Size())
	} else {
		content = kvblob.NewContent(cmd.InOrStdin(), -1)
	}

	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		content.Close()
		return err
	}
	defer closeInto(s, &err)

	key := kvblob.ParseKey(args[1])
	if err := s.Save(cmd.Context(), key, content); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Stored %s\n", key)
	return nil
}
