package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/kvblob"
)

var pullCmd = &cobra.Command{
	Use:   "pull <image-ref> <uri>",
	Short: "Restore a registry snapshot into storage",
	Long:  "Pull an OCI snapshot, verify every entry and save it into a storage. Keys that are not in the snapshot are kept.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) (err error) {
	ref := args[0]

	s, err := openStorage(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	fmt.Fprintf(cmd.ErrOrStderr(), "Pulling %s...\n", ref)

	summary, err := kvblob.PullSnapshot(cmd.Context(), ref, s, kvblob.WithSnapshotConcurrency(snapshotConcurrency()))
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Done. %d keys restored\n", summary.Keys)
	return nil
}

func snapshotConcurrency() int {
	if n := viper.GetInt("concurrency"); n > 0 {
		return n
	}
	return kvblob.DefaultCopyConcurrency
}
