package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/kvblob"
)

var pushCmd = &cobra.Command{
	Use:   "push <uri> <image-ref>",
	Short: "Push a storage snapshot to a registry",
	Long:  "Push every key of a storage as an OCI image. Credentials come from the docker config keychain.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) (err error) {
	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	ref := args[1]
	fmt.Fprintf(cmd.ErrOrStderr(), "Pushing %s...\n", ref)

	summary, err := kvblob.PushSnapshot(cmd.Context(), s, ref,
		kvblob.WithSnapshotConcurrency(snapshotConcurrency()),
		kvblob.WithSnapshotCompression(viper.GetInt("compression")),
	)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Done. %d keys in %d layers, digest %s\n", summary.Keys, summary.Layers, summary.Digest)
	return nil
}
