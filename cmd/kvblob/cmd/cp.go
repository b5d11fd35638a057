package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/kvblob"
)

var cpCmd = &cobra.Command{
	Use:   "cp <source-uri> <destination-uri> [keys...]",
	Short: "Copy keys between storages",
	Long:  "Copy every key, or only the given keys, from one storage into another. Destination keys are added or overwritten, never deleted.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCp,
}

func init() {
	cpCmd.Flags().Int("concurrency", kvblob.DefaultCopyConcurrency, "number of keys transferred in parallel")
	viper.BindPFlag("concurrency", cpCmd.Flags().Lookup("concurrency"))
	rootCmd.AddCommand(cpCmd)
}

func runCp(cmd *cobra.Command, args []string) (err error) {
	src, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(src, &err)

	dst, err := openStorage(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	defer closeInto(dst, &err)

	keys := kvblob.AllKeys()
	if len(args) > 2 {
		explicit := make([]kvblob.Key, 0, len(args)-2)
		for _, arg := range args[2:] {
			explicit = append(explicit, kvblob.ParseKey(arg))
		}
		keys = kvblob.ExplicitKeys(explicit...)
	}

	start := time.Now()
	job := kvblob.NewCopy(src,
		kvblob.WithKeys(keys),
		kvblob.WithConcurrency(viper.GetInt("concurrency")),
		kvblob.WithCopyLogger(slog.Default()),
	)
	if err := job.To(cmd.Context(), dst); err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}

	slog.Info("copy complete", slog.String("from", src.URI()), slog.String("to", dst.URI()),
		slog.Duration("duration", time.Since(start)))
	return nil
}
