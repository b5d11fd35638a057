package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/kvblob"
)

var errDigestMismatch = errors.New("digest mismatch")

var verifyCmd = &cobra.Command{
	Use:   "verify <uri> <key>",
	Short: "Check a value against a digest",
	Long:  "Stream a value through a hash and compare it with the expected digest. Exits non-zero on mismatch or when the key does not exist.",
	Args:  cobra.ExactArgs(2),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().String("algorithm", "sha256", "digest algorithm (md5, sha1, sha256, sha512, blake3)")
	verifyCmd.Flags().String("digest", "", "expected digest in hex")
	verifyCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) (err error) {
	algName, _ := cmd.Flags().GetString("algorithm")
	alg, err := kvblob.ParseAlgorithm(algName)
	if err != nil {
		return err
	}
	digest, _ := cmd.Flags().GetString("digest")
	expected, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("invalid digest: %w", err)
	}

	s, err := openStorage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	key := kvblob.ParseKey(args[1])
	ok, err := kvblob.NewDigestVerification(alg, expected).Validate(cmd.Context(), key, kvblob.FromStorage(s, key))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, errDigestMismatch)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", key)
	return nil
}
