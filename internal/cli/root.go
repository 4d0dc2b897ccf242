package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/jujuci/bundleverify/internal/cli.version=1.2.3"
	version = "dev"

	flagModel  string
	flagScheme string
	flagText   string
	flagPort   int
	flagBundle string
	flagJuju   string
)

// ErrVerificationFailed marks a run where the tooling worked but the bundle
// did not pass. Callers map it to a distinct exit code.
var ErrVerificationFailed = errors.New("verification failed")

var rootCmd = &cobra.Command{
	Use:          "bundleverify",
	Short:        "Verify that the services of a deployed Juju bundle are serving",
	Long:         "bundleverify reads model status through the juju CLI, probes every unit\nof the named services over HTTP(S), and checks the response for an expected\ntext fragment.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an Execute error to the process exit code: 0 on success,
// 1 when verification failed, 2 on operational errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrVerificationFailed):
		return 1
	default:
		return 2
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "model to verify (default: the controller's current model)")
	rootCmd.PersistentFlags().StringVar(&flagJuju, "juju", "", "path to the juju binary")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
