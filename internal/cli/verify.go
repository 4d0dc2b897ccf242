package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jujuci/bundleverify/internal/config"
	"github.com/jujuci/bundleverify/internal/juju"
	"github.com/jujuci/bundleverify/internal/models"
	"github.com/jujuci/bundleverify/internal/observability"
	"github.com/jujuci/bundleverify/internal/validation"
	"github.com/jujuci/bundleverify/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [services...]",
	Short: "Run a one-shot verification and print the result",
	Long: "Probes every unit of the named services and prints a pass/fail summary.\n" +
		"With no services and --bundle landscape, runs the Landscape bundle\nassessment (haproxy, landscape-server, postgresql, rabbitmq-server over\nhttps, expecting \"Landscape\" in the response).",
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&flagScheme, "scheme", "", "probe URL scheme (http or https)")
	verifyCmd.Flags().StringVar(&flagText, "text", "", "text fragment the response body must contain")
	verifyCmd.Flags().IntVar(&flagPort, "port", 0, "probe port (default: the scheme's well-known port)")
	verifyCmd.Flags().StringVar(&flagBundle, "bundle", "", "named bundle to assess (landscape)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger("verify")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg)

	client := juju.NewCLIClient(cfg.JujuPath, cfg.Model, cfg.StatusTimeout)
	verifier := verify.NewHTTPVerifier(logger)

	var report *models.Report
	switch {
	case flagBundle == "landscape" && len(args) == 0:
		report, err = verify.AssessLandscapeBundle(cmd.Context(), verifier, client)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			if report != nil {
				// The run completed; the bundle is what failed.
				return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
			}
			return err
		}
		return nil
	case flagBundle == "landscape":
		return fmt.Errorf("--bundle landscape takes no service arguments")
	case flagBundle != "":
		return fmt.Errorf("unknown bundle %q", flagBundle)
	case len(args) == 0:
		return fmt.Errorf("no services given (try --bundle landscape)")
	}

	services := make([]string, 0, len(args))
	for _, arg := range args {
		name, err := validation.ValidateServiceName(arg)
		if err != nil {
			return fmt.Errorf("%q: %w", arg, err)
		}
		services = append(services, name)
	}

	report, err = verifier.VerifyServices(cmd.Context(), client, services, optionsFromConfig(cfg))
	if err != nil {
		return err
	}
	printReport(report)
	if !report.OK() {
		logger.Warn("verification failed", zap.Strings("failed", report.Failed()))
		return ErrVerificationFailed
	}
	return nil
}

func applyFlags(cfg *config.Config) {
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagJuju != "" {
		cfg.JujuPath = flagJuju
	}
	if flagScheme != "" {
		cfg.Scheme = flagScheme
	}
	if flagText != "" {
		cfg.Text = flagText
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
}

func optionsFromConfig(cfg *config.Config) verify.Options {
	return verify.Options{
		Scheme:             cfg.Scheme,
		Text:               cfg.Text,
		Port:               cfg.Port,
		Timeout:            cfg.ProbeTimeout,
		Attempts:           cfg.RetryAttempts,
		RetryBaseDelay:     cfg.RetryBaseDelay,
		RetryMaxDelay:      cfg.RetryMaxDelay,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

func printReport(report *models.Report) {
	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	model := report.Model
	if model == "" {
		model = "current model"
	}
	fmt.Printf("verifying %s over %s\n", model, report.Scheme)
	for _, svc := range report.Services {
		if svc.Passed {
			fmt.Printf("  %s %s\n", pass("PASS"), svc.Service)
			continue
		}
		fmt.Printf("  %s %s", fail("FAIL"), svc.Service)
		if svc.Reason != "" {
			fmt.Printf(" (%s)", svc.Reason)
		}
		fmt.Println()
		for _, probe := range svc.Probes {
			if probe.Passed {
				continue
			}
			fmt.Printf("       %s: %s\n", probe.Unit, probe.Reason)
		}
	}
	if report.OK() {
		fmt.Println(pass("bundle verified"))
	} else {
		fmt.Println(fail("bundle verification failed"))
	}
}
