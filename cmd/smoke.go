// -- cmd/smoke.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/internal/clock"
	"github.com/xkilldash9x/stagehand/internal/config"
	"github.com/xkilldash9x/stagehand/internal/driver/chromium"
	"github.com/xkilldash9x/stagehand/internal/fixture"
	"github.com/xkilldash9x/stagehand/internal/harness"
	"github.com/xkilldash9x/stagehand/internal/observability"
	"github.com/xkilldash9x/stagehand/internal/retry"
	"github.com/xkilldash9x/stagehand/internal/session"
)

// newSmokeCmd creates the `smoke` command: a single end-to-end check that
// launches the browser, navigates to the target, and waits for a selector
// to become visible.
func newSmokeCmd() *cobra.Command {
	smokeCmd := &cobra.Command{
		Use:   "smoke [url]",
		Short: "Runs a single end-to-end browser check against a URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("harness.max_attempts", cmd.Flags().Lookup("attempts")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			targetURL := args[0]
			selector := viper.GetString("selector")
			waitTimeout := viper.GetDuration("wait_timeout")
			reportPath := viper.GetString("report")

			drv := chromium.NewDriver(cfg.Browser, logger)
			engine := retry.NewEngine(cfg.Retry, clock.System(), logger)
			mgr := session.NewManager(cfg, drv, engine, logger)
			defer func() {
				if err := mgr.Shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Shutdown reported errors.", zap.Error(err))
				}
			}()

			suite := newSmokeSuite(cfg, logger, mgr, targetURL, selector, waitTimeout)
			report, runErr := suite.RunAll(ctx)

			if reportPath != "" {
				if werr := writeReport(report, reportPath); werr != nil {
					logger.Error("Failed to write report.", zap.String("path", reportPath), zap.Error(werr))
					if runErr == nil {
						runErr = werr
					}
				}
			}

			if runErr != nil {
				return fmt.Errorf("smoke check failed: %w", runErr)
			}
			logger.Info("Smoke check passed.", zap.String("url", targetURL))
			return nil
		},
	}

	smokeCmd.Flags().String("selector", "body", "CSS selector that must become visible")
	smokeCmd.Flags().Duration("wait_timeout", 10*time.Second, "how long to wait for the selector")
	smokeCmd.Flags().String("report", "", "write a JSON run report to this path")
	smokeCmd.Flags().Bool("headless", true, "run the browser headless")
	smokeCmd.Flags().Int("attempts", 1, "retry the check up to this many times")

	return smokeCmd
}

// newSmokeSuite wires the browser hierarchy through fixtures: the browser
// is process-scoped, the isolated session worker-scoped, and the document
// test-scoped, so a retried attempt always starts from a fresh page.
func newSmokeSuite(cfg *config.Config, logger *zap.Logger, mgr *session.Manager, url, selector string, timeout time.Duration) *harness.Suite {
	registry := fixture.NewRegistry()

	_ = registry.Register("browser", fixture.ScopeProcess, nil,
		func(ctx context.Context, _ fixture.Deps) (any, error) {
			return mgr.LaunchBrowser(ctx)
		},
		func(ctx context.Context, value any) error {
			return value.(*session.Browser).Close(ctx)
		})

	_ = registry.Register("session", fixture.ScopeWorker, []string{"browser"},
		func(ctx context.Context, deps fixture.Deps) (any, error) {
			return deps["browser"].(*session.Browser).NewSession(ctx)
		},
		func(ctx context.Context, value any) error {
			return value.(*session.IsolatedSession).Close(ctx)
		})

	_ = registry.Register("document", fixture.ScopeTest, []string{"session"},
		func(ctx context.Context, deps fixture.Deps) (any, error) {
			return deps["session"].(*session.IsolatedSession).NewDocument(ctx)
		},
		func(ctx context.Context, value any) error {
			return value.(*session.Document).Close(ctx)
		})

	// A single check needs a single lane.
	hcfg := cfg.Harness
	hcfg.WorkerConcurrency = 1

	suite := harness.NewSuite(hcfg, registry, logger)
	suite.Add("smoke", func(ctx context.Context, t *harness.T) error {
		v, err := t.Fixture(ctx, "document")
		if err != nil {
			return err
		}
		doc := v.(*session.Document)
		if err := doc.Navigate(ctx, url); err != nil {
			return fmt.Errorf("navigation to %s failed: %w", url, err)
		}
		return doc.WaitForVisible(ctx, selector, retry.Options{Timeout: timeout})
	})
	return suite
}

func writeReport(report *harness.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.Write(f)
}
