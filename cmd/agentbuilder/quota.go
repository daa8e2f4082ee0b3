package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

var (
	quotaUser   string
	quotaType   string
	quotaLimit  float64
	quotaPeriod string
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage usage quotas",
}

var quotaProvisionCmd = &cobra.Command{
	Use:     "provision",
	Short:   "Create a user's quota",
	Example: "  agentbuilder quota provision --user 6f1c... --type token_usage --limit 100000 --period day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := period.Parse(quotaPeriod)
		if err != nil {
			return err
		}

		store, _, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := service.NewQuotaService(store).Provision(cmd.Context(), quota.ProvisionRequest{
			UserID:      quotaUser,
			QuotaType:   quotaType,
			Limit:       quotaLimit,
			ResetPeriod: p,
		})
		if err != nil {
			return fmt.Errorf("provision quota: %w", err)
		}
		fmt.Fprintf(os.Stdout, "quota %s for %s: limit %g per %s, resets at %s\n",
			q.QuotaType, q.UserID, q.Limit, q.ResetPeriod, q.NextReset.Format("2006-01-02 15:04:05Z07:00"))
		return nil
	},
}

var quotaSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Change the limit and period of an existing quota, keeping its usage",
	Example: "  agentbuilder quota set --user 6f1c... --type token_usage --limit 200000 --period day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := period.Parse(quotaPeriod)
		if err != nil {
			return err
		}

		store, _, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := service.NewQuotaService(store).Reconfigure(cmd.Context(), quota.ProvisionRequest{
			UserID:      quotaUser,
			QuotaType:   quotaType,
			Limit:       quotaLimit,
			ResetPeriod: p,
		})
		if err != nil {
			return fmt.Errorf("reconfigure quota: %w", err)
		}
		fmt.Fprintf(os.Stdout, "quota %s for %s: %g / %g per %s\n",
			q.QuotaType, q.UserID, q.Used, q.Limit, q.ResetPeriod)
		return nil
	},
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's quotas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if quotaUser == "" {
			return fmt.Errorf("--user is required")
		}
		store, _, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		qs, err := service.NewQuotaService(store).List(cmd.Context(), quotaUser)
		if err != nil {
			return fmt.Errorf("list quotas: %w", err)
		}
		for i := range qs {
			q := &qs[i]
			fmt.Fprintf(os.Stdout, "%-14s %g / %g (%s)\n", q.QuotaType, q.Used, q.Limit, q.ResetPeriod)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{quotaProvisionCmd, quotaSetCmd} {
		f := c.Flags()
		f.StringVar(&quotaUser, "user", "", "user ID")
		f.StringVar(&quotaType, "type", "", "quota type: api_call, token_usage or cost")
		f.Float64Var(&quotaLimit, "limit", 0, "limit value")
		f.StringVar(&quotaPeriod, "period", string(period.Day), "reset period: hour, day, week or month")
	}
	quotaListCmd.Flags().StringVar(&quotaUser, "user", "", "user ID")
	quotaCmd.AddCommand(quotaProvisionCmd, quotaSetCmd, quotaListCmd)
}
