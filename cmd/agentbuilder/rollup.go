package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

var (
	rollupPeriod string
	rollupFrom   string
	rollupTo     string
	rollupUser   string
	rollupAgent  string
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Aggregate raw metric events into period buckets",
	Long: `Aggregate raw metric events into hour, day, week or month buckets.
Without --from and --to the previous complete bucket is rolled up. A range
that does not start or end on a bucket boundary gets clipped edge buckets.
Existing aggregates for the same bucket are overwritten.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := period.Parse(rollupPeriod)
		if err != nil {
			return err
		}
		end := p.BucketStart(time.Now().UTC())
		start := p.BucketStart(end.Add(-time.Nanosecond))
		if rollupFrom != "" {
			if start, err = time.Parse(time.RFC3339, rollupFrom); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
		}
		if rollupTo != "" {
			if end, err = time.Parse(time.RFC3339, rollupTo); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
		}

		store, _, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := service.NewMetricService(store).Rollup(cmd.Context(), analytics.RollupRequest{
			Period:  p,
			Start:   start.UTC(),
			End:     end.UTC(),
			UserID:  rollupUser,
			AgentID: rollupAgent,
		})
		if err != nil {
			return fmt.Errorf("rollup: %w", err)
		}
		fmt.Fprintf(os.Stdout, "rolled up %d %s bucket(s) from %s to %s: %d group(s)\n",
			res.Buckets, res.Period, res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339), res.Groups)
		return nil
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupPeriod, "period", string(period.Hour), "bucket size: hour, day, week or month")
	rollupCmd.Flags().StringVar(&rollupFrom, "from", "", "range start (RFC 3339)")
	rollupCmd.Flags().StringVar(&rollupTo, "to", "", "range end (RFC 3339)")
	rollupCmd.Flags().StringVar(&rollupUser, "user", "", "only events of this user ID")
	rollupCmd.Flags().StringVar(&rollupAgent, "agent", "", "only events of this agent ID")
}
