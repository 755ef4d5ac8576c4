package client

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	transports "github.com/zhongdj/reactiveservices/internal/cmd/client/transports"
)

// NewSubscribeCommand constructs the `subscribe` command.
func NewSubscribeCommand(wsURL WSURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a topic stream and print updates as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _ := cmd.Flags().GetString("service")
			topic, _ := cmd.Flags().GetString("topic")
			tagFlags, _ := cmd.Flags().GetStringArray("tag")
			priority, _ := cmd.Flags().GetString("priority")
			aggregationMs, _ := cmd.Flags().GetInt("aggregation-ms")
			if svc == "" || topic == "" {
				return fmt.Errorf("--service and --topic are required")
			}
			tags, err := parseTags(tagFlags)
			if err != nil {
				return err
			}

			req := transports.SubscribeRequest{
				Service:       svc,
				Topic:         topic,
				Tags:          tags,
				AggregationMs: aggregationMs,
			}
			if priority != "" {
				req.PriorityKey = &priority
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(os.Stdout)
			return getTransport(wsURL).Subscribe(ctx, req, func(u transports.Update) error {
				return enc.Encode(u)
			})
		},
	}
	cmd.Flags().String("service", "", "Service key")
	cmd.Flags().String("topic", "", "Topic key")
	cmd.Flags().StringArray("tag", nil, "Subject tag key=value (repeatable)")
	cmd.Flags().String("priority", "", "Priority key (empty = lowest)")
	cmd.Flags().Int("aggregation-ms", 0, "Coalesce updates into at most one per window (0 = every update)")
	return cmd
}
