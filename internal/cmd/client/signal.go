package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	transports "github.com/zhongdj/reactiveservices/internal/cmd/client/transports"
)

// NewSignalCommand constructs the `signal` command.
func NewSignalCommand(wsURL WSURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send a signal to a producing service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _ := cmd.Flags().GetString("service")
			topic, _ := cmd.Flags().GetString("topic")
			tagFlags, _ := cmd.Flags().GetStringArray("tag")
			payload, _ := cmd.Flags().GetString("payload")
			expiryMs, _ := cmd.Flags().GetInt64("expiry-ms")
			await, _ := cmd.Flags().GetBool("await")
			if svc == "" || topic == "" {
				return fmt.Errorf("--service and --topic are required")
			}
			tags, err := parseTags(tagFlags)
			if err != nil {
				return err
			}

			ack, err := getTransport(wsURL).Signal(cmd.Context(), transports.SignalRequest{
				Service:  svc,
				Topic:    topic,
				Tags:     tags,
				Payload:  []byte(payload),
				ExpiryMs: expiryMs,
				Await:    await,
			})
			if err != nil {
				return err
			}
			if await {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"ok":      ack.OK,
					"payload": decodedPayload(ack.Payload),
				})
			}
			fmt.Println("signal sent")
			return nil
		},
	}
	cmd.Flags().String("service", "", "Service key")
	cmd.Flags().String("topic", "", "Topic key")
	cmd.Flags().StringArray("tag", nil, "Subject tag key=value (repeatable)")
	cmd.Flags().String("payload", "", "Signal payload")
	cmd.Flags().Int64("expiry-ms", 0, "Drop the signal when undeliverable within this window (0 = no expiry)")
	cmd.Flags().Bool("await", false, "Wait for the correlated ack")
	return cmd
}
