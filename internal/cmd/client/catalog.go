package client

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// NewCatalogCommand constructs the `catalog` command over the admin API.
func NewCatalogCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List services and topics produced by the node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			u := baseURL() + "/v1/catalog"
			if filter != "" {
				u += "?filter=" + url.QueryEscape(filter)
			}
			resp, err := http.Get(u)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("catalog: %s: %s", resp.Status, body)
			}
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	cmd.Flags().String("filter", "", `CEL filter, e.g. 'service == "telemetry" && tags["zone"] == "eu"'`)
	return cmd
}
