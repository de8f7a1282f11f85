package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthPort string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running node's /health endpoint",
	RunE: func(c *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get("http://localhost:" + healthPort + "/health")
		if err != nil {
			return fmt.Errorf("query health endpoint: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read health response: %w", err)
		}

		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			fmt.Println(string(body))
			return nil
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthPort, "port", "8080", "health server port")
}
