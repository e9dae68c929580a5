package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplab/statsync/internal/model"
)

var cancelServer string

// Cancellation only makes sense against the process running the
// coordinator, so the command talks to the serve API rather than the
// store.
var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel an active run on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := cancelServer
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}

		url := fmt.Sprintf("%s/api/runs/%s/cancel", base, args[0])
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
		if err != nil {
			return eris.Wrap(err, "cancel: build request")
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "cancel: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusOK:
			fmt.Printf("Run %s cancelling; final status will be %q.\n", args[0], model.RunFailed)
			return nil
		case http.StatusConflict:
			return eris.Errorf("run %s is not active", args[0])
		default:
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(body, &e)
			return eris.Errorf("cancel failed (%d): %s", resp.StatusCode, e.Error)
		}
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelServer, "server", "", "base URL of the serve process (default http://localhost:<server.port>)")
	rootCmd.AddCommand(cancelCmd)
}
