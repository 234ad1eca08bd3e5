package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// Breaker state lives in the long-running serve process; these commands
// talk to its API rather than to a fresh in-process copy.
var breakerAddr string

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and reset source circuit breakers",
}

var breakerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the breaker state for each source category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(breakerAddr + "/api/status")
		if err != nil {
			return eris.Wrap(err, "breaker: query status server")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("breaker: status server returned %d", resp.StatusCode)
		}

		var status struct {
			Breakers map[string]resilience.BreakerStatus `json:"breakers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return eris.Wrap(err, "breaker: decode status")
		}

		formatBreakers(os.Stdout, status.Breakers)
		return nil
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <category>",
	Short: "Close the breaker for a source category (free, paid, ai)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		url := fmt.Sprintf("%s/api/breaker/%s/reset", breakerAddr, args[0])
		resp, err := client.Post(url, "application/json", nil)
		if err != nil {
			return eris.Wrap(err, "breaker: reset request")
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("breaker: reset failed (%d): %s", resp.StatusCode, body)
		}
		fmt.Fprintf(os.Stdout, "breaker reset: %s\n", args[0])
		return nil
	},
}

func formatBreakers(out *os.File, breakers map[string]resilience.BreakerStatus) {
	if len(breakers) == 0 {
		fmt.Fprintln(out, "No breakers tripped or consulted yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSTATE\tFAILURES\tTHRESHOLD")
	for name, st := range breakers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", name, st.State, st.ConsecutiveFailures, st.Threshold)
	}
	w.Flush()
}

func init() {
	breakerCmd.PersistentFlags().StringVar(&breakerAddr, "addr", "http://localhost:8080", "status server address")
	breakerCmd.AddCommand(breakerShowCmd)
	breakerCmd.AddCommand(breakerResetCmd)
	rootCmd.AddCommand(breakerCmd)
}
