// Command duelctl is an operator CLI for the duel escrow service: recovery
// status, dust sweeps, and health checks against a running instance's
// internal API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type apiClient struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

func (c *apiClient) get(path string) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Internal-Secret", c.internalKey)
	return c.do(req)
}

func (c *apiClient) post(path string, body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.internalKey)
	return c.do(req)
}

func (c *apiClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w (status %d, body %s)", err, resp.StatusCode, string(raw))
	}
	return parsed, nil
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func main() {
	var baseURL, internalKey string

	root := &cobra.Command{Use: "duelctl", Short: "operator CLI for the duel escrow service"}
	root.PersistentFlags().StringVar(&baseURL, "base-url", "http://localhost:8080", "base URL of the running service")
	root.PersistentFlags().StringVar(&internalKey, "internal-key", os.Getenv("INTERNAL_API_KEY"), "internal API shared secret")

	client := func() *apiClient {
		return &apiClient{baseURL: baseURL, internalKey: internalKey, httpClient: &http.Client{Timeout: 10 * time.Second}}
	}

	root.AddCommand(healthCmd(client))
	root.AddCommand(recoveryCmd(client))
	root.AddCommand(dustCmd(client))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func healthCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "check service liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().get("/health")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}

func recoveryCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "recovery", Short: "inspect and act on duels needing manual recovery"}

	status := &cobra.Command{
		Use:   "status",
		Short: "list failed and pending-settlement duels",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().get("/api/v1/duel/recovery/status")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}

	var duelID, player1, player2, token string
	var stake int64
	emergencyRefund := &cobra.Command{
		Use:   "emergency-refund",
		Short: "refund both players for a duel whose reverse stealth map is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().post("/api/v1/duel/recovery/emergency-refund", map[string]any{
				"duelId":                 duelID,
				"player1Wallet":          player1,
				"player2Wallet":          player2,
				"stakePerPlayerLamports": stake,
				"token":                  token,
			})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	emergencyRefund.Flags().StringVar(&duelID, "duel-id", "", "duel id (32-hex)")
	emergencyRefund.Flags().StringVar(&player1, "player1", "", "player 1 wallet address")
	emergencyRefund.Flags().StringVar(&player2, "player2", "", "player 2 wallet address")
	emergencyRefund.Flags().StringVar(&token, "token", "SOL", "token symbol")
	emergencyRefund.Flags().Int64Var(&stake, "stake", 0, "per-player stake, smallest unit")
	_ = emergencyRefund.MarkFlagRequired("duel-id")
	_ = emergencyRefund.MarkFlagRequired("player1")
	_ = emergencyRefund.MarkFlagRequired("player2")
	_ = emergencyRefund.MarkFlagRequired("stake")

	cmd.AddCommand(status, emergencyRefund)
	return cmd
}

func dustCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{Use: "dust", Short: "inspect and sweep accumulated house-fee dust"}

	var token string
	status := &cobra.Command{
		Use:   "status",
		Short: "show the accumulated dust counter for a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().get("/api/v1/duel/dust-status?token=" + token)
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	status.Flags().StringVar(&token, "token", "SOL", "token symbol")

	var sweepToken string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "sweep accumulated dust to the treasury wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().post("/api/v1/duel/sweep-dust", map[string]any{"token": sweepToken})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	sweep.Flags().StringVar(&sweepToken, "token", "SOL", "token symbol")

	cmd.AddCommand(status, sweep)
	return cmd
}
