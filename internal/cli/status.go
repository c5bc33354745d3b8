package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/corefabric/proxy/internal/api"
	"github.com/corefabric/proxy/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running core's health and summary",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	base := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/api/summary")
	if err != nil {
		return fmt.Errorf("core unreachable at %s: %w", base, err)
	}
	defer resp.Body.Close()

	var summary api.SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "proxy id:\t%s\n", summary.ProxyID)
	fmt.Fprintf(w, "intent graph:\t%d nodes, %d edges\n", summary.IntentNodeCount, summary.IntentEdgeCount)
	fmt.Fprintf(w, "predictor trained:\t%v\n", summary.PredictorTrained)
	fmt.Fprintf(w, "policy:\t%s states learned, epsilon %.3f\n", humanize.Comma(int64(summary.QTableSize)), summary.PolicyEpsilon)
	if info, err := os.Stat(filepath.Join(cfg.Core.StateDir, "state.db")); err == nil {
		fmt.Fprintf(w, "state db:\t%s (%s)\n", humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
	}
	return w.Flush()
}
