package detections

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/kvstore"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// Command prints the persisted detections that have not expired yet
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "detections",
		Short: "Print the unexpired detections from the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Global().Module("detection")
			kv, err := kvstore.OpenSQLite(settings.Storage.Path, log)
			if err != nil {
				return err
			}
			defer kv.Close()

			store := detection.New(kv, detection.Config{
				TTL:         settings.Detections.TTL,
				DedupWindow: settings.Detections.DedupWindow,
			}, detection.WithLogger(log))
			if err := store.Load(cmd.Context()); err != nil {
				return err
			}
			return printEvents(store.List(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printEvents(events []detection.Event, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	if len(events) == 0 {
		fmt.Println("No active detections")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tDESCRIPTION\tLATITUDE\tLONGITUDE\tEXPIRES IN")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.5f\t%.5f\t%s\n",
			ev.ID, ev.Type, ev.Description,
			ev.Position.Latitude, ev.Position.Longitude,
			ev.ExpiresAt.Sub(now).Round(time.Second))
	}
	return w.Flush()
}
