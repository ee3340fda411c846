package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"nightwatch/internal/lifecycle"
	"nightwatch/internal/storage"
	"nightwatch/pkg/models"
)

const usage = `alertctl - operate on the Nightwatch alert database

Usage:
  alertctl <command> [flags]

Commands:
  alerts     List alerts
  show       Show one alert with its status history
  ack        Acknowledge an open alert
  resolve    Resolve an acknowledged alert
  campaigns  List campaigns
  campaign   Show one campaign with its alert chain

Run 'alertctl <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "alerts":
		os.Exit(runAlerts(os.Args[2:]))
	case "show":
		os.Exit(runShow(os.Args[2:]))
	case "ack":
		os.Exit(runTransition(os.Args[2:], "ack", models.StatusAcknowledged))
	case "resolve":
		os.Exit(runTransition(os.Args[2:], "resolve", models.StatusResolved))
	case "campaigns":
		os.Exit(runCampaigns(os.Args[2:]))
	case "campaign":
		os.Exit(runCampaign(os.Args[2:]))
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func openStore(path string) (*storage.Store, int) {
	store, err := storage.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		return nil, 1
	}
	return store, 0
}

func runAlerts(args []string) int {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	db := fs.String("db", "data/nightwatch.db", "Path to the alert database")
	endpoint := fs.String("endpoint", "", "Filter by endpoint id")
	status := fs.String("status", "", "Filter by status (open|acknowledged|resolved)")
	severity := fs.String("severity", "", "Filter by severity")
	minRisk := fs.Int("min-risk", 0, "Minimum risk score")
	limit := fs.Int("limit", 50, "Maximum rows")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(args)

	store, code := openStore(*db)
	if code != 0 {
		return code
	}
	defer store.Close()

	alerts, err := store.ListAlerts(context.Background(), storage.AlertFilter{
		EndpointID: *endpoint,
		Status:     models.AlertStatus(*status),
		Severity:   models.Severity(*severity),
		MinRisk:    *minRisk,
		Limit:      *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list alerts: %v\n", err)
		return 1
	}

	if *asJSON {
		return printJSON(alerts)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRULE\tENDPOINT\tSEVERITY\tRISK\tEVENTS\tSTATUS\tCREATED")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			a.ID, a.RuleName, a.EndpointID, a.Severity, a.RiskScore, a.EventCount,
			a.Status, a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return 0
}

func runShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	db := fs.String("db", "data/nightwatch.db", "Path to the alert database")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: alertctl show [flags] <alert-id>")
		return 2
	}

	store, code := openStore(*db)
	if code != 0 {
		return code
	}
	defer store.Close()

	ctx := context.Background()
	alert, err := store.GetAlert(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get alert: %v\n", err)
		return 1
	}
	history, err := store.StatusHistory(ctx, alert.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get status history: %v\n", err)
		return 1
	}

	out := struct {
		Alert   *models.Alert               `json:"alert"`
		History []models.AlertStatusHistory `json:"history"`
	}{alert, history}
	return printJSON(out)
}

func runTransition(args []string, name string, target models.AlertStatus) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	db := fs.String("db", "data/nightwatch.db", "Path to the alert database")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: alertctl %s [flags] <alert-id>\n", name)
		return 2
	}

	store, code := openStore(*db)
	if code != 0 {
		return code
	}
	defer store.Close()

	svc := lifecycle.NewService(store)
	alert, err := svc.Transition(context.Background(), fs.Arg(0), target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transition failed: %v\n", err)
		return 1
	}
	fmt.Printf("alert %s is now %s\n", alert.ID, alert.Status)
	return 0
}

func runCampaigns(args []string) int {
	fs := flag.NewFlagSet("campaigns", flag.ExitOnError)
	db := fs.String("db", "data/nightwatch.db", "Path to the alert database")
	endpoint := fs.String("endpoint", "", "Filter by endpoint id")
	limit := fs.Int("limit", 50, "Maximum rows")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(args)

	store, code := openStore(*db)
	if code != 0 {
		return code
	}
	defer store.Close()

	campaigns, err := store.ListCampaigns(context.Background(), *endpoint, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list campaigns: %v\n", err)
		return 1
	}

	if *asJSON {
		return printJSON(campaigns)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENDPOINT\tCHAIN\tRISK\tCAPPED\tUPDATED")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%s\n",
			c.ID, c.EndpointID, c.ChainLength, c.RiskScore, c.ScoreBreakdown.Capped,
			c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return 0
}

func runCampaign(args []string) int {
	fs := flag.NewFlagSet("campaign", flag.ExitOnError)
	db := fs.String("db", "data/nightwatch.db", "Path to the alert database")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: alertctl campaign [flags] <campaign-id>")
		return 2
	}

	store, code := openStore(*db)
	if code != 0 {
		return code
	}
	defer store.Close()

	ctx := context.Background()
	campaign, err := store.GetCampaign(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get campaign: %v\n", err)
		return 1
	}
	alerts, err := store.CampaignAlerts(ctx, campaign.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get campaign alerts: %v\n", err)
		return 1
	}

	out := struct {
		Campaign *models.Campaign `json:"campaign"`
		Alerts   []*models.Alert  `json:"alerts"`
	}{campaign, alerts}
	return printJSON(out)
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		return 1
	}
	return 0
}
