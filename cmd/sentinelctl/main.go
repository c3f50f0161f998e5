// sentinelctl - command line client for the SentinelOps security gate
//
// Usage:
//
//	sentinelctl -server http://localhost:8080 -username dev -password ... <command>
//
// Commands:
//
//	trigger <repo-url>   Trigger a pipeline run (-branch, -image, -watch)
//	list                 List recent pipeline runs (-limit)
//	status <run-id>      Show one run
//	watch <run-id>       Poll a run until it finishes
//	cancel <run-id>      Cancel a run (admin)
//	summary              Show the current risk posture
//	policy               Show the deployment policy
//	set-policy <file>    Replace the policy from a JSON file (admin)
//	report <kind>        Print the latest raw bandit or trivy report
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelops/sentinel/pkg/client"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/tracker"
	"github.com/sentinelops/sentinel/pkg/watch"
)

const (
	appName    = "sentinelctl"
	appVersion = "1.0.0"
)

func main() {
	serverURL := flag.String("server", "", "Server URL (or SENTINEL_SERVER env)")
	username := flag.String("username", "", "Username (or SENTINEL_USERNAME env)")
	password := flag.String("password", "", "Password (or SENTINEL_PASSWORD env)")
	token := flag.String("token", "", "Bearer token from a previous login (or SENTINEL_TOKEN env)")
	branch := flag.String("branch", "", "Branch to scan (trigger)")
	image := flag.String("image", "", "Container image to scan (trigger)")
	limit := flag.Int("limit", 10, "Maximum runs to list")
	watchRun := flag.Bool("watch", false, "Watch the triggered run until it finishes")
	interval := flag.Duration("interval", watch.DefaultInterval, "Watch polling interval")
	outputJSON := flag.Bool("json", false, "Output raw JSON")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newClient(ctx, *serverURL, *username, *password, *token)
	if err != nil {
		fatal(err)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "trigger":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s trigger <repo-url>", appName))
		}
		err = runTrigger(ctx, c, rest[0], *branch, *image, *watchRun, *interval, *outputJSON)
	case "list":
		err = runList(ctx, c, *limit, *outputJSON)
	case "status":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s status <run-id>", appName))
		}
		err = runStatus(ctx, c, rest[0], *outputJSON)
	case "watch":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s watch <run-id>", appName))
		}
		err = runWatch(ctx, c, rest[0], *interval)
	case "cancel":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s cancel <run-id>", appName))
		}
		err = runCancel(ctx, c, rest[0])
	case "summary":
		err = runSummary(ctx, c, *outputJSON)
	case "policy":
		err = runPolicy(ctx, c)
	case "set-policy":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s set-policy <file.json>", appName))
		}
		err = runSetPolicy(ctx, c, rest[0])
	case "report":
		if len(rest) != 1 {
			fatal(fmt.Errorf("usage: %s report <bandit|trivy>", appName))
		}
		err = runReport(ctx, c, rest[0])
	default:
		fatal(fmt.Errorf("unknown command: %s", command))
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func envOrFlag(flagVal, envName string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envName)
}

func newClient(ctx context.Context, serverURL, username, password, token string) (*client.Client, error) {
	serverURL = envOrFlag(serverURL, "SENTINEL_SERVER")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	c, err := client.New(&client.Config{
		BaseURL: serverURL,
		Token:   envOrFlag(token, "SENTINEL_TOKEN"),
	})
	if err != nil {
		return nil, err
	}

	if c.Token() == "" {
		username = envOrFlag(username, "SENTINEL_USERNAME")
		password = envOrFlag(password, "SENTINEL_PASSWORD")
		if username == "" {
			return nil, fmt.Errorf("credentials required: use -username/-password, -token, or the SENTINEL_* env vars")
		}
		if _, err := c.Login(ctx, username, password); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ============================================================================
// Commands
// ============================================================================

func runTrigger(ctx context.Context, c *client.Client, repoURL, branch, image string, watchRun bool, interval time.Duration, outputJSON bool) error {
	run, err := c.Trigger(ctx, tracker.TriggerRequest{
		RepoURL: repoURL,
		Branch:  branch,
		Image:   image,
	})
	if err != nil {
		return err
	}

	if outputJSON && !watchRun {
		return printJSON(run)
	}
	fmt.Printf("Pipeline %s queued for %s\n", run.ID, run.RepoName)

	if !watchRun {
		return nil
	}
	return watchToCompletion(ctx, c, run.ID, interval)
}

func runList(ctx context.Context, c *client.Client, limit int, outputJSON bool) error {
	runs, err := c.Pipelines(ctx, limit)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No pipeline runs.")
		return nil
	}
	fmt.Printf("%-10s %-20s %-10s %-10s %-6s %s\n", "ID", "REPO", "BRANCH", "STATUS", "SCORE", "TRIGGERED")
	for _, run := range runs {
		score := "-"
		if run.SecurityScore != nil {
			score = fmt.Sprintf("%d", *run.SecurityScore)
		}
		fmt.Printf("%-10s %-20s %-10s %-10s %-6s %s\n",
			run.ID, run.RepoName, run.Branch, run.Status, score,
			run.TriggeredAt.Format(time.RFC3339))
	}
	return nil
}

func runStatus(ctx context.Context, c *client.Client, id string, outputJSON bool) error {
	run, err := c.PipelineRun(ctx, id)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(run)
	}
	printRun(run)
	return nil
}

func runWatch(ctx context.Context, c *client.Client, id string, interval time.Duration) error {
	return watchToCompletion(ctx, c, id, interval)
}

func runCancel(ctx context.Context, c *client.Client, id string) error {
	run, err := c.Cancel(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Pipeline %s cancelled.\n", run.ID)
	return nil
}

func runSummary(ctx context.Context, c *client.Client, outputJSON bool) error {
	summary, err := c.Summary(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(summary)
	}

	fmt.Printf("Security Score: %d/100 (%s)\n", summary.Assessment.SecurityScore, summary.Assessment.Grade)
	if summary.RunID != "" {
		fmt.Printf("Latest run:     %s (%s)\n", summary.RunID, summary.Repo)
	}
	fmt.Printf("Findings:       %d total (critical: %d, high: %d, medium: %d, low: %d)\n",
		summary.Summary.Total, summary.Summary.Critical, summary.Summary.High,
		summary.Summary.Medium, summary.Summary.Low)
	for name, src := range summary.Sources {
		fmt.Printf("  %-16s score %d/100, %d findings\n", name, src.Assessment.SecurityScore, src.Summary.Total)
	}
	return nil
}

func runPolicy(ctx context.Context, c *client.Client) error {
	pol, err := c.Policy(ctx)
	if err != nil {
		return err
	}
	return printJSON(pol)
}

func runSetPolicy(ctx context.Context, c *client.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var pol policy.Policy
	if err := json.Unmarshal(data, &pol); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	updated, err := c.UpdatePolicy(ctx, &pol)
	if err != nil {
		return err
	}
	fmt.Println("Policy updated.")
	return printJSON(updated)
}

func runReport(ctx context.Context, c *client.Client, kind string) error {
	data, err := c.Report(ctx, kind)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

// ============================================================================
// Output
// ============================================================================

func watchToCompletion(ctx context.Context, c *client.Client, id string, interval time.Duration) error {
	w := watch.New(c, &watch.Config{Interval: interval})

	seen := make(map[string]tracker.StageStatus)
	final, err := w.Watch(ctx, id, func(run *tracker.PipelineRun) {
		for _, stage := range run.Stages {
			if stage.Status == tracker.StagePending || seen[string(stage.Key)] == stage.Status {
				continue
			}
			seen[string(stage.Key)] = stage.Status
			fmt.Printf("  [%s] %s\n", stage.Status, stage.Name)
		}
	})
	if err != nil {
		return err
	}

	fmt.Println()
	printRun(final)
	if final.IsDeployable != nil && !*final.IsDeployable {
		os.Exit(1)
	}
	return nil
}

func printRun(run *tracker.PipelineRun) {
	fmt.Printf("Pipeline %s  %s@%s  [%s]\n", run.ID, run.RepoName, run.Branch, run.Status)
	for _, stage := range run.Stages {
		duration := ""
		if stage.DurationSeconds > 0 {
			duration = fmt.Sprintf(" (%.1fs)", stage.DurationSeconds)
		}
		fmt.Printf("  %-24s %s%s\n", stage.Name, stage.Status, duration)
		if stage.Error != "" {
			fmt.Printf("    error: %s\n", stage.Error)
		}
	}
	if run.SecurityScore != nil {
		fmt.Printf("Security Score: %d/100 (%s)\n", *run.SecurityScore, run.Grade)
	}
	if run.IsDeployable != nil {
		if *run.IsDeployable {
			fmt.Println("Deployment: APPROVED")
		} else {
			fmt.Println("Deployment: BLOCKED")
			for _, v := range run.Violations {
				fmt.Printf("  - %s\n", v)
			}
		}
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
