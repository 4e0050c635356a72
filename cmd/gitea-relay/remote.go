package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/gitea-relay/internal/admin"
	"github.com/mattjoyce/gitea-relay/internal/events"
	"github.com/mattjoyce/gitea-relay/internal/tui"
)

const (
	defaultAdminURL = "http://127.0.0.1:8766"
	adminURLEnv     = "GITEA_RELAY_ADMIN_URL"
	adminTokenEnv   = "GITEA_RELAY_ADMIN_TOKEN"
)

// remoteFlags are shared by every command that talks to the admin API.
type remoteFlags struct {
	apiURL string
	token  string
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.apiURL, "api-url", "", "Admin API base URL (env "+adminURLEnv+")")
	fs.StringVar(&r.token, "token", "", "Admin API bearer token (env "+adminTokenEnv+")")
}

func (r *remoteFlags) client() *admin.Client {
	apiURL := firstNonEmpty(r.apiURL, os.Getenv(adminURLEnv), defaultAdminURL)
	token := firstNonEmpty(r.token, os.Getenv(adminTokenEnv))
	return admin.NewClient(apiURL, token)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// splitFlagsAndPositionals lets flags appear after positionals, which the
// flag package does not allow on its own.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	return flags, positionals
}

var remoteValueFlags = map[string]bool{
	"--api-url": true, "-api-url": true,
	"--token": true, "-token": true,
	"--limit": true, "-limit": true,
	"--interval": true, "-interval": true,
}

func parseRemote(name string, args []string, setup func(fs *flag.FlagSet)) (*remoteFlags, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	rf := &remoteFlags{}
	rf.register(fs)
	if setup != nil {
		setup(fs)
	}

	flags, positionals := splitFlagsAndPositionals(args, remoteValueFlags)
	if err := fs.Parse(flags); err != nil {
		return nil, nil, err
	}
	return rf, append(positionals, fs.Args()...), nil
}

func reportAPIError(action string, err error) int {
	var apiErr *admin.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "❌ %s failed: %s (HTTP %d)\n", action, apiErr.Message, apiErr.Status)
		return 1
	}
	fmt.Fprintf(os.Stderr, "❌ %s failed: %v\n", action, err)
	return 1
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runMonitorAdd(args []string) int {
	rf, pos, err := parseRemote("monitor add", args, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 3 {
		fmt.Fprintln(os.Stderr, "❌ Missing arguments.\nUsage: gitea-relay monitor add <repo_url> <secret> <group_id>")
		return 1
	}
	repoURL, secret, group := pos[0], pos[1], pos[2]

	if secret == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Failed to read secret from stdin: %v\n", err)
			return 1
		}
		secret = strings.TrimRight(line, "\r\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := rf.client().Add(ctx, repoURL, secret, group)
	if err != nil {
		return reportAPIError("Add monitor", err)
	}

	fmt.Printf("✅ Monitor added\nRepository: %s\nPath: %s\nGroup: %s\n", resp.Monitor.RepoURL, resp.Monitor.RepoPath, resp.Monitor.Group)
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", resp.Warning)
		return 1
	}
	return 0
}

func runMonitorRemove(args []string) int {
	rf, pos, err := parseRemote("monitor remove", args, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, "❌ Missing repository URL.\nUsage: gitea-relay monitor remove <repo_url>")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := rf.client().Remove(ctx, pos[0])
	if err != nil {
		return reportAPIError("Remove monitor", err)
	}

	fmt.Printf("✅ Monitor removed\nRepository: %s\n", resp.Monitor.RepoURL)
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", resp.Warning)
		return 1
	}
	return 0
}

func runMonitorList(args []string) int {
	var jsonOut bool
	rf, _, err := parseRemote("monitor list", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := rf.client().List(ctx)
	if err != nil {
		return reportAPIError("List monitors", err)
	}
	if jsonOut {
		return printJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("📋 No repositories are monitored")
		return 0
	}
	fmt.Printf("📋 Monitored repositories (%d)\n", resp.Count)
	fmt.Println(tui.MonitorsTable(resp.Monitors, tui.NewDefaultTheme()))
	return 0
}

func runMonitorInfo(args []string) int {
	var jsonOut bool
	rf, _, err := parseRemote("monitor info", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := rf.client().Info(ctx)
	if err != nil {
		return reportAPIError("Fetch info", err)
	}
	if jsonOut {
		return printJSON(info)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📖 Gitea webhook setup\n\n🌐 Webhook URL:\n%s\n\n📝 Steps:\n", info.WebhookURL)
	for i, step := range info.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\n💡 Commands:\n")
	for _, c := range info.Commands {
		fmt.Fprintf(&b, "%s\n", c)
	}
	b.WriteString("\n⚠️ Notes:\n")
	for _, n := range info.Notes {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	fmt.Printf("%s\nCurrently monitored: %d\n", b.String(), info.Monitors)
	return 0
}

func runDeliveryList(args []string) int {
	var (
		jsonOut bool
		limit   int
	)
	rf, _, err := parseRemote("delivery list", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
		fs.IntVar(&limit, "limit", 20, "Number of deliveries to show")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := rf.client().Deliveries(ctx, limit)
	if err != nil {
		return reportAPIError("List deliveries", err)
	}
	if jsonOut {
		return printJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No deliveries recorded")
		return 0
	}
	fmt.Println(tui.DeliveriesTable(resp.Deliveries, tui.NewDefaultTheme()))
	return 0
}

func runDeliveryWatch(args []string) int {
	var interval time.Duration
	rf, _, err := parseRemote("delivery watch", args, func(fs *flag.FlagSet) {
		fs.DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if err := tui.RunWatch(rf.client(), interval); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runDeliveryTail(args []string) int {
	var jsonOut bool
	rf, _, err := parseRemote("delivery tail", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Print raw events as JSON lines")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	theme := tui.NewDefaultTheme()
	err = rf.client().Stream(ctx, func(ev events.Event) error {
		if jsonOut {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(tui.EventLine(ev, theme))
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return reportAPIError("Event stream", err)
	}
	return 0
}

func runSystemStatus(args []string) int {
	var jsonOut bool
	rf, _, err := parseRemote("system status", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := rf.client().Health(ctx)
	if err != nil {
		return reportAPIError("Health check", err)
	}
	if jsonOut {
		return printJSON(health)
	}
	fmt.Printf("status: %s\nmonitors: %d\nuptime: %s\n", health.Status, health.Monitors, time.Duration(health.UptimeSeconds)*time.Second)
	return 0
}
