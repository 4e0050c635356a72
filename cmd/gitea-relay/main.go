package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "monitor":
		return runMonitorNoun(args)
	case "delivery":
		return runDeliveryNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: gitea-relay version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("gitea-relay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`gitea-relay - Gitea webhook to chat group relay

Usage:
  gitea-relay <noun> <action> [flags]

Resources (Nouns):
  system    Relay lifecycle and health
  config    Configuration and integrity
  monitor   Monitored repositories
  delivery  Recent webhook deliveries

System Commands:
  system start      Start the relay in the foreground
  system status     Show health of a running relay

Config Commands:
  config check      Validate configuration and integrity
  config lock       Authorize current config (write .checksums)

Monitor Commands:
  monitor add <repo_url> <secret> <group_id>
  monitor remove <repo_url>
  monitor list      List monitored repositories
  monitor info      Show Gitea webhook setup help

Delivery Commands:
  delivery list     Show recent delivery outcomes
  delivery watch    Live delivery dashboard
  delivery tail     Stream relay events as they happen

General:
  version           Show version information
  help              Show this help message

Monitor and delivery commands talk to a running relay's admin API
(--api-url, --token, or GITEA_RELAY_ADMIN_URL / GITEA_RELAY_ADMIN_TOKEN).
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: gitea-relay system start [--config PATH]")
			fmt.Println("Start the webhook relay in the foreground.")
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: gitea-relay system status [--api-url URL] [--json]")
			fmt.Println("Query /healthz of a running relay's admin API.")
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: gitea-relay config check [--config PATH]")
			fmt.Println("Validate syntax, values and the .checksums manifest.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: gitea-relay config lock [--config PATH]")
			fmt.Println("Write BLAKE3 hashes of the current config to .checksums.")
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runMonitorNoun(args []string) int {
	if len(args) < 1 {
		printMonitorNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printMonitorNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printMonitorNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "add":
		return runMonitorAdd(actionArgs)
	case "remove", "rm":
		return runMonitorRemove(actionArgs)
	case "list", "ls":
		return runMonitorList(actionArgs)
	case "info":
		return runMonitorInfo(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown monitor action: %s\n", action)
		return 1
	}
}

func runDeliveryNoun(args []string) int {
	if len(args) < 1 {
		printDeliveryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDeliveryNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	if hasHelpFlag(actionArgs) {
		printDeliveryNounHelp(os.Stdout)
		return 0
	}
	switch action {
	case "list", "ls":
		return runDeliveryList(actionArgs)
	case "watch":
		return runDeliveryWatch(actionArgs)
	case "tail":
		return runDeliveryTail(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown delivery action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gitea-relay system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gitea-relay config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printMonitorNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gitea-relay monitor <action> [--api-url URL] [--token TOKEN]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  add <repo_url> <secret> <group_id>   secret '-' reads it from stdin")
	fmt.Fprintln(w, "  remove <repo_url>")
	fmt.Fprintln(w, "  list [--json]")
	fmt.Fprintln(w, "  info [--json]")
}

func printDeliveryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gitea-relay delivery <action> [--api-url URL] [--token TOKEN]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list [--limit N] [--json]")
	fmt.Fprintln(w, "  watch [--interval 2s]")
	fmt.Fprintln(w, "  tail [--json]")
}
