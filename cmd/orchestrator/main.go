package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/config"
	"github.com/mattjoyce/orchestrator/internal/doctor"
	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/inspect"
	"github.com/mattjoyce/orchestrator/internal/log"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/rulegen"
	"github.com/mattjoyce/orchestrator/internal/ruleengine"
	"github.com/mattjoyce/orchestrator/internal/storage"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(rest)
	case "rules":
		return runRulesNoun(rest)
	case "executions":
		return runExecutionsNoun(rest)

	case "start":
		if hasHelpFlag(rest) {
			printStartHelp()
			return 0
		}
		return runStart(rest)
	case "version":
		fmt.Printf("orchestrator version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`orchestrator - Event-driven policy orchestration for the membership platform

Usage:
  orchestrator <noun> <action> [flags]

Core Resources (Nouns):
  config      Configuration validation
  rules       Generated rule source and rule engine sync
  executions  Recorded policy executions

Commands:
  start                         Start the orchestrator in the foreground
  config check                  Validate configuration and print its fingerprint
  rules render <id|name>        Print the rule source generated for a policy
  rules sync                    Deploy changed active policies to the rule engine
  executions inspect <id>       Show an execution and its trace

General:
  version           Show version information
  help              Show this help message

Use 'orchestrator <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

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
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRulesNoun(args []string) int {
	if len(args) < 1 {
		printRulesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRulesNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "render":
		if hasHelpFlag(actionArgs) {
			printRulesRenderHelp()
			return 0
		}
		return runRulesRender(actionArgs)
	case "sync":
		if hasHelpFlag(actionArgs) {
			printRulesSyncHelp()
			return 0
		}
		return runRulesSync(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown rules action: %s\n", action)
		return 1
	}
}

func runExecutionsNoun(args []string) int {
	if len(args) < 1 {
		printExecutionsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printExecutionsNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printExecutionsInspectHelp()
			return 0
		}
		return runExecutionsInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown executions action: %s\n", action)
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

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: orchestrator config <action> [flags]")
	fmt.Fprintln(w, "Actions: check")
}

func printRulesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: orchestrator rules <action> [flags]")
	fmt.Fprintln(w, "Actions: render, sync")
}

func printExecutionsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: orchestrator executions <action> [flags]")
	fmt.Fprintln(w, "Actions: inspect")
}

func printStartHelp() {
	fmt.Println("Usage: orchestrator start [--config PATH]")
	fmt.Println("Start consumers, scheduler, webhook and admin API in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: orchestrator config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and report its BLAKE3 fingerprint.")
}

func printRulesRenderHelp() {
	fmt.Println("Usage: orchestrator rules render <policy-id|name> [--config PATH]")
	fmt.Println("Print the rule source generated for a stored policy.")
}

func printRulesSyncHelp() {
	fmt.Println("Usage: orchestrator rules sync [--config PATH] [--force]")
	fmt.Println("Deploy changed or missing active policies to the rule engine.")
	fmt.Println("--force redeploys every active policy.")
}

func printExecutionsInspectHelp() {
	fmt.Println("Usage: orchestrator executions inspect <execution-id> [--config PATH] [--json]")
	fmt.Println("Show a recorded execution with its step trace.")
}

// --- ACTION IMPLEMENTATIONS ---

// loadConfig loads the named config, or the discovered one, or defaults
// plus ORCH_* overrides when nothing is found.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = config.Discover()
		if configPath != "" {
			fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", configPath)
		}
	}
	return config.Load(configPath)
}

// splitPositional separates the first positional argument from flags so
// flags may follow it, e.g. 'rules render 3 --config x.yaml'.
func splitPositional(args []string) (string, []string) {
	var positional string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "-"):
			rest = append(rest, arg)
			if !strings.Contains(arg, "=") && arg != "--json" && arg != "-json" && i+1 < len(args) {
				rest = append(rest, args[i+1])
				i++
			}
		case positional == "":
			positional = arg
		default:
			rest = append(rest, arg)
		}
	}
	return positional, rest
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		if cfg.SourcePath != "" {
			fmt.Printf("Config      : %s\n", cfg.SourcePath)
			fmt.Printf("Fingerprint : %s\n", cfg.Fingerprint)
		} else {
			fmt.Println("Config      : <defaults and environment>")
		}
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runRulesRender(args []string) int {
	idArg, flagArgs := splitPositional(args)

	var configPath string
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if idArg == "" {
		fmt.Fprintf(os.Stderr, "Usage: orchestrator rules render <policy-id|name> [--config PATH]\n")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	store := policy.NewStore(db)
	var def *policy.Definition
	if id, convErr := strconv.ParseInt(idArg, 10, 64); convErr == nil {
		def, err = store.Get(ctx, id)
	} else {
		def, err = store.GetByName(ctx, idArg)
	}
	if errors.Is(err, policy.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Policy %s not found\n", idArg)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read policy: %v\n", err)
		return 1
	}

	fmt.Print(rulegen.Generate(def))
	return 0
}

func runRulesSync(args []string) int {
	var configPath string
	var force bool
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&force, "force", false, "Redeploy every active policy even if unchanged")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("rules")

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	engine := ruleengine.New(cfg.Services.RuleURL, newUpstream("rule-engine", cfg, true, logger))
	deployer := rulegen.NewDeployer(engine, policy.NewStore(db), logger,
		rulegen.WithRetry(cfg.Service.RuleSyncAttempts, cfg.Service.RuleSyncBackoff))

	syncRules := deployer.SyncAll
	if force {
		syncRules = deployer.ResyncAll
	}
	if err := syncRules(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Rule sync failed: %v\n", err)
		return 1
	}
	fmt.Println("Rule sync complete.")
	return 0
}

func runExecutionsInspect(args []string) int {
	idArg, flagArgs := splitPositional(args)

	var configPath string
	var jsonOut bool
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Usage: orchestrator executions inspect <execution-id> [--config PATH] [--json]\n")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	executions := execlog.NewStore(db)
	policies := policy.NewStore(db)

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(ctx, executions, policies, id)
	} else {
		report, err = inspect.BuildReport(ctx, executions, policies, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	if jsonOut {
		fmt.Println()
	}
	return 0
}
