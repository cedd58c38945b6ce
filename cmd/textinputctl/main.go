// textinputctl is the control CLI for textinputd.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"textinputd/internal/autofill"
	"textinputd/internal/config"
)

// Version is the textinputctl release version.
const Version = "0.3.0"

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket path")
	jsonOut    = flag.Bool("json", false, "print raw JSON where applicable")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdIPCStatus()
	case "ping":
		cmdIPCPing()
	case "state":
		cmdIPCState()
	case "show":
		cmdIPCKeyboard(true)
	case "hide":
		cmdIPCKeyboard(false)
	case "watch":
		cmdIPCWatch()
	case "shutdown":
		reason := ""
		if flag.NArg() >= 2 {
			reason = strings.Join(flag.Args()[1:], " ")
		}
		cmdIPCShutdown(reason)
	case "autofill":
		cmdAutofill(flag.Args()[1:])
	case "config":
		cmdConfig()
	case "version":
		fmt.Printf("textinputctl %s\n", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `textinputctl - Control utility for textinputd

Usage: textinputctl [options] <command> [args]

Commands:
  status                 Show live daemon status
  ping                   Check whether the daemon responds
  state                  Show the current editing-state mirror
  show                   Force the keyboard visible
  hide                   Force the keyboard hidden
  watch                  Stream daemon events until interrupted
  shutdown [reason]      Ask the daemon to stop
  autofill list          List stored autofill entries (metadata only)
  autofill stats         Show autofill store statistics
  autofill delete <ctx>  Delete every value saved for one context
  autofill clear         Delete every stored value
  autofill prune         Apply the retention policy now
  config                 Print the resolved configuration
  help                   Show this help message

Options:
  -config <path>  Path to config file (default: auto-discovered)
  -socket <path>  Daemon socket path (default: from config)
  -json           Print raw JSON where applicable`)
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		printError(fmt.Sprintf("Error loading config: %v", err))
		os.Exit(1)
	}
	return cfg
}

// daemonSocket resolves the socket the daemon listens on. The flag wins
// over the configuration so a non-default daemon can still be reached.
func daemonSocket() string {
	if *socketPath != "" {
		return *socketPath
	}
	return loadConfig().IPC.SocketPath
}

// The autofill commands open the store directly rather than going
// through the daemon; the busy timeout covers a concurrently running
// daemon.
func openStore() *autofill.Store {
	cfg := loadConfig()

	if _, err := os.Stat(cfg.Autofill.StorePath); os.IsNotExist(err) {
		fmt.Printf("  %sNo autofill store at %s%s\n", c.Dim, cfg.Autofill.StorePath, c.Reset)
		os.Exit(0)
	}

	store, err := autofill.Open(cfg.Autofill)
	if err != nil {
		printError(fmt.Sprintf("Error opening autofill store: %v", err))
		os.Exit(1)
	}
	return store
}

func cmdAutofill(args []string) {
	if len(args) == 0 {
		printError("Usage: textinputctl autofill <list|stats|delete|clear|prune>")
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	switch args[0] {
	case "list":
		entries, err := store.List()
		if err != nil {
			printError(fmt.Sprintf("Failed to list entries: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			fmt.Println(prettyJSON(entries))
			return
		}
		if len(entries) == 0 {
			fmt.Printf("  %sNo stored autofill values.%s\n", c.Dim, c.Reset)
			return
		}

		printSection("AUTOFILL ENTRIES")
		fmt.Printf("  %-28s %-20s %s\n", "Context", "Hint", "Updated")
		fmt.Println("  " + strings.Repeat("-", 66))
		for _, e := range entries {
			fmt.Printf("  %-28s %-20s %s\n",
				clip(e.ContextID, 28), clip(e.Hint, 20),
				e.UpdatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println()

	case "stats":
		st, err := store.Stats()
		if err != nil {
			printError(fmt.Sprintf("Failed to read statistics: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			fmt.Println(prettyJSON(st))
			return
		}

		printSection("AUTOFILL STORE")
		fmt.Printf("  %sEntries%s         %d\n", c.Dim, c.Reset, st.Entries)
		fmt.Printf("  %sContexts%s        %d\n", c.Dim, c.Reset, st.Contexts)
		fmt.Printf("  %sDistinct Hints%s  %d\n", c.Dim, c.Reset, st.DistinctHints)
		if st.Entries > 0 {
			fmt.Printf("  %sOldest%s          %s\n", c.Dim, c.Reset, st.OldestEntry.Format("2006-01-02 15:04"))
			fmt.Printf("  %sNewest%s          %s\n", c.Dim, c.Reset, st.NewestEntry.Format("2006-01-02 15:04"))
		}
		fmt.Printf("  %sOn Disk%s         %s\n", c.Dim, c.Reset, formatBytes(st.SizeBytes))
		fmt.Println()

	case "delete":
		if len(args) < 2 {
			printError("Usage: textinputctl autofill delete <context>")
			os.Exit(1)
		}
		if err := store.Delete(args[1]); err != nil {
			printError(fmt.Sprintf("Failed to delete context: %v", err))
			os.Exit(1)
		}
		fmt.Printf("Deleted stored values for context: %s\n", args[1])

	case "clear":
		n, err := store.Clear()
		if err != nil {
			printError(fmt.Sprintf("Failed to clear store: %v", err))
			os.Exit(1)
		}
		fmt.Printf("Removed %d stored values.\n", n)

	case "prune":
		n, err := store.Prune()
		if err != nil {
			printError(fmt.Sprintf("Failed to prune store: %v", err))
			os.Exit(1)
		}
		if n == 0 {
			fmt.Println("Nothing to prune.")
		} else {
			fmt.Printf("Pruned %d expired values.\n", n)
		}

	default:
		printError(fmt.Sprintf("Unknown autofill action: %s", args[0]))
		os.Exit(1)
	}
}

// cmdConfig prints the resolved configuration, after defaults, file
// values and environment overrides have been applied.
func cmdConfig() {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		printError(fmt.Sprintf("Error loading config: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		fmt.Println(prettyJSON(cfg))
		return
	}

	printSection("CONFIGURATION")
	if path == "" {
		fmt.Printf("  %sFile%s             built-in defaults (no config file found)\n", c.Dim, c.Reset)
	} else {
		fmt.Printf("  %sFile%s             %s\n", c.Dim, c.Reset, path)
	}

	printSection("IPC")
	fmt.Printf("  %sSocket%s           %s\n", c.Dim, c.Reset, cfg.IPC.SocketPath)
	fmt.Printf("  %sMax Connections%s  %d\n", c.Dim, c.Reset, cfg.IPC.MaxConnections)

	printSection("ENGINE")
	fmt.Printf("  %sBackend%s          %s (fallback: %v)\n", c.Dim, c.Reset, cfg.Backends.Preferred, cfg.Backends.AllowFallback)
	fmt.Printf("  %sReplay%s           %v\n", c.Dim, c.Reset, cfg.Engine.ReplayOnRestart)
	fmt.Printf("  %sPrivate Commands%s %v\n", c.Dim, c.Reset, cfg.Engine.AllowPrivateCommands)
	fmt.Printf("  %sClient Queue%s     %d\n", c.Dim, c.Reset, cfg.Engine.ClientQueueSize)

	printSection("AUTOFILL")
	fmt.Printf("  %sEnabled%s          %v\n", c.Dim, c.Reset, cfg.Autofill.Enabled)
	fmt.Printf("  %sStore%s            %s\n", c.Dim, c.Reset, cfg.Autofill.StorePath)
	fmt.Printf("  %sRetention%s        %d days\n", c.Dim, c.Reset, cfg.Autofill.RetentionDays)

	printSection("OBSERVABILITY")
	fmt.Printf("  %sLog Level%s        %s (%s to %s)\n", c.Dim, c.Reset, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if cfg.Metrics.Enabled {
		fmt.Printf("  %sMetrics%s          %s\n", c.Dim, c.Reset, cfg.Metrics.ListenAddr)
	} else {
		fmt.Printf("  %sMetrics%s          disabled\n", c.Dim, c.Reset)
	}
	if cfg.Trace.Enabled {
		fmt.Printf("  %sTracing%s          %s (ratio %.2f)\n", c.Dim, c.Reset, cfg.Trace.Path, cfg.Trace.SampleRatio)
	} else {
		fmt.Printf("  %sTracing%s          disabled\n", c.Dim, c.Reset)
	}
	fmt.Println()
}

// Helper functions

// colors holds the ANSI escape palette, blanked when output is not a
// terminal or NO_COLOR is set.
type colors struct {
	Reset  string
	Bold   string
	Dim    string
	Red    string
	Green  string
	Yellow string
	Cyan   string
	White  string
}

var c = newColors()

func newColors() colors {
	if os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout) {
		return colors{}
	}
	return colors{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
		White:  "\033[37m",
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func printSection(title string) {
	fmt.Printf("\n%s%s%s%s\n", c.Bold, c.White, title, c.Reset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sError%s: %s\n", c.Bold, c.Red, c.Reset, msg)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Pretty print JSON for debugging
func prettyJSON(v interface{}) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}
