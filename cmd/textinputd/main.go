// textinputd - Text input connection daemon
//
// textinputd owns the platform side of the text-input protocol: applications
// connect over a Unix socket, hand the daemon their focused field, and the
// daemon brokers committed text, composing updates, and editor actions
// between them and the platform input method.
//
//	textinputd serve          Run the daemon in the foreground
//	textinputd init           Create the default configuration and directories
//	textinputd check          Validate a configuration file
//	textinputd status         Show local daemon status
//	textinputd version        Print the daemon version
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"textinputd/internal/config"
)

// Version is the daemon release version reported over the status endpoint.
const Version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		cmdServe()
	case "init":
		cmdInit()
	case "check":
		cmdCheck()
	case "status":
		cmdStatus()
	case "version", "-v", "--version":
		fmt.Printf("textinputd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`textinputd - Text input connection daemon

USAGE:
    textinputd <command> [options]

COMMANDS:
    serve               Run the daemon in the foreground
    init                Create the default configuration and directories
    check               Validate a configuration file without starting
    status              Show local daemon status (pid, socket, paths)
    version             Print the daemon version
    help                Show this help message

SERVE OPTIONS:
    -config <path>      Configuration file (default: platform config dir)
    -backend <name>     Override the platform backend: auto, ibus, null
    -log-level <level>  Override the log level: debug, info, warn, error
    -socket <path>      Override the IPC socket path

WORKFLOW:
    1. textinputd init                  # One-time setup
    2. textinputd serve                 # Run the daemon
    3. textinputctl status              # Inspect it from another terminal
    4. textinputctl watch               # Stream attach/detach events

Applications talk to the daemon over the textinput channel: they attach a
connection with TextInput.setClient, mirror their text model with
TextInput.setEditingState, and receive TextInputClient.* calls back as the
user types through the platform input method.`)
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file to create")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		os.Exit(1)
	}

	if created {
		fmt.Printf("Configuration written: %s\n", path)
	} else {
		fmt.Printf("Configuration already exists: %s\n", path)
	}

	fmt.Println()
	fmt.Println("textinputd initialized!")
	fmt.Println()
	fmt.Printf("  Socket:         %s\n", cfg.IPC.SocketPath)
	fmt.Printf("  Autofill store: %s\n", cfg.Autofill.StorePath)
	fmt.Printf("  Log file:       %s\n", cfg.Logging.FilePath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the configuration file and adjust paths if needed")
	fmt.Println("  2. Run 'textinputd serve' to start the daemon")
	fmt.Println("  3. Run 'textinputctl status' to check it is up")
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file to validate")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		fmt.Println("No configuration file found; defaults are valid.")
		return
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Checking %s\n", path)

	err = cfg.Validate()
	if err == nil {
		fmt.Println("Configuration OK")
		return
	}

	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	for _, w := range verrs.Warnings() {
		fmt.Printf("  warning: %s: %s\n", w.Field, w.Message)
	}
	for _, e := range verrs.Errors() {
		fmt.Printf("  error:   %s: %s\n", e.Field, e.Message)
	}

	if verrs.HasErrors() {
		fmt.Println()
		fmt.Println("Configuration INVALID")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Configuration OK (with warnings)")
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file to read")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== textinputd Status ===")
	fmt.Println()
	fmt.Printf("Version:   %s\n", Version)
	fmt.Printf("Data dir:  %s\n", config.TextinputdDir())
	fmt.Printf("Socket:    %s\n", cfg.IPC.SocketPath)
	fmt.Println()

	// Daemon process
	pidData, err := os.ReadFile(cfg.Daemon.PidFile)
	if err != nil {
		fmt.Println("Daemon: NOT RUNNING")
	} else {
		pid, _ := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if processExists(pid) {
			fmt.Printf("Daemon: RUNNING (PID %d)\n", pid)
		} else {
			fmt.Printf("Daemon: STALE PID FILE (PID %d not found)\n", pid)
		}
	}

	if _, err := os.Stat(cfg.IPC.SocketPath); err == nil {
		fmt.Println("Socket: present")
	} else {
		fmt.Println("Socket: not created")
	}
	fmt.Println()

	// Platform support
	fmt.Println("Backends:")
	fmt.Printf("  Preferred: %s\n", cfg.Backends.Preferred)
	if config.HasIBusSupport() {
		if config.HasDBusSession() {
			fmt.Println("  IBus:      supported (session bus reachable)")
		} else {
			fmt.Println("  IBus:      supported (no session bus found)")
		}
	} else {
		fmt.Println("  IBus:      not supported on this platform")
	}
	fmt.Println()

	// Autofill store
	if cfg.Autofill.Enabled {
		if info, err := os.Stat(cfg.Autofill.StorePath); err == nil {
			fmt.Printf("Autofill store: %s (%d bytes)\n", cfg.Autofill.StorePath, info.Size())
		} else {
			fmt.Printf("Autofill store: %s (not created)\n", cfg.Autofill.StorePath)
		}
	} else {
		fmt.Println("Autofill store: disabled")
	}

	fmt.Println()
	fmt.Println("For live daemon state use: textinputctl status")
}

// Helper functions

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds. Send signal 0 to check.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
