// Package main provides IPC-based commands for textinputctl.
//
// These commands talk to a running textinputd daemon over its socket;
// everything else in this binary works offline against the config file
// and the autofill store.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"textinputd/internal/config"
	"textinputd/internal/ipc"
)

// IPCCommands wraps IPC client commands
type IPCCommands struct {
	client *ipc.IPCClient
}

// NewIPCCommands creates a new IPC command handler
func NewIPCCommands() (*IPCCommands, error) {
	cfg := ipc.DefaultClientConfig(config.TextinputdDir())
	cfg.SocketPath = daemonSocket()
	cfg.ClientName = "textinputctl"
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}

	return &IPCCommands{client: client}, nil
}

// Close closes the IPC connection
func (c *IPCCommands) Close() error {
	return c.client.Close()
}

// cmdIPCStatus shows daemon status via IPC
func cmdIPCStatus() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: textinputd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	status, err := cmds.client.Status(true, *jsonOut)
	if err != nil {
		printError(fmt.Sprintf("Failed to get status: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		fmt.Println(prettyJSON(status))
		return
	}

	printSection("DAEMON STATUS")

	fmt.Printf("  %sVersion%s        %s%s%s\n", c.Dim, c.Reset, c.Cyan, status.Version, c.Reset)
	fmt.Printf("  %sUptime%s         %s\n", c.Dim, c.Reset, status.Uptime.Round(time.Second))
	fmt.Printf("  %sStarted%s        %s\n", c.Dim, c.Reset, status.StartedAt.Format(time.RFC3339))

	if status.BackendRunning {
		fmt.Printf("  %sBackend%s        %s %s%sRUNNING%s\n", c.Dim, c.Reset, status.Backend, c.Bold, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sBackend%s        %s %s%sSTOPPED%s\n", c.Dim, c.Reset, status.Backend, c.Bold, c.Red, c.Reset)
	}
	fmt.Printf("  %sClients%s        %d connected\n", c.Dim, c.Reset, status.ConnectedClients)

	printSection("TEXT INPUT")

	if status.ActiveClient {
		fmt.Printf("  %sConnection%s     %s#%d%s\n", c.Dim, c.Reset, c.Cyan, status.ConnectionID, c.Reset)
		fmt.Printf("  %sInput Type%s     %s\n", c.Dim, c.Reset, status.InputType)
		if status.KeyboardVisible {
			fmt.Printf("  %sKeyboard%s       %s%sVISIBLE%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
		} else {
			fmt.Printf("  %sKeyboard%s       HIDDEN\n", c.Dim, c.Reset)
		}
	} else {
		fmt.Printf("  %sNo client attached.%s\n", c.Dim, c.Reset)
	}

	printSection("AUTOFILL")

	if status.AutofillEnabled {
		fmt.Printf("  %sStatus%s         %s%sENABLED%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
		fmt.Printf("  %sStored Values%s  %d\n", c.Dim, c.Reset, status.StoreEntries)
	} else {
		fmt.Printf("  %sStatus%s         DISABLED\n", c.Dim, c.Reset)
	}

	if status.Metrics != nil {
		printSection("ACTIVITY")

		fmt.Printf("  %sFrames%s         %v in / %v out\n", c.Dim, c.Reset,
			status.Metrics["frames_in_total"], status.Metrics["frames_out_total"])
		fmt.Printf("  %sAttaches%s       %v\n", c.Dim, c.Reset, status.Metrics["attaches_total"])
		fmt.Printf("  %sStale Drops%s    %v\n", c.Dim, c.Reset, status.Metrics["stale_drops_total"])
		fmt.Printf("  %sErrors%s         %v\n", c.Dim, c.Reset, status.Metrics["errors_total"])
		fmt.Printf("  %sDispatch p95%s   %v ms\n", c.Dim, c.Reset, status.Metrics["dispatch_p95_ms"])
	}

	fmt.Println()
}

// cmdIPCPing pings the daemon
func cmdIPCPing() {
	cfg := ipc.DefaultClientConfig(config.TextinputdDir())
	cfg.SocketPath = daemonSocket()
	cfg.ClientName = "textinputctl"
	cfg.ClientVersion = Version
	client := ipc.NewClient(cfg)

	if err := client.Connect(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
		os.Exit(1)
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RESPONDING%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		os.Exit(1)
	}
	latency := time.Since(start)

	fmt.Printf("  %sDaemon%s  %s%sRUNNING%s (latency: %s)\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset, latency.Round(time.Microsecond))
}

// cmdIPCWatch subscribes to daemon events and prints them
func cmdIPCWatch() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: textinputd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	// Subscribe to all events
	if err := cmds.client.Subscribe(nil); err != nil {
		printError(fmt.Sprintf("Failed to subscribe: %v", err))
		os.Exit(1)
	}

	fmt.Printf("%s%s WATCHING EVENTS %s\n\n", c.Bold, c.Green, c.Reset)
	fmt.Println("Waiting for events... Press Ctrl+C to stop")
	fmt.Println()

	// Print events as they come in
	for event := range cmds.client.Events() {
		data, _ := json.MarshalIndent(event, "", "  ")
		fmt.Printf("[%s] %s\n%s\n\n",
			event.Timestamp.Format("15:04:05"),
			eventTypeName(event.Type),
			string(data))
	}
}

// cmdIPCShutdown asks the daemon to stop
func cmdIPCShutdown(reason string) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	if err := cmds.client.Shutdown(reason); err != nil {
		printError(fmt.Sprintf("Failed to request shutdown: %v", err))
		os.Exit(1)
	}

	fmt.Printf("%s%s SHUTDOWN REQUESTED %s\n", c.Bold, c.Green, c.Reset)
	if reason != "" {
		fmt.Printf("  %sReason%s  %s\n", c.Dim, c.Reset, reason)
	}
}

// cmdIPCKeyboard forces keyboard visibility
func cmdIPCKeyboard(visible bool) {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		os.Exit(1)
	}
	defer cmds.Close()

	resp, err := cmds.client.SetKeyboardVisible(visible)
	if err != nil {
		printError(fmt.Sprintf("Failed to change keyboard visibility: %v", err))
		os.Exit(1)
	}

	if resp.KeyboardVisible {
		fmt.Printf("  %sKeyboard%s  %s%sVISIBLE%s (backend: %s)\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset, resp.Backend)
	} else {
		fmt.Printf("  %sKeyboard%s  HIDDEN (backend: %s)\n", c.Dim, c.Reset, resp.Backend)
	}
}

// cmdIPCState prints the daemon's editing-state mirror
func cmdIPCState() {
	cmds, err := NewIPCCommands()
	if err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: Start the daemon with: textinputd serve\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	defer cmds.Close()

	state, err := cmds.client.State()
	if err != nil {
		printError(fmt.Sprintf("Failed to get editing state: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		fmt.Println(prettyJSON(state))
		return
	}

	printSection("EDITING STATE")

	if !state.ActiveClient {
		fmt.Printf("  %sNo client attached.%s\n\n", c.Dim, c.Reset)
		return
	}

	fmt.Printf("  %sConnection%s     %s#%d%s\n", c.Dim, c.Reset, c.Cyan, state.ConnectionID, c.Reset)
	fmt.Printf("  %sInput Type%s     %s\n", c.Dim, c.Reset, state.InputType)
	fmt.Printf("  %sInput Action%s   %s\n", c.Dim, c.Reset, state.InputAction)
	if state.KeyboardVisible {
		fmt.Printf("  %sKeyboard%s       %s%sVISIBLE%s\n", c.Dim, c.Reset, c.Bold, c.Green, c.Reset)
	} else {
		fmt.Printf("  %sKeyboard%s       HIDDEN\n", c.Dim, c.Reset)
	}

	if state.Obscured {
		fmt.Printf("  %sText%s           %s(obscured, %d bytes)%s\n", c.Dim, c.Reset, c.Yellow, state.TextLength, c.Reset)
	} else {
		fmt.Printf("  %sText%s           %q\n", c.Dim, c.Reset, state.Text)
	}
	fmt.Printf("  %sSelection%s      [%d, %d)\n", c.Dim, c.Reset, state.SelectionBase, state.SelectionExtent)
	if state.ComposingBase >= 0 && state.ComposingExtent > state.ComposingBase {
		fmt.Printf("  %sComposing%s      [%d, %d)\n", c.Dim, c.Reset, state.ComposingBase, state.ComposingExtent)
	} else {
		fmt.Printf("  %sComposing%s      none\n", c.Dim, c.Reset)
	}
	fmt.Println()
}

// eventTypeName returns a human-readable event type name
func eventTypeName(et ipc.EventType) string {
	switch et {
	case ipc.EventClientAttached:
		return "ClientAttached"
	case ipc.EventClientDetached:
		return "ClientDetached"
	case ipc.EventKeyboardShown:
		return "KeyboardShown"
	case ipc.EventKeyboardHidden:
		return "KeyboardHidden"
	case ipc.EventBackendChanged:
		return "BackendChanged"
	case ipc.EventConfigReloaded:
		return "ConfigReloaded"
	case ipc.EventDaemonShutdown:
		return "DaemonShutdown"
	case ipc.EventError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", et)
	}
}
