// textinputd-demo is a sample editor client for a running textinputd
// daemon. Click a field to attach it, then type through the platform
// input method; committed text, preedit updates and autofill pushes
// from the daemon land in the form live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"textinputd/cmd/textinputd-demo/internal/theme"
	"textinputd/cmd/textinputd-demo/internal/ui"
	"textinputd/internal/config"
	"textinputd/internal/ipc"
	"textinputd/internal/runloop"
	"textinputd/internal/textinput"
)

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket path")
)

func main() {
	flag.Parse()

	client, err := connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot connect to daemon: %v\n", err)
		fmt.Fprintln(os.Stderr, "Start it with: textinputd serve")
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := runloop.New()
	go loop.Run(ctx)

	reg := textinput.NewRegistry(loop, ipc.NewBridge(client, loop))

	go func() {
		w := new(app.Window)
		w.Option(app.Title("textinputd demo"))
		w.Option(app.Size(unit.Dp(520), unit.Dp(640)))

		if err := run(w, loop, reg, client.ServerVersion()); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

// connect dials the daemon socket, resolved from the flag or the config
// file.
func connect() (*ipc.IPCClient, error) {
	socket := *socketPath
	if socket == "" {
		path := *configPath
		if path == "" {
			path = config.FindConfigFile()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		socket = cfg.IPC.SocketPath
	}

	ccfg := ipc.DefaultClientConfig(config.TextinputdDir())
	ccfg.SocketPath = socket
	ccfg.ClientName = "textinputd-demo"
	ccfg.ClientVersion = "0.3.0"

	client := ipc.NewClient(ccfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func run(w *app.Window, loop *runloop.Loop, reg *textinput.Registry, serverVersion string) error {
	t := theme.NewTheme(material.NewTheme())
	form := ui.NewForm(t, loop, reg, w.Invalidate, serverVersion)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			form.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}
