package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaunagostinho/linedash/internal/capture"
	"github.com/shaunagostinho/linedash/internal/console"
	"github.com/shaunagostinho/linedash/internal/link"
	"github.com/shaunagostinho/linedash/internal/monitor"
	"github.com/shaunagostinho/linedash/internal/robot"
	"github.com/shaunagostinho/linedash/internal/server"
	"github.com/shaunagostinho/linedash/internal/telemetry"
	"github.com/shaunagostinho/linedash/web"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	demo := flag.Bool("demo", false, "Run against a simulated robot")
	replay := flag.String("replay", "", "Replay a capture file instead of a serial port")
	capturePath := flag.String("capture", "", "Record every line to this capture file")
	interactive := flag.Bool("console", false, "Start an interactive robot console")
	baud := flag.Int("baud", 0, "Serial baud rate (default 115200)")
	port := flag.String("port", "", "Preferred serial port, probed first")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [baud] [port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] linedash starting")

	cfg := server.LoadConfig(*configPath)

	// Positional [baud] [port], then explicit flags on top.
	argBaud, argPort := positionalArgs(flag.Args())
	if argBaud > 0 {
		cfg.Serial.BaudRate = argBaud
	}
	if argPort != "" {
		cfg.Serial.PortPath = argPort
	}
	if *baud > 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *port != "" {
		cfg.Serial.PortPath = *port
	}
	if *demo {
		cfg.Serial.Type = "demo"
	}
	if *replay != "" {
		cfg.Serial.Type = "replay"
		cfg.Serial.ReplayPath = *replay
	}
	if *capturePath != "" {
		cfg.Capture.Path = *capturePath
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var driver link.Driver
	switch cfg.Serial.Type {
	case "demo":
		driver = link.DemoDriver{}
	case "replay":
		driver = link.ReplayDriver{Path: cfg.Serial.ReplayPath, Realtime: cfg.Serial.Realtime}
	default:
		driver = link.SerialDriver{}
	}
	log.Printf("[main] link type %s, baud %d, preferred port %q",
		cfg.Serial.Type, cfg.Serial.BaudRate, cfg.Serial.PortPath)

	status := server.NewStatus()
	acq := link.NewAcquirer(driver, cfg.LinkConfig(), status)
	defer acq.Close()

	if cfg.Capture.Path != "" {
		w, err := capture.NewWriter(cfg.Capture.Path)
		if err != nil {
			log.Printf("[main] capture disabled: %v", err)
		} else {
			acq.SetTap(w)
			defer w.Close()
		}
	}

	state := telemetry.NewState()
	buf := telemetry.NewBuffer(cfg.Plot.Capacity)
	params := robot.NewStore(robot.DefaultParameters())

	mon := monitor.New(acq, state, buf, params)
	srv := server.New(cfg, state, buf, params, acq, status, web.Assets)
	srv.SetStatsSource(mon.Stats)

	if p, err := robot.LoadFile(cfg.Params.Path); err == nil {
		srv.ApplyParams(p)
		log.Printf("[main] parameters loaded from %s", cfg.Params.Path)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("[main] %v", err)
	}

	go mon.Run(ctx)

	if *interactive {
		con, err := console.New(console.Deps{
			Channel: srv.Channel(),
			Params:  params,
			State:   state,
			Buffer:  buf,
			Port:    acq.Port,
			Status:  status.Text,
			Apply:   srv.ApplyParams,
		})
		if err != nil {
			log.Printf("[main] console unavailable: %v", err)
		} else {
			log.SetOutput(con.Stderr())
			go con.Run(ctx, cancel)
		}
	}

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}
