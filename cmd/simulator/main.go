package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-sim/internal/bus"
	"github.com/lorawan-server/lorawan-sim/internal/config"
	"github.com/lorawan-server/lorawan-sim/internal/devicemgr"
	"github.com/lorawan-server/lorawan-sim/internal/gateway"
	"github.com/lorawan-server/lorawan-sim/internal/models"
	"github.com/lorawan-server/lorawan-sim/internal/radio"
	"github.com/lorawan-server/lorawan-sim/internal/stack"
	"github.com/lorawan-server/lorawan-sim/internal/status"
	"github.com/lorawan-server/lorawan-sim/pkg/lorawan"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config/simulator.yml", "path to the simulator's YAML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Int("devices", len(cfg.Devices)).Msg("lorawan-sim starting")

	gatewayEUI, err := parseEUI(cfg.Gateway.EUI)
	if err != nil {
		log.Fatal().Err(err).Msg("parse gateway eui")
	}

	udpAddr := fmt.Sprintf("%s:%d", cfg.Gateway.UDPIP, cfg.Gateway.UDPPort)
	adapter, err := gateway.NewAdapter(udpAddr, gatewayEUI, cfg.Gateway.StatsInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("start gateway adapter")
	}
	defer adapter.Close()

	messageBus := bus.New()
	manager := devicemgr.New(messageBus)

	for _, dc := range cfg.Devices {
		if err := registerDevice(manager, adapter, dc); err != nil {
			log.Fatal().Err(err).Str("devaddr", dc.DevAddr).Msg("register device")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go adapter.RunPullData(ctx)
	go adapter.RunReceive(ctx)
	go adapter.RunStatsLog(ctx)
	go forwardDownlinks(ctx, adapter, messageBus)

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.New(cfg.Status.Addr, manager)
		go func() {
			if err := statusServer.ListenAndServe(); err != nil {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
	}

	go manager.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	if statusServer != nil {
		_ = statusServer.Shutdown()
	}
	time.Sleep(100 * time.Millisecond)
	log.Info().Msg("lorawan-sim stopped")
}

func forwardDownlinks(ctx context.Context, adapter *gateway.Adapter, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-adapter.Downlinks():
			b.Publish(env)
		}
	}
}

func registerDevice(manager *devicemgr.Manager, adapter *gateway.Adapter, dc config.DeviceConfig) error {
	devAddr, err := lorawan.ParseDevAddr(dc.DevAddr)
	if err != nil {
		return fmt.Errorf("parse devaddr: %w", err)
	}
	nwkSKey, err := lorawan.ParseAES128Key(dc.NwkSKey)
	if err != nil {
		return fmt.Errorf("parse nwk_skey: %w", err)
	}
	appSKey, err := lorawan.ParseAES128Key(dc.AppSKey)
	if err != nil {
		return fmt.Errorf("parse app_skey: %w", err)
	}

	session := models.NewDeviceSession(devAddr, nwkSKey, appSKey)
	radioState := radio.NewState()
	hooks := &stack.DefaultHooks{DevAddr: dc.DevAddr}

	maxRetries := dc.MaxAckRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	s := stack.New(session, radioState, hooks, adapter.PushUplink, dc.Environment, float64(dc.DistanceM), dc.SNRThreshold, maxRetries)

	manager.Register(dc.DevAddr, &devicemgr.Device{
		Stack:        s,
		SendInterval: time.Duration(dc.SendIntervalS) * time.Second,
		FPort:        1,
		Confirmed:    false,
	})
	return nil
}

func parseEUI(s string) ([8]byte, error) {
	var eui [8]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return eui, fmt.Errorf("invalid 16-hex-char EUI %q", s)
	}
	copy(eui[:], b)
	return eui, nil
}
