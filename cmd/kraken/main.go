package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/openemg/kraken/pkg/bridge"
	"github.com/openemg/kraken/pkg/bridge/config"
	"github.com/openemg/kraken/pkg/bridge/device"
	"github.com/openemg/kraken/pkg/bridge/device/file"
	"github.com/openemg/kraken/pkg/bridge/device/serialport"
	"github.com/openemg/kraken/pkg/bridge/output"
	"github.com/openemg/kraken/pkg/util"
	"github.com/openemg/kraken/pkg/viz"
	"golang.org/x/sync/errgroup"
)

const (
	// Replay pacing: 256 bytes per 32ms matches the reference board's
	// 8 KB/s output rate.
	fileByteReadSize = 256
	fileReadDelay    = time.Millisecond * 32
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "kraken.yaml", "YAML config file")

	flag.Parse()
	if configFile == nil {
		flag.Usage()
		os.Exit(1)
	}

	configContents, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	var opts config.Config
	if err := yaml.Unmarshal(configContents, &opts); err != nil {
		log.Fatal().Err(err).Msg("error unmarshaling yaml file")
	}

	profile := opts.BridgeProfile()
	if err := profile.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid device profile")
	}

	var dev device.Device

	if opts.PlaybackLocation != "" {
		opts.Device = "file"
	}

	switch opts.Device {
	case "file":
		log.Info().Str("device", "file").Str("capture", opts.PlaybackLocation).Msg("initializing device...")
		dev, err = file.NewFileDevice(opts.PlaybackLocation, fileByteReadSize, fileReadDelay)
		if err != nil {
			log.Fatal().Str("device", "file").Err(err).Msg("failed to open capture")
		}
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	default:
		log.Info().Str("device", "serial").Str("port", opts.Port).Msg("initializing device...")
		serialOpts := []serialport.SerialOption{serialport.WithLogger(log.Logger)}
		if opts.RecordLocation != "" {
			serialOpts = append(serialOpts, serialport.WithRecording(opts.RecordLocation))
		}
		dev, err = serialport.NewSerialDevice(opts.Port, profile, serialOpts...)
		if err != nil {
			log.Fatal().Str("device", "serial").Err(err).Msg("failed to open serial port")
		}
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		writeAPI = influxdb2.NewClient(opts.InfluxDB.Host, "").WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	info := opts.StreamInfo(profile)

	bridgeOpts := []bridge.BridgeOption{
		bridge.WithInfluxDB(writeAPI),
		bridge.WithLogger(log.Logger),
	}

	var scope *viz.Server
	if opts.ScopeServer.Port > 0 {
		scope = viz.NewServer(opts.ScopeServer.Port)
		bridgeOpts = append(bridgeOpts, bridge.WithScopeServer(scope))
	}

	br, err := bridge.New(dev,
		bridge.Options{
			Profile: profile,
			Stream:  info,
			Outputs: []output.SampleOutput{
				output.NewTCPStreamOutput(opts.ListenAddr(), info, writeAPI),
			},
			ReportInterval: opts.ReportInterval,
		}, bridgeOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bridge")
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {

		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		return br.Stop()
	})

	eg.Go(func() error {
		return br.Start(ctx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		if errors.Is(err, io.EOF) {
			log.Info().Msg("replay finished")
			return
		}
		log.Fatal().Err(err).Msg("exited program")
	}
}
