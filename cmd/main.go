package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lightcore/internal/artnet"
	"lightcore/internal/clientmqtt"
	"lightcore/internal/config"
	"lightcore/internal/engine"
	"lightcore/internal/logger"
	"lightcore/internal/universe"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.Module("logger").Debug("newLogger created ok")

	reg, err := newRegistry(cfg, log)
	if err != nil {
		log.Module("universe").Errorf("error while creating universes. %v", err)
		os.Exit(1)
	}

	plugin := artnet.NewPlugin(log)
	if n := plugin.Configure(cfg.ArtNet, reg); n < len(cfg.ArtNet) {
		log.Module("art-net").Warnf("%d of %d lines opened", n, len(cfg.ArtNet))
	}

	timer := engine.NewMasterTimer(reg, cfg.Engine.TickMS, nil, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	var client *clientmqtt.ClientMQTT
	if cfg.MQTT.Enabled {
		client = startMQTT(ctx, cfg.MQTT, reg, timer, log)
		if client == nil {
			cancel()
		}
	}

	reg.OnInputValueChanged(func(id, channel uint32, value uint8) {
		reg.SendFeedback(id, channel, value)
	})

	if err = timer.Start(ctx); err != nil {
		log.Error("failed to start master timer:", err.Error())
		cancel()
	}

	<-ctx.Done()

	timer.Stop()

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}

	plugin.Close()

	log.Info("shutdown complete")
}

func newRegistry(cfg *config.Config, log *logger.Log) (*universe.Registry, error) {
	reg := universe.NewRegistry(log)
	for i := uint32(0); i < cfg.Engine.Universes; i++ {
		if _, ok := reg.AddUniverse(i); !ok {
			return nil, fmt.Errorf("universe %d could not be added", i)
		}
	}

	valueMode, err := universe.ParseValueMode(cfg.GrandMaster.ValueMode)
	if err != nil {
		return nil, err
	}
	channelMode, err := universe.ParseChannelMode(cfg.GrandMaster.ChannelMode)
	if err != nil {
		return nil, err
	}
	reg.SetGrandMasterValueMode(valueMode)
	reg.SetGrandMasterChannelMode(channelMode)
	reg.SetGrandMasterValue(cfg.GrandMaster.Value)
	return reg, nil
}

func startMQTT(ctx context.Context, cfg config.MQTTConf, reg *universe.Registry, timer *engine.MasterTimer, log *logger.Log) *clientmqtt.ClientMQTT {
	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg))
	log.Module("mqtt").Debug("NewClient created ok")

	dmxDataCh := make(chan clientmqtt.DataCh, 10)
	if err := client.Start(ctx, dmxDataCh); err != nil {
		log.Error("failed to start MQTT service:", err.Error())
		return nil
	}

	for _, id := range reg.IDs() {
		if err := client.AddUniverse(id); err != nil {
			log.Module("mqtt").Errorf("universe %d: %v", id, err)
		}
		reg.SetFeedbackPatch(id, client)
	}
	reg.OnUniversesWritten(client.UniverseWritten)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-dmxDataCh:
				for _, cmd := range d.Data {
					timer.Submit(engine.ChannelValue{Universe: d.Universe, Channel: uint32(cmd.Channel), Value: cmd.Value})
				}
			}
		}
	}()
	return client
}

// ConvertConfigClientMQTT converts the MQTT section of the configuration.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID: cfg.ClientID,
		Schema:   "tcp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Qos:      cfg.Qos,
		Prefix:   cfg.Prefix,
	}
}
