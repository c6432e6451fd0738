package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-device-mac/internal/adr"
	"github.com/brocaar/chirpstack-device-mac/internal/config"
	"github.com/brocaar/chirpstack-device-mac/internal/device"
	"github.com/brocaar/chirpstack-device-mac/internal/monitoring"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/amqp"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/gateway"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/gcppubsub"
	"github.com/brocaar/chirpstack-device-mac/internal/radio/mqtt"
	"github.com/brocaar/chirpstack-device-mac/internal/storage"
	"github.com/brocaar/chirpstack-device-mac/internal/timer"
)

func run(cmd *cobra.Command, args []string) error {
	var (
		r   *gateway.Radio
		dev *device.Device
	)

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupStorage,
		setupMonitoring,
		setupADR,
		setupRadio(&r),
		setupDevice(&r, &dev),
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	go func() {
		log.Warning("stopping chirpstack-device-mac")
		if err := dev.Stop(); err != nil {
			log.Fatal(err)
		}
		if err := r.Close(); err != nil {
			log.Fatal(err)
		}
		adr.Teardown()
		if err := storage.Close(); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	if config.C.General.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version":    version,
		"dev_eui":    config.C.Device.DevEUI,
		"region":     config.C.Region.Name,
		"activation": config.C.Device.Activation,
		"backend":    config.C.Radio.Backend.Type,
	}).Info("starting ChirpStack Device MAC")
	return nil
}

func setupStorage() error {
	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupADR() error {
	if err := adr.Setup(config.C.ADR.Plugins); err != nil {
		return errors.Wrap(err, "setup adr error")
	}
	return nil
}

func setupRadio(r **gateway.Radio) func() error {
	return func() error {
		var err error
		var b gateway.Backend

		switch config.C.Radio.Backend.Type {
		case "mqtt":
			b, err = mqtt.NewBackend(config.C)
		case "amqp":
			b, err = amqp.NewBackend(config.C)
		case "gcp_pub_sub":
			b, err = gcppubsub.NewBackend(config.C)
		default:
			return fmt.Errorf("unexpected radio backend type: %s", config.C.Radio.Backend.Type)
		}

		if err != nil {
			return errors.Wrap(err, "radio-backend setup failed")
		}

		*r = gateway.New(b, gateway.Config{
			GatewayID:   config.C.Radio.Backend.GatewayID,
			RSSI:        config.C.Radio.Backend.RSSI,
			SNR:         config.C.Radio.Backend.SNR,
			DownlinkTTL: config.C.Radio.Backend.DownlinkTTL,
		})
		return nil
	}
}

func setupDevice(r **gateway.Radio, dev **device.Device) func() error {
	return func() error {
		var err error

		*dev, err = device.New(config.C, *r, timer.Real{}, storage.Redis{})
		if err != nil {
			return errors.Wrap(err, "new device error")
		}

		if err := (*dev).Start(); err != nil {
			return errors.Wrap(err, "start device error")
		}
		return nil
	}
}
