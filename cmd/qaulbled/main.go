// Command qaulbled is the daemon entry point for the BLE mesh transport
// core (§4.1), replacing the teacher's interactive RFCOMM chat main.go with
// a headless binary that speaks the internal/rpc frame protocol over
// stdin/stdout.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"qaul.net/ble-core/internal/ble"
	"qaul.net/ble-core/internal/config"
	"qaul.net/ble-core/internal/rpc"
)

func main() {
	identifierHex := flag.String("identifier", "", "hex-encoded node identifier to advertise (required)")
	sendQueueCap := flag.Int("send-queue-capacity", config.DefaultSendQueueCapacity, "per-peer send queue capacity")
	connectRetries := flag.Int("connect-retries", config.DefaultConnectRetries, "connect retries after the first failed attempt before giving up on a peer")
	logLevel := flag.String("log-level", "info", "logrus level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := log.WithField("component", "qaulbled")

	if *identifierHex == "" {
		fmt.Fprintln(os.Stderr, "qaulbled: -identifier is required")
		os.Exit(2)
	}
	identifier, err := hex.DecodeString(*identifierHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qaulbled: invalid -identifier: %v\n", err)
		os.Exit(2)
	}

	core := ble.NewCore(entry, nil)
	writer := rpc.NewWriter(os.Stdout)
	reader := rpc.NewReader(os.Stdin)

	cfg := config.Config{
		Identifier:        identifier,
		SendQueueCapacity: *sendQueueCap,
		ConnectRetries:    *connectRetries,
	}
	startErr := core.Start(cfg)
	if err := writer.WriteEvent(rpc.NewStartedEvent(startErr)); err != nil {
		entry.WithError(err).Fatal("failed to write StartResult")
	}
	if startErr != nil {
		entry.WithError(startErr).Fatal("core failed to start")
	}

	go pumpEvents(core, writer, entry)

	for {
		cmd, err := reader.ReadCommand()
		if err != nil {
			if err != io.EOF {
				entry.WithError(err).Error("command stream read failed")
			}
			break
		}
		dispatch(core, writer, cmd, entry)
	}

	if err := core.Stop(); err != nil {
		entry.WithError(err).Warn("stop failed")
	}
}

func pumpEvents(core *ble.Core, writer *rpc.Writer, log *logrus.Entry) {
	for ev := range core.Events() {
		frame, ok := toWireEvent(ev)
		if !ok {
			continue
		}
		if err := writer.WriteEvent(frame); err != nil {
			log.WithError(err).Error("failed to write event frame")
			return
		}
	}
}

func toWireEvent(ev ble.Event) (rpc.Event, bool) {
	switch v := ev.(type) {
	case ble.EventDeviceDiscovered:
		return rpc.NewDeviceDiscoveredEvent(rpc.DeviceDiscoveredEv{
			Identifier: v.Identifier,
			RSSI:       int32(v.RSSI),
			Name:       v.Name,
		}), true
	case ble.EventDeviceUnavailable:
		return rpc.NewDeviceUnavailableEvent(v.Identifier), true
	case ble.EventDirectReceived:
		return rpc.NewDirectReceivedEvent(rpc.DirectReceivedEv{From: v.From, Message: v.Message}), true
	case ble.EventDirectSendResult:
		return rpc.NewDirectSendResultEvent(rpc.DirectSendResultEv{
			MessageID: v.Result.MessageID,
			Success:   v.Result.Success,
			ErrorMsg:  v.Result.ErrorMsg,
		}), true
	case ble.EventStarted, ble.EventStopped:
		// Already reported synchronously around Start/Stop; Core.Start and
		// Core.Stop also enqueue these, which would double-send.
		return rpc.Event{}, false
	default:
		return rpc.Event{}, false
	}
}

func dispatch(core *ble.Core, writer *rpc.Writer, cmd rpc.Command, log *logrus.Entry) {
	switch {
	case cmd.IsSend():
		result, err := core.SendMessage(ble.SendMessageRequest{
			MessageID:          cmd.Send.MessageID,
			ReceiverIdentifier: ble.Identifier(cmd.Send.Receiver),
			SenderIdentifier:   ble.Identifier(cmd.Send.Sender),
			Data:               cmd.Send.Data,
		})
		if err != nil {
			log.WithError(err).Warn("SendMessage command failed")
			return
		}
		if err := writer.WriteEvent(rpc.NewDirectSendResultEvent(rpc.DirectSendResultEv{
			MessageID: result.MessageID,
			Success:   result.Success,
			ErrorMsg:  result.ErrorMsg,
		})); err != nil {
			log.WithError(err).Error("failed to write DirectSendResult")
		}

	case cmd.IsInfo():
		info, err := core.Info()
		if err != nil {
			log.WithError(err).Warn("Info command failed")
			return
		}
		ev := rpc.NewInfoResponseEvent(rpc.InfoResponseEv{
			ID:                         info.Device.ID,
			Name:                       info.Device.Name,
			BluetoothOn:                info.Device.BluetoothOn,
			BLESupport:                 info.Device.BLESupport,
			AdvExtended:                info.Device.AdvExtended,
			AdvExtendedBytes:           info.Device.AdvExtendedBytes,
			LE2M:                       info.Device.LE2M,
			LECoded:                    info.Device.LECoded,
			LEAudio:                    info.Device.LEAudio,
			LEPeriodicAdvSupport:       info.Device.LEPeriodicAdvSupport,
			LEMultipleAdvSupport:       info.Device.LEMultipleAdvSupport,
			OffloadFilterSupport:       info.Device.OffloadFilterSupport,
			OffloadScanBatchingSupport: info.Device.OffloadScanBatchingSupport,
		})
		if err := writer.WriteEvent(ev); err != nil {
			log.WithError(err).Error("failed to write InfoResponse")
		}

	case cmd.IsStop():
		if err := core.Stop(); err != nil {
			log.WithError(err).Warn("Stop command failed")
		}
		if err := writer.WriteEvent(rpc.NewStoppedEvent(nil)); err != nil {
			log.WithError(err).Error("failed to write StopResult")
		}
		os.Exit(0)

	case cmd.IsStart():
		log.Warn("received Start command while already started, ignoring")
	}
}
