// Package rpc frames Commands and Events for the host process driving a
// ble.Core over a pipe (stdin/stdout, a unix socket, anything io.Reader/
// io.Writer) — the wire-level counterpart of the upstream RPC channel
// referenced in spec.md §4.1/§6, supplemented per SPEC_FULL.md's domain
// stack section.
//
// Each frame is hand-encoded with google.golang.org/protobuf/encoding/
// protowire's tag/varint/bytes primitives rather than full protoc-gen-go
// codegen: the teacher's own dbus/wire.go hand-rolls its wire format field by
// field with a small writer type, and this follows the same shape, just
// built on protowire's helpers instead of reimplementing varint/tag math.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Command kinds: Start, Stop, Send and Info (§6). Send and Info map onto
// ble.Core.SendMessage/Info; Start and Stop are handled by the host around
// Core.Start/Stop.
const (
	kindStart uint64 = iota + 1
	kindStop
	kindSend
	kindInfo
)

// Event kinds, matching ble.Event's closed set (§4.4/§4.6/§6).
const (
	kindStarted uint64 = iota + 1
	kindStopped
	kindDeviceDiscovered
	kindDeviceUnavailable
	kindDirectReceived
	kindDirectSendResult
	kindInfoResponse
)

// field numbers within a frame body, scoped per kind (reused across kinds the
// way protobuf field numbers are scoped per message type).
const (
	f1 protowire.Number = 1
	f2 protowire.Number = 2
	f3 protowire.Number = 3
	f4 protowire.Number = 4
	f5 protowire.Number = 5
	f6 protowire.Number = 6
	f7 protowire.Number = 7
	f8 protowire.Number = 8
	f9 protowire.Number = 9
	f10 protowire.Number = 10
	f11 protowire.Number = 11
	f12 protowire.Number = 12
	f13 protowire.Number = 13
)

// StartCmd carries the identifier the core should advertise (§4.1 Start).
type StartCmd struct{ Identifier []byte }

// SendCmd carries one outbound message request (§4.5).
type SendCmd struct {
	MessageID string
	Receiver  []byte
	Sender    []byte
	Data      []byte
}

// Command is the host->core frame body, exactly one field populated
// depending on Kind.
type Command struct {
	Kind  uint64
	Start StartCmd
	Send  SendCmd
}

// EncodeCommand serializes a Command frame body (without the length prefix;
// see channel.go for that).
func EncodeCommand(c Command) []byte {
	var buf []byte
	buf = protowire.AppendVarint(buf, c.Kind)
	switch c.Kind {
	case kindStart:
		if len(c.Start.Identifier) > 0 {
			buf = protowire.AppendTag(buf, f1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, c.Start.Identifier)
		}
	case kindStop, kindInfo:
		// no fields
	case kindSend:
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendString(buf, c.Send.MessageID)
		buf = protowire.AppendTag(buf, f2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, c.Send.Receiver)
		buf = protowire.AppendTag(buf, f3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, c.Send.Sender)
		buf = protowire.AppendTag(buf, f4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, c.Send.Data)
	}
	return buf
}

// DecodeCommand parses a frame body produced by EncodeCommand.
func DecodeCommand(b []byte) (Command, error) {
	kind, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return Command{}, fmt.Errorf("rpc: command: bad kind varint")
	}
	b = b[n:]
	c := Command{Kind: kind}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Command{}, fmt.Errorf("rpc: command: bad tag")
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return Command{}, fmt.Errorf("rpc: command: unexpected wire type %v", typ)
		}
		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Command{}, fmt.Errorf("rpc: command: bad bytes field %d", num)
		}
		b = b[n:]

		switch kind {
		case kindStart:
			if num == f1 {
				c.Start.Identifier = append([]byte(nil), val...)
			}
		case kindSend:
			switch num {
			case f1:
				c.Send.MessageID = string(val)
			case f2:
				c.Send.Receiver = append([]byte(nil), val...)
			case f3:
				c.Send.Sender = append([]byte(nil), val...)
			case f4:
				c.Send.Data = append([]byte(nil), val...)
			}
		}
	}
	return c, nil
}

// DeviceDiscoveredEv mirrors ble.EventDeviceDiscovered.
type DeviceDiscoveredEv struct {
	Identifier []byte
	RSSI       int32
	Name       string
}

// DirectReceivedEv mirrors ble.EventDirectReceived.
type DirectReceivedEv struct {
	From    []byte
	Message []byte
}

// DirectSendResultEv mirrors ble.SendResult.
type DirectSendResultEv struct {
	MessageID string
	Success   bool
	ErrorMsg  string
}

// InfoResponseEv mirrors ble.DeviceInfo (§6).
type InfoResponseEv struct {
	ID                         string
	Name                       string
	BluetoothOn                bool
	BLESupport                 bool
	AdvExtended                bool
	AdvExtendedBytes           uint32
	LE2M                       bool
	LECoded                    bool
	LEAudio                    bool
	LEPeriodicAdvSupport       bool
	LEMultipleAdvSupport       bool
	OffloadFilterSupport       bool
	OffloadScanBatchingSupport bool
}

// Event is the core->host frame body.
type Event struct {
	Kind             uint64
	Err              string
	DeviceDiscovered DeviceDiscoveredEv
	DeviceUnavail    []byte
	DirectReceived   DirectReceivedEv
	SendResult       DirectSendResultEv
	Info             InfoResponseEv
}

func appendBool(buf []byte, num protowire.Number, v bool) []byte {
	if !v {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, 1)
}

// EncodeEvent serializes an Event frame body.
func EncodeEvent(e Event) []byte {
	var buf []byte
	buf = protowire.AppendVarint(buf, e.Kind)
	switch e.Kind {
	case kindStarted, kindStopped:
		if e.Err != "" {
			buf = protowire.AppendTag(buf, f1, protowire.BytesType)
			buf = protowire.AppendString(buf, e.Err)
		}
	case kindDeviceDiscovered:
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.DeviceDiscovered.Identifier)
		buf = protowire.AppendTag(buf, f2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(e.DeviceDiscovered.RSSI)))
		buf = protowire.AppendTag(buf, f3, protowire.BytesType)
		buf = protowire.AppendString(buf, e.DeviceDiscovered.Name)
	case kindDeviceUnavailable:
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.DeviceUnavail)
	case kindDirectReceived:
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.DirectReceived.From)
		buf = protowire.AppendTag(buf, f2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.DirectReceived.Message)
	case kindDirectSendResult:
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendString(buf, e.SendResult.MessageID)
		buf = appendBool(buf, f2, e.SendResult.Success)
		if e.SendResult.ErrorMsg != "" {
			buf = protowire.AppendTag(buf, f3, protowire.BytesType)
			buf = protowire.AppendString(buf, e.SendResult.ErrorMsg)
		}
	case kindInfoResponse:
		info := e.Info
		buf = protowire.AppendTag(buf, f1, protowire.BytesType)
		buf = protowire.AppendString(buf, info.ID)
		buf = protowire.AppendTag(buf, f2, protowire.BytesType)
		buf = protowire.AppendString(buf, info.Name)
		buf = appendBool(buf, f3, info.BluetoothOn)
		buf = appendBool(buf, f4, info.BLESupport)
		buf = appendBool(buf, f5, info.AdvExtended)
		buf = protowire.AppendTag(buf, f6, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(info.AdvExtendedBytes))
		buf = appendBool(buf, f7, info.LE2M)
		buf = appendBool(buf, f8, info.LECoded)
		buf = appendBool(buf, f9, info.LEAudio)
		buf = appendBool(buf, f10, info.LEPeriodicAdvSupport)
		buf = appendBool(buf, f11, info.LEMultipleAdvSupport)
		buf = appendBool(buf, f12, info.OffloadFilterSupport)
		buf = appendBool(buf, f13, info.OffloadScanBatchingSupport)
	}
	return buf
}

// DecodeEvent parses a frame body produced by EncodeEvent.
func DecodeEvent(b []byte) (Event, error) {
	kind, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return Event{}, fmt.Errorf("rpc: event: bad kind varint")
	}
	b = b[n:]
	e := Event{Kind: kind}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, fmt.Errorf("rpc: event: bad tag")
		}
		b = b[n:]

		var bytesVal []byte
		var varintVal uint64
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, fmt.Errorf("rpc: event: bad bytes field %d", num)
			}
			bytesVal = v
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, fmt.Errorf("rpc: event: bad varint field %d", num)
			}
			varintVal = v
			b = b[n:]
		default:
			return Event{}, fmt.Errorf("rpc: event: unexpected wire type %v", typ)
		}

		switch kind {
		case kindStarted, kindStopped:
			if num == f1 {
				e.Err = string(bytesVal)
			}
		case kindDeviceDiscovered:
			switch num {
			case f1:
				e.DeviceDiscovered.Identifier = append([]byte(nil), bytesVal...)
			case f2:
				e.DeviceDiscovered.RSSI = int32(protowire.DecodeZigZag(varintVal))
			case f3:
				e.DeviceDiscovered.Name = string(bytesVal)
			}
		case kindDeviceUnavailable:
			if num == f1 {
				e.DeviceUnavail = append([]byte(nil), bytesVal...)
			}
		case kindDirectReceived:
			switch num {
			case f1:
				e.DirectReceived.From = append([]byte(nil), bytesVal...)
			case f2:
				e.DirectReceived.Message = append([]byte(nil), bytesVal...)
			}
		case kindDirectSendResult:
			switch num {
			case f1:
				e.SendResult.MessageID = string(bytesVal)
			case f2:
				e.SendResult.Success = varintVal == 1
			case f3:
				e.SendResult.ErrorMsg = string(bytesVal)
			}
		case kindInfoResponse:
			switch num {
			case f1:
				e.Info.ID = string(bytesVal)
			case f2:
				e.Info.Name = string(bytesVal)
			case f3:
				e.Info.BluetoothOn = varintVal == 1
			case f4:
				e.Info.BLESupport = varintVal == 1
			case f5:
				e.Info.AdvExtended = varintVal == 1
			case f6:
				e.Info.AdvExtendedBytes = uint32(varintVal)
			case f7:
				e.Info.LE2M = varintVal == 1
			case f8:
				e.Info.LECoded = varintVal == 1
			case f9:
				e.Info.LEAudio = varintVal == 1
			case f10:
				e.Info.LEPeriodicAdvSupport = varintVal == 1
			case f11:
				e.Info.LEMultipleAdvSupport = varintVal == 1
			case f12:
				e.Info.OffloadFilterSupport = varintVal == 1
			case f13:
				e.Info.OffloadScanBatchingSupport = varintVal == 1
			}
		}
	}
	return e, nil
}

// NewStartCommand, NewStopCommand, NewSendCommand, NewInfoCommand build a
// Command of the matching kind for the host side of the channel;
// cmd/qaulbled only decodes commands and does not call them.
func NewStartCommand(identifier []byte) Command { return Command{Kind: kindStart, Start: StartCmd{Identifier: identifier}} }
func NewStopCommand() Command                   { return Command{Kind: kindStop} }
func NewInfoCommand() Command                    { return Command{Kind: kindInfo} }
func NewSendCommand(messageID string, receiver, sender, data []byte) Command {
	return Command{Kind: kindSend, Send: SendCmd{MessageID: messageID, Receiver: receiver, Sender: sender, Data: data}}
}

func (c Command) IsStart() bool { return c.Kind == kindStart }
func (c Command) IsStop() bool  { return c.Kind == kindStop }
func (c Command) IsSend() bool  { return c.Kind == kindSend }
func (c Command) IsInfo() bool  { return c.Kind == kindInfo }

func NewStartedEvent(err error) Event {
	return Event{Kind: kindStarted, Err: errString(err)}
}
func NewStoppedEvent(err error) Event {
	return Event{Kind: kindStopped, Err: errString(err)}
}
func NewDeviceDiscoveredEvent(ev DeviceDiscoveredEv) Event {
	return Event{Kind: kindDeviceDiscovered, DeviceDiscovered: ev}
}
func NewDeviceUnavailableEvent(identifier []byte) Event {
	return Event{Kind: kindDeviceUnavailable, DeviceUnavail: identifier}
}
func NewDirectReceivedEvent(ev DirectReceivedEv) Event {
	return Event{Kind: kindDirectReceived, DirectReceived: ev}
}
func NewDirectSendResultEvent(ev DirectSendResultEv) Event {
	return Event{Kind: kindDirectSendResult, SendResult: ev}
}
func NewInfoResponseEvent(ev InfoResponseEv) Event {
	return Event{Kind: kindInfoResponse, Info: ev}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
