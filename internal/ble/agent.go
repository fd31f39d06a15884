package ble

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// pairingAgent implements just enough of org.bluez.Agent1 to satisfy BlueZ's
// RegisterAgent/RequestDefaultAgent handshake (§4.1 "register pairing agent
// with default-request rights"). It auto-accepts everything, matching the
// upstream agent's `request_default: true, ..Default::default()` — a
// headless mesh node has no human to prompt.
type pairingAgent struct {
	log *logrus.Entry
}

const (
	agentPath       = dbus.ObjectPath("/qaul/ble/agent")
	agentIface      = "org.bluez.Agent1"
	agentManagerDst = "org.bluez"
	agentCapability = "NoInputNoOutput"
)

func (a *pairingAgent) Release() *dbus.Error { return nil }

func (a *pairingAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "0000", nil
}

func (a *pairingAgent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	return nil
}

func (a *pairingAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, nil
}

func (a *pairingAgent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (a *pairingAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	return nil
}

func (a *pairingAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil
}

func (a *pairingAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (a *pairingAgent) Cancel() *dbus.Error { return nil }

// registerPairingAgent exports the agent object on conn and asks BlueZ to use
// it as the default agent for this node. Returns a cleanup func that
// unregisters it.
func registerPairingAgent(conn *dbus.Conn, log *logrus.Entry) (func(), error) {
	agent := &pairingAgent{log: log}
	if err := conn.Export(agent, agentPath, agentIface); err != nil {
		return nil, err
	}

	obj := conn.Object(agentManagerDst, dbus.ObjectPath("/org/bluez"))
	if call := obj.Call("org.bluez.AgentManager1.RegisterAgent", 0, agentPath, agentCapability); call.Err != nil {
		_ = conn.Export(nil, agentPath, agentIface)
		return nil, call.Err
	}
	if call := obj.Call("org.bluez.AgentManager1.RequestDefaultAgent", 0, agentPath); call.Err != nil {
		log.WithError(call.Err).Warn("RequestDefaultAgent failed, continuing with whatever agent BlueZ already has")
	}

	cleanup := func() {
		_ = obj.Call("org.bluez.AgentManager1.UnregisterAgent", 0, agentPath).Err
		_ = conn.Export(nil, agentPath, agentIface)
	}
	return cleanup, nil
}
