package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// DeviceInfo mirrors the upstream BleInfoResponse.device fields (§6). Fields
// the BlueZ D-Bus surface genuinely can't answer are left at their honest
// stub value rather than invented, matching the original source's own
// `// TODO: provide actual value` comments (see SPEC_FULL.md supplemented
// features #2); adv_extended/adv_extended_bytes are not among those — see
// queryDeviceInfo below.
type DeviceInfo struct {
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

// InfoResponse wraps DeviceInfo the way §6's InfoResponse{device} does.
type InfoResponse struct {
	Device DeviceInfo
}

const defaultMaxAdvertisementLength = 31

// queryDeviceInfo answers an InfoRequest by talking to BlueZ directly: tinygo
// bluetooth.Adapter doesn't expose the LEAdvertisingManager1 capability
// properties bluer (the original's binding) relies on, so this dials the
// system bus itself, the same way bluez/adapter.go in the teacher repo talks
// to org.bluez.Adapter1 properties.
func queryDeviceInfo(conn *dbus.Conn, adapterPath dbus.ObjectPath) (InfoResponse, error) {
	props, err := getAllProps(conn, adapterPath, "org.bluez.Adapter1")
	if err != nil {
		return InfoResponse{}, fmt.Errorf("ble: Adapter1 properties: %w", err)
	}

	addr, _ := props["Address"].Value().(string)
	name, _ := props["Name"].Value().(string)
	powered, _ := props["Powered"].Value().(bool)

	maxAdvLen := uint32(defaultMaxAdvertisementLength)
	multiAdvSupport := false
	if advProps, err := getAllProps(conn, adapterPath, "org.bluez.LEAdvertisingManager1"); err == nil {
		if v, ok := advProps["SupportedInstances"]; ok {
			if n, ok := v.Value().(byte); ok && n > 1 {
				multiAdvSupport = true
			}
		}
		if v, ok := advProps["SupportedFeatures"]; ok {
			if feats, ok := v.Value().([]string); ok {
				for _, f := range feats {
					if strings.EqualFold(f, "HardwareOffload") {
						multiAdvSupport = true
					}
				}
			}
		}
		// SupportedCapabilities is BlueZ's a{sv} dict of advertising limits
		// (MaxAdvLen, MaxScnRspLen, MinTxPower, MaxTxPower); MaxAdvLen is the
		// real answer to S6's "max_advertisement_length", the same value the
		// original Rust source reads via
		// adapter.supported_advertising_capabilities().max_adv_len.
		if v, ok := advProps["SupportedCapabilities"]; ok {
			if caps, ok := v.Value().(map[string]dbus.Variant); ok {
				if n, ok := variantToUint32(caps["MaxAdvLen"]); ok {
					maxAdvLen = n
				}
			}
		}
	}

	info := DeviceInfo{
		ID:                   addr,
		Name:                 name,
		BluetoothOn:          powered,
		BLESupport:           true,
		AdvExtended:          maxAdvLen > defaultMaxAdvertisementLength,
		AdvExtendedBytes:     maxAdvLen,
		LEMultipleAdvSupport: multiAdvSupport,
	}
	return InfoResponse{Device: info}, nil
}

// variantToUint32 widens whichever integer type BlueZ packed a Variant's
// value as (SupportedCapabilities entries come back as int16/uint16 on
// different BlueZ versions) into a uint32, or reports false if the variant
// isn't a recognized integer type.
func variantToUint32(v dbus.Variant) (uint32, bool) {
	switch n := v.Value().(type) {
	case int16:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	case int32:
		return uint32(n), true
	case uint32:
		return n, true
	default:
		return 0, false
	}
}

func getAllProps(conn *dbus.Conn, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var out map[string]dbus.Variant
	obj := conn.Object("org.bluez", path)
	call := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, iface)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// findDefaultAdapterPath locates the first object exposing org.bluez.Adapter1
// under /org/bluez, the same lookup bluez.DefaultAdapter performs in the
// teacher repo.
func findDefaultAdapterPath(conn *dbus.Conn) (dbus.ObjectPath, error) {
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := conn.Object("org.bluez", dbus.ObjectPath("/"))
	call := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&managed); err != nil {
		return "", err
	}
	for path, ifaces := range managed {
		if _, ok := ifaces["org.bluez.Adapter1"]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("ble: no BlueZ adapter found")
}

// setDiscoveryFilter restricts LE discovery to the configured UUID set
// (§4.1, §6), the way bluez.Adapter.SetDiscoveryFilter does in the teacher.
func setDiscoveryFilter(conn *dbus.Conn, adapterPath dbus.ObjectPath, uuidSet []bluetooth.UUID) error {
	strs := make([]string, len(uuidSet))
	for i, u := range uuidSet {
		strs[i] = u.String()
	}
	filter := map[string]any{
		"Transport": "le",
		"UUIDs":     strs,
	}
	obj := conn.Object("org.bluez", adapterPath)
	return obj.Call("org.bluez.Adapter1.SetDiscoveryFilter", 0, filter).Err
}

// removeDevice asks BlueZ to forget a MAC (§4.3 "remove the device from the
// adapter", §4.6 sweeper). Best-effort: a failure here doesn't change the
// caller's own error, it's just cleanup.
func (c *Core) removeDevice(mac bluetooth.Address) {
	if c.dbusConn == nil || c.adapterPath == "" {
		return
	}
	devPath := dbus.ObjectPath(string(c.adapterPath) + "/dev_" + macToPathSegment(mac))
	obj := c.dbusConn.Object("org.bluez", c.adapterPath)
	if call := obj.Call("org.bluez.Adapter1.RemoveDevice", 0, devPath); call.Err != nil {
		c.log.WithField("mac", mac.String()).WithError(call.Err).Debug("RemoveDevice failed")
	}
}

func macToPathSegment(mac bluetooth.Address) string {
	s := strings.ToUpper(mac.String())
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
