package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"qaul.net/ble-core/internal/config"
	"qaul.net/ble-core/internal/uuids"
)

// Core is the Adapter Controller (§4.1): the single state machine behind
// Start/Stop and the main loop that merges discovery, inbound fragments, and
// commands the way the teacher's own peer_common.go merges its event
// sources, just over channels instead of futures_concurrency::Merge.
type Core struct {
	log *logrus.Entry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cfg config.Config

	adapter     *bluetooth.Adapter
	dbusConn    *dbus.Conn
	adapterPath dbus.ObjectPath
	agentDone   func()

	peers       *peerTable
	links       *linkTracker
	reassembler *reassembler
	sendQueues  *sendQueues
	gatt        *gattServer

	arrivals         chan fragmentArrival
	scanHits         chan scanHit
	commands         chan command
	events           chan Event
	discoveryResults chan discoveryResult
}

// NewCore builds an idle core. blockList is the set of MACs the sweeper and
// discovery handler must never connect to (§3 supplemented block list).
func NewCore(log *logrus.Entry, blockList []bluetooth.Address) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Core{
		log:   log,
		peers: newPeerTable(blockList),
	}
}

// Events returns the channel Start-side callers should drain for the
// lifetime of the core; it is closed once Stop completes.
func (c *Core) Events() <-chan Event { return c.events }

// Start implements §4.1's startup sequence: open a D-Bus session, register
// the pairing agent, acquire and power the adapter, install the discovery
// filter, stand up the GATT application, start advertising, then hand off to
// the main loop.
func (c *Core) Start(cfg config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	cfg = cfg.WithDefaults()
	c.cfg = cfg

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("%w: system bus: %v", ErrAdapterUnavailable, err)
	}
	c.dbusConn = conn

	adapterPath, err := findDefaultAdapterPath(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	c.adapterPath = adapterPath

	agentDone, err := registerPairingAgent(conn, c.log)
	if err != nil {
		c.log.WithError(err).Warn("pairing agent registration failed, continuing unpaired")
		agentDone = func() {}
	}
	c.agentDone = agentDone

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		agentDone()
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	c.adapter = adapter

	if err := setDiscoveryFilter(conn, adapterPath, uuids.Filter()); err != nil {
		c.log.WithError(err).Warn("SetDiscoveryFilter failed, scanning unfiltered")
	}

	c.arrivals = make(chan fragmentArrival, cfg.InboundCapacity)
	c.scanHits = make(chan scanHit, cfg.InboundCapacity)
	c.commands = make(chan command, cfg.CommandCapacity)
	c.events = make(chan Event, cfg.InboundCapacity)
	c.discoveryResults = make(chan discoveryResult, cfg.InboundCapacity)

	c.links = newLinkTracker()
	c.reassembler = newReassembler()
	c.sendQueues = newSendQueues(cfg.SendQueueCapacity)

	c.gatt = newGATTServer(cfg.Identifier, c.arrivals, c.links, c.log)
	if err := c.gatt.register(adapter); err != nil {
		agentDone()
		return fmt.Errorf("%w: %v", ErrServeRejected, err)
	}

	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			c.links.onConnect(device.Address)
		} else {
			c.links.onDisconnect(device.Address)
		}
	})

	adv := adapter.DefaultAdvertisement()
	advOpts := bluetooth.AdvertisementOptions{
		LocalName:    uuids.LocalName,
		ServiceUUIDs: uuids.Filter(),
	}
	if cfg.AdvertTxPower != nil {
		// tinygo's AdvertisementOptions has no portable Tx power knob as of
		// this writing; the hint is accepted in Config (§6) but is not
		// applied to the advertisement.
		_ = cfg.AdvertTxPower
	}
	if err := adv.Configure(advOpts); err != nil {
		agentDone()
		return fmt.Errorf("%w: %v", ErrAdvertiseRejected, err)
	}
	if err := adv.Start(); err != nil {
		agentDone()
		return fmt.Errorf("%w: %v", ErrAdvertiseRejected, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		runScanLoop(ctx, adapter, c.scanHits, c.log)
	}()
	go func() {
		defer c.wg.Done()
		c.runLoop(ctx, adv)
	}()

	c.started = true
	c.events <- EventStarted{}
	return nil
}

// Stop implements §4.1's shutdown: stop advertising and scanning, drain the
// main loop, unregister the pairing agent, and close the D-Bus session.
func (c *Core) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	c.cancel()
	c.wg.Wait()

	if c.agentDone != nil {
		c.agentDone()
	}
	if c.dbusConn != nil {
		_ = c.dbusConn.Close()
	}
	select {
	case c.events <- EventStopped{}:
	default:
	}
	close(c.events)
	c.started = false
	return nil
}

// SendMessage submits a SendMessage command to the main loop and blocks for
// its result (§4.5). Safe to call concurrently; commands are serialized by
// the loop's single dispatch goroutine.
func (c *Core) SendMessage(req SendMessageRequest) (SendResult, error) {
	resultCh := make(chan SendResult, 1)
	cmd := sendCommand{req: req, result: resultCh}
	select {
	case c.commands <- cmd:
	default:
		return SendResult{}, fmt.Errorf("ble: command channel full")
	}
	return <-resultCh, nil
}

// Info submits an InfoRequest command and blocks for the response (§6).
func (c *Core) Info() (InfoResponse, error) {
	resultCh := make(chan infoResult, 1)
	select {
	case c.commands <- infoCommand{result: resultCh}:
	default:
		return InfoResponse{}, fmt.Errorf("ble: command channel full")
	}
	res := <-resultCh
	return res.info, res.err
}
