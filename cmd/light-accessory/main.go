// Command light-accessory drives a GPIO button and LED as an on/off light
// that a controller commissions and operates over MQTT or HomeKit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/accessory"
	"github.com/sweeney/light-accessory/internal/commission"
	"github.com/sweeney/light-accessory/internal/config"
	"github.com/sweeney/light-accessory/internal/controller"
	"github.com/sweeney/light-accessory/internal/gpio"
	"github.com/sweeney/light-accessory/internal/homekit"
	"github.com/sweeney/light-accessory/internal/light"
	"github.com/sweeney/light-accessory/internal/mqtt"
	"github.com/sweeney/light-accessory/internal/status"
	"github.com/sweeney/light-accessory/internal/store"
)

// keyNodeID holds the accessory's generated identity.
const keyNodeID = "NodeID"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/light-accessory/config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "/etc/light-accessory/config.yaml", "Path to configuration file (shorthand)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	printState := flag.Bool("print-state", false, "Print persisted state and pairing details, then exit")
	printJSON := flag.Bool("json", false, "With -print-state, print the status JSON document")
	resetState := flag.Bool("reset-state", false, "Clear persisted on/off state and enrollment on startup")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	opts := options{printState: *printState, printJSON: *printJSON, resetState: *resetState}
	if err := run(cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// options are the command-line switches that change what run does.
type options struct {
	printState bool
	printJSON  bool
	resetState bool
}

func run(cfg *config.Config, opts options) error {
	// Open persisted preferences
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bucket := db.Bucket(cfg.Storage.Namespace)
	prefs := store.NewPrefs(bucket)

	// HomeKit keys and pairings live in their own namespace.
	var hkStore *homekit.Store
	var hkPairing *homekit.Pairing
	if cfg.Fabric == config.FabricHomeKit {
		hkStore = homekit.NewStore(db.Bucket(cfg.HomeKit.Namespace))
		hkPairing, err = homekit.NewPairing(hkStore, cfg.HomeKit.Pin, cfg.HomeKit.SetupID)
		if err != nil {
			return fmt.Errorf("init homekit pairing: %w", err)
		}
	}

	if opts.resetState {
		log.Info().Msg("Clearing persisted state (-reset-state)")
		if err := resetPersisted(bucket); err != nil {
			log.Warn().Err(err).Msg("Failed to clear persisted state")
		}
		if hkPairing != nil {
			if err := hkPairing.Decommission(); err != nil {
				log.Warn().Err(err).Msg("Failed to clear HomeKit pairings")
			}
		}
	}

	nodeID, err := loadNodeID(prefs)
	if err != nil {
		return fmt.Errorf("node id: %w", err)
	}

	setup := commission.Setup{
		VendorID:      cfg.Commissioning.VendorID,
		ProductID:     cfg.Commissioning.ProductID,
		Discriminator: cfg.Commissioning.Discriminator,
		Passcode:      cfg.Commissioning.Passcode,
		Rendezvous:    cfg.Commissioning.Rendezvous,
	}
	statusCfg := status.Config{
		NodeID:      nodeID,
		TickMs:      cfg.Button.Tick.Duration().Milliseconds(),
		DebounceMs:  cfg.Button.Debounce.Duration().Milliseconds(),
		LongPressMs: cfg.Button.LongPress.Duration().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		StorePath:   cfg.Storage.Path,
		ButtonPin:   cfg.GPIO.ButtonPin,
		LEDPin:      cfg.GPIO.LEDPin,
	}

	// Print state mode
	if opts.printState {
		var pairing pairingInfo = hkPairing
		if hkPairing == nil {
			manager, err := commission.NewManager(bucket, setup, cfg.Commissioning.OnboardingBase, nil, time.Now)
			if err != nil {
				return fmt.Errorf("init commissioning: %w", err)
			}
			pairing = manager
		}
		if opts.printJSON {
			return printStatusJSON(os.Stdout, prefs, pairing, statusCfg, readNetworkInfo(), time.Now())
		}
		var button gpio.Button
		if b, err := gpio.NewRealButton(cfg.GPIO.Chip, cfg.GPIO.ButtonPin); err != nil {
			log.Warn().Err(err).Msg("button unavailable")
		} else {
			button = b
			defer b.Close()
		}
		return printStatus(os.Stdout, prefs, pairing, button, nodeID)
	}

	// Initialize GPIO
	button, err := gpio.NewRealButton(cfg.GPIO.Chip, cfg.GPIO.ButtonPin)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer button.Close()

	led, err := gpio.NewRealLED(cfg.GPIO.Chip, cfg.GPIO.LEDPin)
	if err != nil {
		return fmt.Errorf("init led: %w", err)
	}
	defer led.Close()

	// Initialize MQTT (the fabric itself, or state and lifecycle telemetry
	// alongside HomeKit)
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, nodeID)
	client := mqtt.NewRealClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		ClientID:   "light-accessory-" + shortID(nodeID),
		NodeID:     nodeID,
		Topics:     topics,
		OutboxSize: cfg.MQTT.OutboxSize,
		Device: mqtt.DeviceInfo{
			Name:         cfg.Device.Name,
			Manufacturer: cfg.Device.Manufacturer,
			Model:        cfg.Device.Model,
		},
	})
	defer client.Close()

	ctrlCfg := controller.Config{
		Debounce:             cfg.Button.Debounce.Duration(),
		LongPress:            cfg.Button.LongPress.Duration(),
		IdentifyInterval:     cfg.Identify.Interval.Duration(),
		IdentifyTransitions:  cfg.Identify.Transitions,
		CommissionLogEvery:   cfg.Commissioning.LogEvery.Duration(),
		RestoreAfterIdentify: cfg.Identify.Restore,
		StateKey:             store.KeyOnOff,
	}
	persisted := controller.LoadPersisted(prefs, ctrlCfg.StateKey)

	// Wire the fabric
	var (
		ep       fabricEndpoint
		comm     fabricCommissioner
		commands <-chan mqtt.Command
		network  controller.Network
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Fabric {
	case config.FabricHomeKit:
		hkLight := homekit.NewLight(hapaccessory.Info{
			Name:         cfg.Device.Name,
			SerialNumber: nodeID,
			Manufacturer: cfg.Device.Manufacturer,
			Model:        cfg.Device.Model,
		}, persisted, client)
		server, err := homekit.NewServer(hkStore, cfg.HomeKit.Pin, cfg.HomeKit.Addr, hkLight)
		if err != nil {
			return err
		}
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Error().Err(err).Msg("homekit server stopped")
			}
		}()
		ep, comm, commands = hkLight, hkPairing, hkLight.Commands()

	default:
		manager, err := commission.NewManager(bucket, setup, cfg.Commissioning.OnboardingBase, client, time.Now)
		if err != nil {
			return fmt.Errorf("init commissioning: %w", err)
		}
		if manager.IsDeviceCommissioned() {
			if err := client.Announce(); err != nil {
				log.Warn().Err(err).Msg("failed to announce accessory")
			}
		}
		ep, comm, commands, network = accessory.NewOnOffLight(persisted, client), manager, client.Commands(), client
	}

	// Wire the controller
	actuator := light.New(led)
	ctrl := controller.New(ctrlCfg, controller.Deps{
		Light:        actuator,
		Store:        prefs,
		Endpoint:     ep,
		Commissioner: comm,
		Button:       button,
		Network:      network,
	})
	ctrl.Initialize(persisted)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusCfg)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	l := &loop{
		ctrl:         ctrl,
		endpoint:     ep,
		commissioner: comm,
		client:       client,
		commands:     commands,
		led:          actuator,
		tracker:      tracker,
	}
	l.updateTracker()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startupEvent); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	log.Info().
		Str("node_id", nodeID).
		Str("fabric", cfg.Fabric).
		Str("broker", cfg.MQTT.Broker).
		Dur("tick", cfg.Button.Tick.Duration()).
		Dur("debounce", cfg.Button.Debounce.Duration()).
		Dur("long_press", cfg.Button.LongPress.Duration()).
		Msg("started")

	ticker := time.NewTicker(cfg.Button.Tick.Duration())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(l, time.Now, ticker.C, sigCh)
}

// fabricEndpoint is an on/off endpoint the controller owns and commands drive.
type fabricEndpoint interface {
	controller.Endpoint
	endpoint
}

// fabricCommissioner is an enrollment source for both the controller and the loop.
type fabricCommissioner interface {
	controller.Commissioner
	commissioner
}

// endpoint is the part of the on/off endpoint that remote commands drive.
type endpoint interface {
	SetOnOff(on bool) bool
	Toggle() bool
	Identify(identifying bool) bool
}

// commissioner is the fabric-facing side of enrollment.
type commissioner interface {
	IsDeviceCommissioned() bool
	Enrollment() *commission.Enrollment
	Commission(req commission.Request) error
}

// loop carries everything the main loop touches. Only runLoop's goroutine
// uses it.
type loop struct {
	ctrl         *controller.Controller
	endpoint     endpoint
	commissioner commissioner
	client       mqtt.Client
	commands     <-chan mqtt.Command // defaults to client.Commands()
	led          *light.Actuator
	tracker      *status.Tracker
}

func runLoop(l *loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	commands := l.commands
	if commands == nil {
		commands = l.client.Commands()
	}
	for {
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				l.updateTracker()
				snap := l.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := l.client.PublishSystem(event); err != nil {
				log.Warn().Err(err).Msg("failed to publish shutdown event")
			} else {
				log.Info().Msg("published shutdown event")
			}
			return nil

		case cmd := <-commands:
			l.handleCommand(cmd)
			l.updateTracker()

		case <-tick:
			l.ctrl.Tick(now())
			l.updateTracker()
		}
	}
}

func (l *loop) handleCommand(cmd mqtt.Command) {
	log.Debug().Str("kind", string(cmd.Kind)).Msg("command received")

	switch cmd.Kind {
	case mqtt.CommandSet, mqtt.CommandToggle:
		if !l.commissioner.IsDeviceCommissioned() {
			log.Warn().Str("kind", string(cmd.Kind)).Msg("ignoring command: not commissioned")
			return
		}
		if cmd.Kind == mqtt.CommandToggle {
			l.endpoint.Toggle()
		} else {
			l.endpoint.SetOnOff(cmd.On)
		}

	case mqtt.CommandIdentify:
		l.endpoint.Identify(cmd.On)

	case mqtt.CommandCommission:
		err := l.commissioner.Commission(commission.Request{
			PairingCode: cmd.PairingCode,
			Controller:  cmd.Controller,
		})
		if errors.Is(err, commission.ErrPairingCode) {
			log.Warn().Str("controller", cmd.Controller).Msg("commissioning rejected: wrong pairing code")
		} else if err != nil {
			log.Error().Err(err).Msg("commissioning failed")
		}
	}
}

// updateTracker refreshes the status snapshot for system events.
func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(l.ctrl.State(), l.led.State(), string(l.ctrl.Phase()), l.ctrl.ButtonState(), l.ctrl.Counts())
	l.tracker.SetMQTTConnected(l.client.IsConnected())
	controllerName := ""
	if e := l.commissioner.Enrollment(); e != nil {
		controllerName = e.Controller
	}
	l.tracker.SetCommissioned(l.commissioner.IsDeviceCommissioned(), controllerName)
}

// loadNodeID returns the persisted node id, generating one on first boot.
func loadNodeID(prefs *store.Prefs) (string, error) {
	id, err := prefs.LoadString(keyNodeID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := prefs.Put(keyNodeID, id); err != nil {
		return "", fmt.Errorf("persist node id: %w", err)
	}
	log.Info().Str("node_id", id).Msg("generated node id")
	return id, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resetPersisted forgets the on/off value and the enrollment. The node id is kept.
func resetPersisted(b store.Bucket) error {
	if err := b.Delete(store.KeyOnOff); err != nil {
		return err
	}
	return b.Delete(commission.KeyFabric)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
