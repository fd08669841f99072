package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/google/uuid"

	"github.com/sweeney/light-accessory/internal/accessory"
	"github.com/sweeney/light-accessory/internal/commission"
	"github.com/sweeney/light-accessory/internal/controller"
	"github.com/sweeney/light-accessory/internal/gpio"
	"github.com/sweeney/light-accessory/internal/homekit"
	"github.com/sweeney/light-accessory/internal/light"
	"github.com/sweeney/light-accessory/internal/mqtt"
	"github.com/sweeney/light-accessory/internal/status"
	"github.com/sweeney/light-accessory/internal/store"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

// --- runLoop tests ---

var testSetup = commission.Setup{
	VendorID:      0xFFF1,
	ProductID:     0x8000,
	Discriminator: 3840,
	Passcode:      20202021,
	Rendezvous:    commission.RendezvousOnNetwork,
}

const testPairingCode = "3497-011-2332"

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// repeat returns n copies of pressed.
func repeat(pressed bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = pressed
	}
	return out
}

type testRig struct {
	loop    *loop
	client  *mqtt.FakeClient
	led     *gpio.FakeLED
	button  *gpio.FakeButton
	mem     *store.Memory
	prefs   *store.Prefs
	manager *commission.Manager
	ctrl    *controller.Controller
}

func newRig(t *testing.T, persisted, commissioned bool, samples []bool) *testRig {
	t.Helper()
	r := &testRig{
		client: mqtt.NewFakeClient(),
		led:    gpio.NewFakeLED(),
		button: gpio.NewFakeButton(samples...),
		mem:    store.NewMemory(store.DefaultNamespace),
	}
	r.client.Connected = true
	r.prefs = store.NewPrefs(r.mem)
	if err := r.prefs.StoreBool(store.KeyOnOff, persisted); err != nil {
		t.Fatal(err)
	}

	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	m, err := commission.NewManager(r.mem, testSetup, "", r.client, clock)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if commissioned {
		if err := m.Commission(commission.Request{PairingCode: testPairingCode, Controller: "hub"}); err != nil {
			t.Fatalf("Commission: %v", err)
		}
	}
	r.manager = m

	actuator := light.New(r.led)
	ep := accessory.NewOnOffLight(persisted, r.client)
	r.ctrl = controller.New(controller.DefaultConfig(), controller.Deps{
		Light:        actuator,
		Store:        r.prefs,
		Endpoint:     ep,
		Commissioner: m,
		Button:       r.button,
		Network:      r.client,
		Sleep:        func(time.Duration) {},
	})
	r.ctrl.Initialize(controller.LoadPersisted(r.prefs, store.KeyOnOff))
	r.client.Reset()
	r.client.Connected = true

	r.loop = &loop{
		ctrl:         r.ctrl,
		endpoint:     ep,
		commissioner: m,
		client:       r.client,
		led:          actuator,
		tracker:      status.NewTracker(time.Now(), status.Config{NodeID: "node-1"}),
	}
	return r
}

func (r *testRig) persisted(t *testing.T) bool {
	t.Helper()
	v, err := r.prefs.LoadBool(store.KeyOnOff, false)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// newHomeKitRig wires the loop to a HomeKit lightbulb. paired records a
// pairing for controller "hub". Commands are fed through cmds.
func newHomeKitRig(t *testing.T, persisted, paired bool) (*testRig, *homekit.Light, chan mqtt.Command) {
	t.Helper()
	r := &testRig{
		client: mqtt.NewFakeClient(),
		led:    gpio.NewFakeLED(),
		button: gpio.NewFakeButton(false),
		mem:    store.NewMemory(store.DefaultNamespace),
	}
	r.prefs = store.NewPrefs(r.mem)
	if err := r.prefs.StoreBool(store.KeyOnOff, persisted); err != nil {
		t.Fatal(err)
	}

	hkStore := homekit.NewStore(store.NewMemory("HomeKit"))
	pairing, err := homekit.NewPairing(hkStore, "00102003", "LGHT")
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	if paired {
		hkStore.Set("hub.pairing", []byte("{}"))
	}

	hk := homekit.NewLight(hapaccessory.Info{Name: "Light"}, persisted, r.client)
	actuator := light.New(r.led)
	r.ctrl = controller.New(controller.DefaultConfig(), controller.Deps{
		Light:        actuator,
		Store:        r.prefs,
		Endpoint:     hk,
		Commissioner: pairing,
		Button:       r.button,
		Sleep:        func(time.Duration) {},
	})
	r.ctrl.Initialize(persisted)
	r.client.Reset()

	cmds := make(chan mqtt.Command, 4)
	r.loop = &loop{
		ctrl:         r.ctrl,
		endpoint:     hk,
		commissioner: pairing,
		client:       r.client,
		commands:     cmds,
		led:          actuator,
		tracker:      status.NewTracker(time.Now(), status.Config{NodeID: "node-1"}),
	}
	return r, hk, cmds
}

// runRunLoop drives runLoop with nTicks ticks and then the signal.
// Commands queued before the call are drained first.
func runRunLoop(t *testing.T, r *testRig, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.loop, clock, tick, sig)
	}()

	queued := r.loop.commands
	if queued == nil {
		queued = r.client.Commands()
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(queued) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("queued commands were not consumed")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func TestRunLoopShutdownEvent(t *testing.T) {
	r := newRig(t, true, true, repeat(false, 1))

	if err := runRunLoop(t, r, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.client.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.client.SystemEvents))
	}
	ev := r.client.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("unexpected event: %+v", ev)
	}
	payload := string(r.client.SystemPayloads[0])
	for _, want := range []string{`"event":"SHUTDOWN"`, `"reason":"SIGTERM"`, `"state":"ON"`, `"commissioned":true`, `"controller":"hub"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %s: %s", want, payload)
		}
	}
}

func TestRunLoopSIGINT(t *testing.T) {
	r := newRig(t, false, false, repeat(false, 1))
	if err := runRunLoop(t, r, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if r.client.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("Reason: got %q", r.client.SystemEvents[0].Reason)
	}
}

func TestRunLoopShortPressToggles(t *testing.T) {
	samples := append(repeat(false, 3), append(repeat(true, 4), repeat(false, 3)...)...)
	r := newRig(t, false, true, samples)

	if err := runRunLoop(t, r, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if !r.ctrl.State() || !r.led.On || !r.persisted(t) {
		t.Error("short press should turn the light ON")
	}
	if last, ok := r.client.LastState(); !ok || !last {
		t.Errorf("expected ON report, got %v", r.client.States)
	}
}

func TestRunLoopBounceIgnored(t *testing.T) {
	samples := append(repeat(false, 3), append(repeat(true, 2), repeat(false, 3)...)...)
	r := newRig(t, false, true, samples)

	if err := runRunLoop(t, r, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if r.ctrl.State() {
		t.Error("a 200ms press should be rejected as a bounce")
	}
	if len(r.client.States) != 0 {
		t.Errorf("expected no state reports, got %v", r.client.States)
	}
}

func TestRunLoopLongPressDecommissions(t *testing.T) {
	samples := append(repeat(false, 2), repeat(true, 70)...)
	r := newRig(t, true, true, samples)

	if err := runRunLoop(t, r, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if r.manager.IsDeviceCommissioned() {
		t.Error("accessory should be decommissioned")
	}
	if r.client.Withdrawn != 1 {
		t.Errorf("Withdrawn: got %d, want 1", r.client.Withdrawn)
	}
	if r.ctrl.State() || r.led.On || r.persisted(t) {
		t.Error("decommission should turn the light OFF")
	}
	if r.ctrl.Counts().Decommissions != 1 {
		t.Errorf("Decommissions: got %d", r.ctrl.Counts().Decommissions)
	}
	if r.ctrl.Phase() != controller.PhaseAwaitingCommissioning {
		t.Errorf("phase: got %s", r.ctrl.Phase())
	}
}

func TestRunLoopButtonIgnoredUntilCommissioned(t *testing.T) {
	samples := append(repeat(true, 4), repeat(false, 2)...)
	r := newRig(t, false, false, samples)

	if err := runRunLoop(t, r, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if r.ctrl.State() {
		t.Error("button should do nothing before commissioning")
	}
}

func TestRunLoopWaitsForNetwork(t *testing.T) {
	samples := append(repeat(true, 4), repeat(false, 2)...)
	r := newRig(t, false, true, samples)
	r.client.Connected = false

	if err := runRunLoop(t, r, len(samples), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if r.ctrl.Phase() != controller.PhaseAwaitingNetwork {
		t.Errorf("phase: got %s", r.ctrl.Phase())
	}
	if r.ctrl.State() {
		t.Error("button should do nothing before the network is up")
	}
}

func TestRunLoopButtonReadError(t *testing.T) {
	r := newRig(t, false, true, repeat(false, 1))
	r.button.ReadError = errors.New("gpio fault")

	if err := runRunLoop(t, r, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.client.SystemEvents) != 1 || r.client.SystemEvents[0].Event != "SHUTDOWN" {
		t.Error("loop should survive read errors and publish SHUTDOWN")
	}
}

func TestRunLoopCommissionCommand(t *testing.T) {
	r := newRig(t, true, false, repeat(false, 1))
	r.client.Inject(mqtt.Command{Kind: mqtt.CommandCommission, PairingCode: testPairingCode, Controller: "hub"})

	if err := runRunLoop(t, r, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if !r.manager.IsDeviceCommissioned() {
		t.Fatal("accessory should be commissioned")
	}
	if r.client.Announced != 1 {
		t.Errorf("Announced: got %d, want 1", r.client.Announced)
	}
	if len(r.client.States) != 1 || !r.client.States[0] {
		t.Errorf("expected exactly one ON report after commissioning, got %v", r.client.States)
	}
	if r.ctrl.Phase() != controller.PhaseRunning {
		t.Errorf("phase: got %s", r.ctrl.Phase())
	}
}

func TestRunLoopRemoteSet(t *testing.T) {
	r := newRig(t, false, true, repeat(false, 1))
	r.client.Inject(mqtt.Command{Kind: mqtt.CommandSet, On: true})

	if err := runRunLoop(t, r, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !r.ctrl.State() || !r.led.On || !r.persisted(t) {
		t.Error("remote ON should reach light and store")
	}
}

// --- handleCommand tests ---

func TestHandleSetIgnoredWhenNotCommissioned(t *testing.T) {
	r := newRig(t, false, false, repeat(false, 1))

	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandSet, On: true})
	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandToggle})

	if r.ctrl.State() || r.led.On {
		t.Error("commands should be ignored before commissioning")
	}
}

func TestHandleToggle(t *testing.T) {
	r := newRig(t, true, true, repeat(false, 1))

	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandToggle})
	if r.ctrl.State() {
		t.Error("toggle should turn the light OFF")
	}
	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandToggle})
	if !r.ctrl.State() {
		t.Error("second toggle should turn the light ON")
	}
}

func TestHandleIdentify(t *testing.T) {
	r := newRig(t, true, true, repeat(false, 1))
	r.led.Writes = nil

	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandIdentify, On: true})

	if len(r.led.Writes) != 4 {
		t.Errorf("expected 4 blink writes, got %v", r.led.Writes)
	}
	if !r.ctrl.State() {
		t.Error("identify must not change the on/off value")
	}
}

func TestHandleCommissionWrongCode(t *testing.T) {
	r := newRig(t, false, false, repeat(false, 1))

	r.loop.handleCommand(mqtt.Command{Kind: mqtt.CommandCommission, PairingCode: "0000-000-0000", Controller: "intruder"})

	if r.manager.IsDeviceCommissioned() {
		t.Error("wrong pairing code must not commission")
	}
	if r.client.Announced != 0 {
		t.Error("nothing should be announced")
	}
}

func TestUpdateTracker(t *testing.T) {
	r := newRig(t, true, true, repeat(false, 1))
	r.loop.updateTracker()

	snap := r.loop.tracker.Snapshot()
	if !snap.On || !snap.LED {
		t.Error("snapshot should show ON")
	}
	if !snap.Commissioned || snap.Controller != "hub" {
		t.Errorf("commissioned: got (%v, %q)", snap.Commissioned, snap.Controller)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected")
	}
	if snap.Phase != string(controller.PhaseAwaitingNetwork) {
		t.Errorf("phase: got %q", snap.Phase)
	}
}

// --- helpers ---

func TestLoadNodeIDGeneratesOnce(t *testing.T) {
	prefs := store.NewPrefs(store.NewMemory(store.DefaultNamespace))

	id, err := loadNodeID(prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("node id %q is not a UUID: %v", id, err)
	}

	again, err := loadNodeID(prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != id {
		t.Errorf("node id changed: %q then %q", id, again)
	}
}

func TestLoadNodeIDPersistError(t *testing.T) {
	mem := store.NewMemory(store.DefaultNamespace)
	mem.PutError = errors.New("read-only")
	if _, err := loadNodeID(store.NewPrefs(mem)); err == nil {
		t.Error("expected error when node id cannot be stored")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("got %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestResetPersisted(t *testing.T) {
	r := newRig(t, true, true, repeat(false, 1))
	if err := r.mem.Put(keyNodeID, "node-1"); err != nil {
		t.Fatal(err)
	}

	if err := resetPersisted(r.mem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.persisted(t) {
		t.Error("on/off should be cleared")
	}
	var e commission.Enrollment
	if ok, _ := r.mem.Get(commission.KeyFabric, &e); ok {
		t.Error("enrollment should be cleared")
	}
	var id string
	if ok, _ := r.mem.Get(keyNodeID, &id); !ok || id != "node-1" {
		t.Error("node id should be kept")
	}
}

func TestPrintStatus(t *testing.T) {
	r := newRig(t, true, false, nil)
	var buf bytes.Buffer

	if err := printStatus(&buf, r.prefs, r.manager, gpio.NewFakeButton(true), "node-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Node ID: node-1",
		"State: ON",
		"Commissioned: no",
		"Manual pairing code: " + testPairingCode,
		"QR code URL: " + r.manager.OnboardingQRCodeURL(),
		"Button: PRESSED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusCommissionedNoButton(t *testing.T) {
	r := newRig(t, false, true, nil)
	var buf bytes.Buffer

	if err := printStatus(&buf, r.prefs, r.manager, nil, "node-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `Commissioned: yes (controller "hub" since 2026-01-01T00:00:00Z)`) {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "Button:") {
		t.Error("no button line expected without a button")
	}
}

func TestRunLoopHomeKitSetReachesLight(t *testing.T) {
	r, hk, cmds := newHomeKitRig(t, false, true)
	cmds <- mqtt.Command{Kind: mqtt.CommandSet, On: true}

	if err := runRunLoop(t, r, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if !r.ctrl.State() || !r.led.On || !r.persisted(t) {
		t.Error("HomeKit write should turn the light ON")
	}
	if !hk.Characteristic() {
		t.Error("characteristic should be ON")
	}
	if last, ok := r.client.LastState(); !ok || !last {
		t.Errorf("MQTT mirror should see ON, got %v", r.client.States)
	}
	payload := string(r.client.SystemPayloads[0])
	if !strings.Contains(payload, `"controller":"hub"`) {
		t.Errorf("shutdown payload should name the paired controller: %s", payload)
	}
}

func TestRunLoopHomeKitUnpairedIgnoresSet(t *testing.T) {
	r, _, cmds := newHomeKitRig(t, false, false)
	cmds <- mqtt.Command{Kind: mqtt.CommandSet, On: true}

	if err := runRunLoop(t, r, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if r.ctrl.State() || r.led.On {
		t.Error("set should be ignored while unpaired")
	}
}

func TestPrintStatusHomeKit(t *testing.T) {
	hkStore := homekit.NewStore(store.NewMemory("HomeKit"))
	pairing, err := homekit.NewPairing(hkStore, "00102003", "LGHT")
	if err != nil {
		t.Fatal(err)
	}
	hkStore.Set("hub.pairing", []byte("{}"))
	prefs := store.NewPrefs(store.NewMemory(store.DefaultNamespace))

	var buf bytes.Buffer
	if err := printStatus(&buf, prefs, pairing, nil, "node-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`Commissioned: yes (controller "hub")`,
		"Manual pairing code: 001-02-003",
		"QR code URL: X-HM://00520NTRNLGHT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatusJSON(t *testing.T) {
	r := newRig(t, true, true, nil)
	var buf bytes.Buffer

	cfg := status.Config{NodeID: "node-1", Broker: "tcp://localhost:1883"}
	net := &status.NetworkInfo{Type: "wifi", IP: "10.0.0.5", Status: "up"}
	if err := printStatusJSON(&buf, r.prefs, r.manager, cfg, net, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`"node_id": "node-1"`,
		`"state": "ON"`,
		`"commissioned": true`,
		`"controller": "hub"`,
		`"phase": "UNKNOWN"`,
		`"ip": "10.0.0.5"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Error("output should end with a newline")
	}
}

func TestPrintStatusJSONLoadError(t *testing.T) {
	mem := store.NewMemory(store.DefaultNamespace)
	mem.Put(store.KeyOnOff, "not a bool")
	r := newRig(t, false, false, nil)

	var buf bytes.Buffer
	if err := printStatusJSON(&buf, store.NewPrefs(mem), r.manager, status.Config{}, nil, time.Now()); err == nil {
		t.Error("expected load error")
	}
}
