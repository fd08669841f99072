package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sweeney/light-accessory/internal/accessory"
	"github.com/sweeney/light-accessory/internal/commission"
	"github.com/sweeney/light-accessory/internal/gpio"
	"github.com/sweeney/light-accessory/internal/logic"
	"github.com/sweeney/light-accessory/internal/status"
	"github.com/sweeney/light-accessory/internal/store"
)

// pairingInfo is what -print-state reports about enrollment.
type pairingInfo interface {
	Enrollment() *commission.Enrollment
	ManualPairingCode() string
	OnboardingQRCodeURL() string
}

// printStatus writes the persisted state and pairing details. button may be nil.
func printStatus(w io.Writer, prefs *store.Prefs, pairing pairingInfo, button gpio.Button, nodeID string) error {
	on, err := prefs.LoadBool(store.KeyOnOff, false)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	fmt.Fprintf(w, "Node ID: %s\n", nodeID)
	fmt.Fprintf(w, "State: %s\n", accessory.StateString(on))
	if e := pairing.Enrollment(); e != nil && !e.CommissionedAt.IsZero() {
		fmt.Fprintf(w, "Commissioned: yes (controller %q since %s)\n", e.Controller, e.CommissionedAt.UTC().Format(time.RFC3339))
	} else if e != nil {
		fmt.Fprintf(w, "Commissioned: yes (controller %q)\n", e.Controller)
	} else {
		fmt.Fprintln(w, "Commissioned: no")
	}
	fmt.Fprintf(w, "Manual pairing code: %s\n", commission.FormatManualCode(pairing.ManualPairingCode()))
	fmt.Fprintf(w, "QR code URL: %s\n", pairing.OnboardingQRCodeURL())

	if button != nil {
		pressed, err := button.Read()
		if err != nil {
			fmt.Fprintf(w, "Button: error: %v\n", err)
		} else if pressed {
			fmt.Fprintln(w, "Button: PRESSED")
		} else {
			fmt.Fprintln(w, "Button: RELEASED")
		}
	}
	return nil
}

// printStatusJSON writes the persisted state as the status JSON document.
// The loop is not running, so phase and button are reported as unknown.
func printStatusJSON(w io.Writer, prefs *store.Prefs, pairing pairingInfo, cfg status.Config, net *status.NetworkInfo, now time.Time) error {
	on, err := prefs.LoadBool(store.KeyOnOff, false)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	tracker := status.NewTracker(now, cfg)
	tracker.Update(on, on, "", "", logic.ActionCounts{})
	controllerName := ""
	e := pairing.Enrollment()
	if e != nil {
		controllerName = e.Controller
	}
	tracker.SetCommissioned(e != nil, controllerName)
	if net != nil {
		tracker.SetNetwork(net)
	}

	_, err = w.Write(append(status.FormatJSON(tracker.Snapshot()), '\n'))
	return err
}
