package homekit

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/commission"
)

// CategoryLightbulb is the HomeKit accessory category for lights.
const CategoryLightbulb = 5

// pairingSuffix marks the keys the accessory server writes per paired controller.
const pairingSuffix = ".pairing"

// setupFlagIP advertises IP transport in the setup URI.
const setupFlagIP = 1 << 28

// ErrPairInApp is returned by Commission: HomeKit controllers pair through
// the accessory server, not through a request to the daemon.
var ErrPairInApp = errors.New("homekit accessories are paired from the Home app")

// Pairing reports HomeKit pairings as the accessory's enrollment.
type Pairing struct {
	st      *Store
	pin     string
	setupID string
}

// NewPairing checks the setup code and setup id.
func NewPairing(st *Store, pin, setupID string) (*Pairing, error) {
	if err := ValidatePin(pin); err != nil {
		return nil, err
	}
	if len(setupID) != 4 || strings.Trim(setupID, "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		return nil, fmt.Errorf("setup id %q: want four characters 0-9 or A-Z", setupID)
	}
	return &Pairing{st: st, pin: pin, setupID: setupID}, nil
}

// ValidatePin accepts eight digits, excluding the codes HomeKit refuses.
func ValidatePin(pin string) error {
	if len(pin) != 8 || strings.Trim(pin, "0123456789") != "" {
		return fmt.Errorf("setup code %q: want eight digits", pin)
	}
	if pin == "12345678" || pin == "87654321" || strings.Count(pin, pin[:1]) == 8 {
		return fmt.Errorf("setup code %q is not allowed", pin)
	}
	return nil
}

// Controllers lists the paired controller names.
func (p *Pairing) Controllers() ([]string, error) {
	keys, err := p.st.KeysWithSuffix(pairingSuffix)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, controllerName(strings.TrimSuffix(k, pairingSuffix)))
	}
	return names, nil
}

// controllerName decodes a hex-encoded pairing name; other names pass through.
func controllerName(s string) string {
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return string(b)
	}
	return s
}

// IsDeviceCommissioned reports whether any controller is paired.
func (p *Pairing) IsDeviceCommissioned() bool {
	names, err := p.Controllers()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read homekit pairings")
		return false
	}
	return len(names) > 0
}

// Enrollment returns the first paired controller, or nil. HomeKit does not
// record when the pairing was made.
func (p *Pairing) Enrollment() *commission.Enrollment {
	names, err := p.Controllers()
	if err != nil || len(names) == 0 {
		return nil
	}
	return &commission.Enrollment{Controller: names[0]}
}

// ManualPairingCode returns the setup code as XXX-XX-XXX.
func (p *Pairing) ManualPairingCode() string {
	return p.pin[:3] + "-" + p.pin[3:5] + "-" + p.pin[5:]
}

// OnboardingQRCodeURL returns the X-HM setup URI encoded in HomeKit QR codes.
func (p *Pairing) OnboardingQRCodeURL() string {
	return SetupURI(p.pin, p.setupID, CategoryLightbulb)
}

// Commission always fails with ErrPairInApp.
func (p *Pairing) Commission(commission.Request) error {
	return ErrPairInApp
}

// Decommission removes every pairing.
func (p *Pairing) Decommission() error {
	keys, err := p.st.KeysWithSuffix(pairingSuffix)
	if err != nil {
		return fmt.Errorf("list pairings: %w", err)
	}
	for _, k := range keys {
		if err := p.st.Delete(k); err != nil {
			return fmt.Errorf("remove pairing: %w", err)
		}
	}
	log.Info().Int("pairings", len(keys)).Msg("HomeKit pairings removed")
	return nil
}

// SetupURI builds the X-HM:// payload: category, IP flag and setup code
// packed into nine base-36 digits, followed by the setup id.
func SetupURI(pin, setupID string, category uint64) string {
	code, _ := strconv.ParseUint(pin, 10, 32)
	v := category<<31 | setupFlagIP | code
	payload := strings.ToUpper(strconv.FormatUint(v, 36))
	if len(payload) < 9 {
		payload = strings.Repeat("0", 9-len(payload)) + payload
	}
	return "X-HM://" + payload + setupID
}
