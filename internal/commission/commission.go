// Package commission tracks whether the accessory is enrolled with a controller
// and exposes the pairing details needed to enroll it.
package commission

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/store"
)

// KeyFabric is the store key holding the enrollment record.
const KeyFabric = "Fabric"

// DefaultOnboardingBase is the page that renders a QR payload.
const DefaultOnboardingBase = "https://project-chip.github.io/connectedhomeip/qrcode.html"

// ErrPairingCode is returned when a commissioning request carries the wrong code.
var ErrPairingCode = errors.New("pairing code mismatch")

// Enrollment is the persisted record of the controller that commissioned us.
type Enrollment struct {
	Controller     string    `json:"controller"`
	CommissionedAt time.Time `json:"commissioned_at"`
}

// Request is a commissioning attempt from a controller.
type Request struct {
	PairingCode string `json:"pairing_code"`
	Controller  string `json:"controller"`
}

// Announcer makes the accessory visible to (or hidden from) the controller.
type Announcer interface {
	Announce() error
	Withdraw() error
}

// Manager owns the enrollment state.
type Manager struct {
	mu             sync.RWMutex
	bucket         store.Bucket
	setup          Setup
	onboardingBase string
	announcer      Announcer
	now            func() time.Time
	enrollment     *Enrollment
}

// NewManager loads any existing enrollment from the bucket.
func NewManager(bucket store.Bucket, setup Setup, onboardingBase string, announcer Announcer, now func() time.Time) (*Manager, error) {
	if err := setup.Validate(); err != nil {
		return nil, fmt.Errorf("invalid setup: %w", err)
	}
	if onboardingBase == "" {
		onboardingBase = DefaultOnboardingBase
	}
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		bucket:         bucket,
		setup:          setup,
		onboardingBase: onboardingBase,
		announcer:      announcer,
		now:            now,
	}

	var e Enrollment
	ok, err := bucket.Get(KeyFabric, &e)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if ok {
		m.enrollment = &e
	}
	return m, nil
}

// IsDeviceCommissioned reports whether a controller has enrolled the accessory.
func (m *Manager) IsDeviceCommissioned() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enrollment != nil
}

// Enrollment returns a copy of the current enrollment, or nil.
func (m *Manager) Enrollment() *Enrollment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.enrollment == nil {
		return nil
	}
	e := *m.enrollment
	return &e
}

// ManualPairingCode returns the 11-digit manual pairing code.
func (m *Manager) ManualPairingCode() string {
	return m.setup.ManualCode()
}

// OnboardingQRCodeURL returns a link that renders the onboarding QR code.
func (m *Manager) OnboardingQRCodeURL() string {
	return m.onboardingBase + "?data=" + url.QueryEscape(m.setup.QRPayload())
}

// Commission enrolls the requesting controller if its pairing code matches.
// Commissioning an already-enrolled accessory replaces the controller.
func (m *Manager) Commission(req Request) error {
	if normalizeCode(req.PairingCode) != m.setup.ManualCode() {
		return ErrPairingCode
	}
	e := Enrollment{Controller: req.Controller, CommissionedAt: m.now().UTC()}
	if err := m.bucket.Put(KeyFabric, e); err != nil {
		return fmt.Errorf("persist enrollment: %w", err)
	}

	m.mu.Lock()
	m.enrollment = &e
	m.mu.Unlock()

	log.Info().Str("controller", req.Controller).Msg("Accessory commissioned")
	if m.announcer != nil {
		if err := m.announcer.Announce(); err != nil {
			log.Warn().Err(err).Msg("failed to announce accessory")
		}
	}
	return nil
}

// Decommission erases the enrollment. The accessory must be paired again.
func (m *Manager) Decommission() error {
	m.mu.Lock()
	m.enrollment = nil
	m.mu.Unlock()

	if err := m.bucket.Delete(KeyFabric); err != nil {
		return fmt.Errorf("erase enrollment: %w", err)
	}
	if m.announcer != nil {
		if err := m.announcer.Withdraw(); err != nil {
			log.Warn().Err(err).Msg("failed to withdraw accessory")
		}
	}
	return nil
}
