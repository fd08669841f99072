package mqtt

// FakeClient records published messages for test assertions.
type FakeClient struct {
	// States contains every on/off value that was published.
	States []bool

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Announced and Withdrawn count discovery publishes and removals.
	Announced int
	Withdrawn int

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	commands chan Command
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{commands: make(chan Command, 16)}
}

// PublishState records the state.
func (f *FakeClient) PublishState(on bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.States = append(f.States, on)
	return nil
}

// LastState returns the most recently published state and whether any was published.
func (f *FakeClient) LastState() (bool, bool) {
	if len(f.States) == 0 {
		return false, false
	}
	return f.States[len(f.States)-1], true
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Announce counts discovery publishes.
func (f *FakeClient) Announce() error {
	f.Announced++
	return nil
}

// Withdraw counts discovery removals.
func (f *FakeClient) Withdraw() error {
	f.Withdrawn++
	return nil
}

// Inject queues a command as if it had arrived from the broker.
func (f *FakeClient) Inject(cmd Command) {
	f.commands <- cmd
}

// Commands delivers injected commands.
func (f *FakeClient) Commands() <-chan Command {
	return f.commands
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakeClient) Reset() {
	f.States = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Announced = 0
	f.Withdrawn = 0
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
