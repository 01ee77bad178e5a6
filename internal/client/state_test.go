package client

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestClient(t *testing.T) *RemoteClient {
	t.Helper()
	return NewRemoteClient(7, testDeps(t), time.Unix(1000, 0))
}

func TestHappyTraceEndsActiveWithAuthReleased(t *testing.T) {
	c := newTestClient(t)
	auth := NewAuthData("alice", []byte("$2a$10$fakefakefakefakefakefake"))

	trace := []struct {
		ev   StateEvent
		want State
	}{
		{EventHello, StateHelloSent},
		{EventAuthAccept, StateAwaitingInit2},
		{EventGotInit2, StateInitDone},
		{EventSetDefinitionsSent, StateDefinitionsSent},
		{EventSetClientReady, StateActive},
	}

	for i, step := range trace {
		if step.ev == EventAuthAccept {
			// Verifier installed during the hello exchange.
			c.SetAuth(auth)
		}
		if err := c.NotifyEvent(step.ev); err != nil {
			t.Fatalf("step %d (%s): %v", i, step.ev, err)
		}
		if c.State() != step.want {
			t.Fatalf("step %d (%s): state = %s, want %s", i, step.ev, c.State(), step.want)
		}
	}

	if !auth.Released() {
		t.Error("auth data not released after AuthAccept")
	}
	if c.Auth() != nil {
		t.Error("client still holds auth data in Active")
	}
}

func TestInvalidTransitionLeavesStateAndAuth(t *testing.T) {
	c := newTestClient(t)
	if err := c.NotifyEvent(EventHello); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthData("bob", []byte("x"))
	c.SetAuth(auth)

	err := c.NotifyEvent(EventSetClientReady)
	if err == nil {
		t.Fatal("expected error for HelloSent + SetClientReady")
	}
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if invalid.State != StateHelloSent || invalid.Event != EventSetClientReady {
		t.Errorf("error pair = (%s, %s), want (HelloSent, SetClientReady)",
			invalid.State, invalid.Event)
	}
	if c.State() != StateHelloSent {
		t.Errorf("state changed to %s on rejected event", c.State())
	}
	if auth.Released() {
		t.Error("auth data released on rejected event")
	}
}

func TestTerminalStatesAbsorbEvents(t *testing.T) {
	for _, terminal := range []StateEvent{EventSetDenied, EventDisconnect} {
		c := newTestClient(t)
		if err := c.NotifyEvent(terminal); err != nil {
			t.Fatal(err)
		}
		before := c.State()
		if !before.Terminal() {
			t.Fatalf("state %s after %s is not terminal", before, terminal)
		}
		for ev := EventHello; ev <= EventDisconnect; ev++ {
			if err := c.NotifyEvent(ev); err != nil {
				t.Errorf("%s absorbed %s with error: %v", before, ev, err)
			}
			if c.State() != before {
				t.Errorf("%s left terminal state via %s", before, ev)
			}
		}
	}
}

func TestDisconnectFromHelloSentReleasesAuth(t *testing.T) {
	c := newTestClient(t)
	if err := c.NotifyEvent(EventHello); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthData("carol", []byte("x"))
	c.SetAuth(auth)

	if err := c.NotifyEvent(EventDisconnect); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateDisconnecting {
		t.Fatalf("state = %s, want Disconnecting", c.State())
	}
	if !auth.Released() {
		t.Error("auth data not released on disconnect from HelloSent")
	}
}

func TestSudoRoundTrip(t *testing.T) {
	c := newTestClient(t)
	for _, ev := range []StateEvent{
		EventHello, EventAuthAccept, EventGotInit2,
		EventSetDefinitionsSent, EventSetClientReady,
	} {
		if err := c.NotifyEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	sudo := NewAuthData("alice", []byte("x"))
	c.SetAuth(sudo)
	if err := c.NotifyEvent(EventSudoSuccess); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateSudoMode {
		t.Fatalf("state = %s, want SudoMode", c.State())
	}
	if !sudo.Released() {
		t.Error("sudo verifier not released on entering SudoMode")
	}

	if err := c.NotifyEvent(EventSudoLeave); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateActive {
		t.Fatalf("state = %s, want Active", c.State())
	}
}

func TestLegacyInitSkipsHello(t *testing.T) {
	c := newTestClient(t)
	if err := c.NotifyEvent(EventInitLegacy); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateAwaitingInit2 {
		t.Fatalf("state = %s, want AwaitingInit2", c.State())
	}
}

func TestAuthVerify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthData("dave", hash)
	if !a.Verify("hunter2") {
		t.Error("correct password rejected")
	}
	if a.Verify("hunter3") {
		t.Error("wrong password accepted")
	}
	a.Release()
	if a.Verify("hunter2") {
		t.Error("released verifier still accepts")
	}
	a.Release() // second release is a NOP
	if !a.Released() {
		t.Error("Released() false after Release")
	}
}
