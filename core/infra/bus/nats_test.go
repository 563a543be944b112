package bus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/nats-io/nats.go"
)

func TestLockEventSubject(t *testing.T) {
	if LockEventSubject("") != "" {
		t.Fatalf("expected empty subject")
	}
	if got := LockEventSubject(locks.EventAcquired); got != "sys.lock.acquired" {
		t.Fatalf("unexpected subject %s", got)
	}
	if got := LockEventSubject(locks.EventReleaseMissed); got != "sys.lock.release_missed" {
		t.Fatalf("unexpected subject %s", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv(envUseJetStream, "")
	if parseBoolEnv(envUseJetStream) {
		t.Fatalf("expected jetstream disabled by default")
	}
	for _, val := range []string{"1", "true", "yes", "y", "on", " TRUE "} {
		t.Setenv(envUseJetStream, val)
		if !parseBoolEnv(envUseJetStream) {
			t.Fatalf("expected jetstream enabled for %q", val)
		}
	}
	t.Setenv(envUseJetStream, "no")
	if parseBoolEnv(envUseJetStream) {
		t.Fatalf("expected jetstream disabled for no")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv(envJSAckWait, "")
	if envDuration(envJSAckWait, time.Second) != time.Second {
		t.Fatalf("expected default")
	}
	t.Setenv(envJSAckWait, "30s")
	if envDuration(envJSAckWait, time.Second) != 30*time.Second {
		t.Fatalf("expected override")
	}
	t.Setenv(envJSAckWait, "-1s")
	if envDuration(envJSAckWait, time.Second) != time.Second {
		t.Fatalf("expected default for negative duration")
	}
}

func TestIsDurableSubject(t *testing.T) {
	cases := map[string]bool{
		"sys.lock.acquired": true,
		SubjectLockAll:      true,
		"sys.heartbeat":     false,
		"stock.1":           false,
	}
	for subject, expect := range cases {
		if got := isDurableSubject(subject); got != expect {
			t.Fatalf("subject %s expected durable=%v got=%v", subject, expect, got)
		}
	}
}

func TestDurableName(t *testing.T) {
	if durableName("", "") != "" {
		t.Fatalf("expected empty durable name")
	}
	if got := durableName(SubjectLockAll, ""); got != "dur_sys_lock_GT" {
		t.Fatalf("unexpected durable name: %s", got)
	}
	if got := durableName("sys.lock.*", "watchers"); got != "dur_watchers__sys_lock_STAR" {
		t.Fatalf("unexpected durable name with queue: %s", got)
	}
}

func TestEventMsgID(t *testing.T) {
	at := time.Unix(0, 42)
	got := eventMsgID(locks.Event{Type: locks.EventAcquired, Key: "lock:stock:1", Token: "t1", At: at})
	if got != "acquired:lock:stock:1:t1:42" {
		t.Fatalf("unexpected msg id %s", got)
	}
	if eventMsgID(locks.Event{Type: locks.EventAcquired}) != "" {
		t.Fatalf("expected empty msg id without key")
	}
}

func TestNatsBusPublishErrors(t *testing.T) {
	var nilBus *NatsBus
	if err := nilBus.publish("sys.lock.acquired", "", map[string]string{}); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	bus := &NatsBus{nc: &nats.Conn{}}
	if err := bus.publish("", "", map[string]string{}); !errors.Is(err, errEmptyTopic) {
		t.Fatalf("expected empty topic error, got %v", err)
	}
	if err := bus.publish("sys.lock.acquired", "", make(chan int)); err == nil || !strings.Contains(err.Error(), "encode") {
		t.Fatalf("expected encode error, got %v", err)
	}
	// must not panic
	nilBus.PublishLockEvent(locks.Event{Type: locks.EventAcquired, Key: "k"})
}

func TestNatsBusSubscribeErrors(t *testing.T) {
	var nilBus *NatsBus
	if _, err := nilBus.Subscribe(SubjectLockAll, "", func([]byte) error { return nil }); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	bus := &NatsBus{nc: &nats.Conn{}}
	if _, err := bus.Subscribe("", "", func([]byte) error { return nil }); !errors.Is(err, errEmptyTopic) {
		t.Fatalf("expected empty topic error, got %v", err)
	}
	if _, err := bus.Subscribe(SubjectLockAll, "", nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestNatsBusStatusDefaults(t *testing.T) {
	var nilBus *NatsBus
	if nilBus.Redelivers(SubjectLockAll) {
		t.Fatalf("nil bus never redelivers")
	}
	if status := nilBus.Status(); status != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN status, got %s", status)
	}
	nilBus.Close()
}

func TestRedeliversRequiresJetStreamAndLockSubject(t *testing.T) {
	plain := &NatsBus{nc: &nats.Conn{}}
	if plain.Redelivers(SubjectLockAll) {
		t.Fatalf("core nats subscriptions are not redelivered")
	}
	js := &NatsBus{nc: &nats.Conn{}, jsEnabled: true}
	if !js.Redelivers(LockEventSubject(locks.EventAcquired)) {
		t.Fatalf("expected redelivery on lock subjects with jetstream")
	}
	if js.Redelivers("other.subject") {
		t.Fatalf("expected no redelivery outside the lock stream")
	}
}

func TestNewNatsBusUnreachable(t *testing.T) {
	if _, err := NewNatsBus("nats://127.0.0.1:1"); err == nil {
		t.Fatalf("expected connect error")
	}
}
