// Package bus publishes lock lifecycle events on NATS.
package bus

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/cordum/stocklock/core/infra/logging"
	"github.com/nats-io/nats.go"
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	ackWait   time.Duration
}

const (
	envUseJetStream    = "NATS_USE_JETSTREAM"
	envJSAckWait       = "NATS_JS_ACK_WAIT"
	envJSMaxAge        = "NATS_JS_MAX_AGE"
	envNATSTLSCA       = "NATS_TLS_CA"
	envNATSTLSCert     = "NATS_TLS_CERT"
	envNATSTLSKey      = "NATS_TLS_KEY"
	envNATSTLSInsecure = "NATS_TLS_INSECURE"

	defaultAckWait = time.Minute
	defaultMaxAge  = 24 * time.Hour

	streamLocks = "STOCKLOCK_LOCKS"

	// SubjectLockPrefix prefixes every lock event subject.
	SubjectLockPrefix = "sys.lock."
	// SubjectLockAll matches every lock event.
	SubjectLockAll = SubjectLockPrefix + ">"

	component = "bus"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("stocklock-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn(component, "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info(component, "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info(component, "connection closed")
		}),
	}
	tlsCfg, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, ackWait: defaultAckWait}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// LockEventSubject returns the subject an event type is published on.
func LockEventSubject(typ locks.EventType) string {
	if typ == "" {
		return ""
	}
	return SubjectLockPrefix + string(typ)
}

func (b *NatsBus) publish(subject, msgID string, payload any) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if b.jsEnabled && isDurableSubject(subject) {
		if msgID != "" {
			_, err = b.js.Publish(subject, data, nats.MsgId(msgID))
		} else {
			_, err = b.js.Publish(subject, data)
		}
		return err
	}
	return b.nc.Publish(subject, data)
}

// PublishLockEvent implements locks.EventSink. Failures are logged and
// dropped so lock operations never wait on the bus.
func (b *NatsBus) PublishLockEvent(evt locks.Event) {
	if err := b.publish(LockEventSubject(evt.Type), eventMsgID(evt), evt); err != nil {
		logging.Warn(component, "lock event publish failed", "type", evt.Type, "key", evt.Key, "error", err)
	}
}

// Subscribe attaches handler to subject. When JetStream is enabled, durable
// subjects are consumed with explicit ack, and a handler error carrying a
// retry delay naks the message.
func (b *NatsBus) Subscribe(subject, queue string, handler func([]byte) error) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if subject == "" {
		return nil, errEmptyTopic
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	if b.jsEnabled && isDurableSubject(subject) {
		cb := func(msg *nats.Msg) {
			if err := handler(msg.Data); err != nil {
				if delay, ok := RetryDelay(err); ok {
					if delay > 0 {
						_ = msg.NakWithDelay(delay)
					} else {
						_ = msg.Nak()
					}
					return
				}
				logging.Error(component, "handler error (ack)", "subject", msg.Subject, "error", err)
			}
			_ = msg.Ack()
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
		}
		if durable := durableName(subject, queue); durable != "" {
			opts = append(opts, nats.Durable(durable))
		}
		if queue == "" {
			return b.js.Subscribe(subject, cb, opts...)
		}
		return b.js.QueueSubscribe(subject, queue, cb, opts...)
	}

	cb := func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			logging.Error(component, "handler error", "subject", msg.Subject, "error", err)
		}
	}
	if queue == "" {
		return b.nc.Subscribe(subject, cb)
	}
	return b.nc.QueueSubscribe(subject, queue, cb)
}

// Redelivers reports whether handler errors from RetryAfter on subject
// lead to a JetStream redelivery.
func (b *NatsBus) Redelivers(subject string) bool {
	return b != nil && b.jsEnabled && isDurableSubject(subject)
}

// Status reports the connection state, e.g. CONNECTED or RECONNECTING.
func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func parseBoolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !parseBoolEnv(envUseJetStream) {
		return
	}
	ackWait := envDuration(envJSAckWait, defaultAckWait)
	maxAge := envDuration(envJSMaxAge, defaultMaxAge)

	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn(component, "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn(component, "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamLocks,
		Subjects:   []string{SubjectLockAll},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		// Stream may already exist; treat that as success.
		if _, infoErr := js.StreamInfo(streamLocks); infoErr != nil {
			logging.Warn(component, "jetstream ensure stream failed", "stream", streamLocks, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	b.ackWait = ackWait
	logging.Info(component, "jetstream enabled", "stream", streamLocks, "ack_wait", ackWait, "max_age", maxAge)
}

func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, SubjectLockPrefix)
}

func durableName(subject, queue string) string {
	name := sanitizeDurable(subject)
	if name == "" {
		return ""
	}
	if q := sanitizeDurable(queue); q != "" {
		return "dur_" + q + "__" + name
	}
	return "dur_" + name
}

func sanitizeDurable(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "STAR")
	s = strings.ReplaceAll(s, ">", "GT")
	return strings.TrimSpace(s)
}

func eventMsgID(evt locks.Event) string {
	if evt.Key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%d", evt.Type, evt.Key, evt.Token, evt.At.UnixNano())
}

func natsTLSConfigFromEnv() (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envNATSTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envNATSTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envNATSTLSKey))
	insecure := parseBoolEnv(envNATSTLSInsecure)
	if caPath == "" && certPath == "" && keyPath == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} // #nosec G402 -- opt-in via env.
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls ca read: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("nats tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("nats tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
