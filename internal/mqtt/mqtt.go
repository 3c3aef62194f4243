// Package mqtt connects RoomSense to the broker: it decodes inbound
// room_presence scans onto the event bus and writes sensor publications
// (Home Assistant discovery and state) back out.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
	"github.com/HerbHall/roomsense/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// inboundFilter is the broker subscription covering every scanner.
const inboundFilter = "room_presence/#"

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

var (
	scansReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_mqtt_scans_received_total",
		Help: "Inbound room_presence messages decoded into scans.",
	})
	scansRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsense_mqtt_scans_rejected_total",
		Help: "Inbound messages dropped before reaching the bus.",
	}, []string{"reason"})
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_mqtt_reconnects_total",
		Help: "Broker reconnect attempts.",
	})
	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomsense_mqtt_publish_failures_total",
		Help: "Outbound publishes that timed out or errored.",
	})
)

func init() {
	prometheus.MustRegister(scansReceived, scansRejected, reconnects, publishFailures)
}

// scanPayload is the JSON body scanners publish under room_presence/<uuid>.
type scanPayload struct {
	UUID string   `json:"uuid"`
	Name string   `json:"name"`
	RSSI *float64 `json:"rssi"`
	When *float64 `json:"when"` // unix seconds
}

// Module implements the MQTT adapter plugin.
type Module struct {
	logger  *zap.Logger
	bus     plugin.EventBus
	cfg     Config
	limiter *rate.Limiter

	mu        sync.RWMutex
	client    pahomqtt.Client
	wasDown   bool // a disconnect happened since the last connect
	stopCh    chan struct{}
	stopOnce  sync.Once
	reconnect sync.WaitGroup
}

// New creates the mqtt module.
func New() *Module {
	return &Module{stopCh: make(chan struct{})}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Broker adapter for scanner ingest and sensor publication",
		Roles:       []string{"transport"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	def := DefaultConfig()
	if m.cfg.BrokerPort == 0 {
		m.cfg.BrokerPort = def.BrokerPort
	}
	if m.cfg.Timeout <= 0 {
		m.cfg.Timeout = def.Timeout
	}
	if m.cfg.ReconnectBackoff <= 0 {
		m.cfg.ReconnectBackoff = def.ReconnectBackoff
	}
	if m.cfg.RateLimit <= 0 {
		m.cfg.RateLimit = def.RateLimit
	}
	if m.cfg.RateBurst <= 0 {
		m.cfg.RateBurst = def.RateBurst
	}
	if m.cfg.ClientID == "" {
		m.cfg.ClientID = "roomsense-" + uuid.NewString()[:8]
	}
	m.limiter = rate.NewLimiter(rate.Limit(m.cfg.RateLimit), m.cfg.RateBurst)

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("MQTT broker URL not configured; scanner ingest disabled")
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.Int("broker_port", m.cfg.BrokerPort),
		zap.String("client_id", m.cfg.ClientID),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	broker := m.cfg.BrokerURL
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s:%d", broker, m.cfg.BrokerPort)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(m.cfg.Timeout).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	m.mu.Lock()
	m.client = pahomqtt.NewClient(opts)
	m.mu.Unlock()

	// Connect in the background so a down broker never blocks startup.
	m.reconnect.Add(1)
	go m.connectLoop()
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.reconnect.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: TopicPublishRequest, Handler: m.handlePublishRequest},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{Status: "degraded", Message: "no broker configured"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{Status: "degraded", Message: "not connected to MQTT broker"}
	}
	return plugin.HealthStatus{Status: "healthy", Message: "connected to " + m.cfg.BrokerURL}
}

// connectLoop retries the broker connection forever with a fixed backoff.
func (m *Module) connectLoop() {
	defer m.reconnect.Done()
	for {
		m.mu.RLock()
		client := m.client
		m.mu.RUnlock()

		token := client.Connect()
		if token.WaitTimeout(m.cfg.Timeout) && token.Error() == nil {
			return // onConnect takes over
		}
		reconnects.Inc()
		if err := token.Error(); err != nil {
			m.logger.Warn("mqtt connect failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", m.cfg.ReconnectBackoff),
			)
		} else {
			m.logger.Warn("mqtt connect timed out, retrying",
				zap.Duration("backoff", m.cfg.ReconnectBackoff),
			)
		}

		select {
		case <-m.stopCh:
			return
		case <-time.After(m.cfg.ReconnectBackoff):
		}
	}
}

// onConnect re-establishes the inbound subscription on every (re)connect and
// announces the connection on the bus. Downstream subscribers use the
// announcement to re-advertise retained topics.
func (m *Module) onConnect(client pahomqtt.Client) {
	token := client.Subscribe(inboundFilter, m.cfg.QoS, m.handleMessage)
	if !token.WaitTimeout(m.cfg.Timeout) || token.Error() != nil {
		m.logger.Error("mqtt subscribe failed", zap.Error(token.Error()))
	}

	m.mu.Lock()
	reconnected := m.wasDown
	m.wasDown = false
	m.mu.Unlock()

	m.logger.Info("mqtt connected", zap.Bool("reconnected", reconnected))
	m.publishBus(TopicConnected, reconnected)
}

// onConnectionLost announces the outage and starts the backoff loop.
func (m *Module) onConnectionLost(_ pahomqtt.Client, err error) {
	m.mu.Lock()
	m.wasDown = true
	m.mu.Unlock()

	m.logger.Warn("mqtt connection lost", zap.Error(err))
	m.publishBus(TopicDisconnected, nil)

	select {
	case <-m.stopCh:
		return
	default:
	}
	m.reconnect.Add(1)
	go m.connectLoop()
}

// handleMessage decodes one inbound room_presence message into a RawScan.
func (m *Module) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if !m.limiter.Allow() {
		scansRejected.WithLabelValues("rate_limited").Inc()
		return
	}

	rest, ok := strings.CutPrefix(msg.Topic(), "room_presence/")
	if !ok || rest == "" {
		scansRejected.WithLabelValues("bad_topic").Inc()
		return
	}
	scannerUUID := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		scannerUUID = rest[:i]
	}

	var p scanPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		scansRejected.WithLabelValues("bad_payload").Inc()
		m.logger.Warn("undecodable scan payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	key := p.UUID
	if key == "" {
		key = p.Name
	}
	if key == "" {
		scansRejected.WithLabelValues("no_identifier").Inc()
		return
	}

	scan := models.RawScan{
		ScannerUUID: scannerUUID,
		DeviceKey:   models.NormalizeDeviceKey(key),
		RSSI:        -100,
		When:        time.Now(),
	}
	if p.RSSI != nil {
		scan.RSSI = *p.RSSI
	}
	if p.When != nil {
		sec, frac := int64(*p.When), *p.When-float64(int64(*p.When))
		scan.When = time.Unix(sec, int64(frac*float64(time.Second)))
	}

	scansReceived.Inc()
	m.publishBus(TopicScan, scan)
}

// handlePublishRequest forwards a retained/plain payload to the broker.
func (m *Module) handlePublishRequest(_ context.Context, e plugin.Event) {
	req, ok := e.Payload.(PublishRequest)
	if !ok {
		return
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		publishFailures.Inc()
		m.logger.Warn("dropping publish request: not connected",
			zap.String("topic", req.Topic))
		return
	}

	token := client.Publish(req.Topic, m.cfg.QoS, req.Retain, req.Payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		publishFailures.Inc()
		m.logger.Warn("mqtt publish timed out", zap.String("topic", req.Topic))
		return
	}
	if err := token.Error(); err != nil {
		publishFailures.Inc()
		m.logger.Warn("mqtt publish failed",
			zap.String("topic", req.Topic), zap.Error(err))
	}
}

func (m *Module) publishBus(topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    "mqtt",
		Timestamp: time.Now(),
		Payload:   payload,
	}); err != nil {
		m.logger.Error("failed to publish bus event",
			zap.String("topic", topic), zap.Error(err))
	}
}
