package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pumplink/pumplink-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pumplink-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxAttempts:  3,
		},
	}
}

// =============================================================================
// State Tests (no broker required)
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestIsLost_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsLost() {
		t.Error("IsLost() should be false for uninitialised client")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.HealthCheck(ctx)
	if err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckLost(t *testing.T) {
	client := &Client{}
	client.lost = true

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("HealthCheck() error = %v, want ErrConnectionLost", err)
	}
}

// =============================================================================
// Publish/Subscribe Validation Tests (no broker required)
// =============================================================================

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Publish("test/topic", []byte("test"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	client := &Client{}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("test/topic", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishLost(t *testing.T) {
	client := &Client{}
	client.lost = true

	err := client.Publish("test/topic", []byte("test"), 1, false)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Publish() error = %v, want ErrConnectionLost", err)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestUnsubscribeEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscriptionCount_Empty(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestHasSubscription_NotSubscribed(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.HasSubscription("nonexistent/topic") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker URL, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if opts.ClientID != "pumplink-test" {
		t.Errorf("client ID = %q, want pumplink-test", opts.ClientID)
	}

	// Reconnection must be owned by this package, not paho.
	if opts.AutoReconnect {
		t.Error("AutoReconnect should be disabled")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry should be disabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected TLS config to be set")
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("pumplink-core"), "online", ""},
		{"offline", buildOfflinePayload("pumplink-core"), "offline", "graceful_shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &decoded); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if decoded["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", decoded["status"], tt.wantStatus)
			}
			if decoded["client_id"] != "pumplink-core" {
				t.Errorf("client_id = %q, want pumplink-core", decoded["client_id"])
			}
			if tt.wantReason != "" && decoded["reason"] != tt.wantReason {
				t.Errorf("reason = %q, want %q", decoded["reason"], tt.wantReason)
			}
		})
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "DeviceCommand",
			builder: func() string {
				return Topics{}.DeviceCommand("pump-icu-07")
			},
			expected: "pumplink/command/pump-icu-07",
		},
		{
			name: "DeviceTelemetry",
			builder: func() string {
				return Topics{}.DeviceTelemetry("pump-icu-07", CategoryProgress)
			},
			expected: "pumplink/telemetry/pump-icu-07/progress",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "pumplink/system/status",
		},
		{
			name: "AllTelemetry",
			builder: func() string {
				return Topics{}.AllTelemetry()
			},
			expected: "pumplink/telemetry/+/+",
		},
		{
			name: "AllDeviceTelemetry",
			builder: func() string {
				return Topics{}.AllDeviceTelemetry("pump-icu-07")
			},
			expected: "pumplink/telemetry/pump-icu-07/+",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return Topics{}.AllTopics()
			},
			expected: "pumplink/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestParseTelemetryTopic(t *testing.T) {
	tests := []struct {
		name         string
		topic        string
		wantDeviceID string
		wantCategory string
		wantOk       bool
	}{
		{
			name:         "valid progress topic",
			topic:        "pumplink/telemetry/pump-icu-07/progress",
			wantDeviceID: "pump-icu-07",
			wantCategory: "progress",
			wantOk:       true,
		},
		{
			name:         "valid completion topic",
			topic:        "pumplink/telemetry/a3f2/completion",
			wantDeviceID: "a3f2",
			wantCategory: "completion",
			wantOk:       true,
		},
		{
			name:   "command topic",
			topic:  "pumplink/command/pump-icu-07",
			wantOk: false,
		},
		{
			name:   "wrong prefix",
			topic:  "otherapp/telemetry/pump-icu-07/progress",
			wantOk: false,
		},
		{
			name:   "missing category",
			topic:  "pumplink/telemetry/pump-icu-07",
			wantOk: false,
		},
		{
			name:   "empty device id",
			topic:  "pumplink/telemetry//progress",
			wantOk: false,
		},
		{
			name:   "extra segments",
			topic:  "pumplink/telemetry/pump-icu-07/progress/extra",
			wantOk: false,
		},
		{
			name:   "empty string",
			topic:  "",
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deviceID, category, ok := ParseTelemetryTopic(tt.topic)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if deviceID != tt.wantDeviceID {
				t.Errorf("deviceID = %q, want %q", deviceID, tt.wantDeviceID)
			}
			if category != tt.wantCategory {
				t.Errorf("category = %q, want %q", category, tt.wantCategory)
			}
		})
	}
}

func TestParseTelemetryTopicRoundtrip(t *testing.T) {
	topic := Topics{}.DeviceTelemetry("pump-42", CategoryError)
	deviceID, category, ok := ParseTelemetryTopic(topic)
	if !ok {
		t.Fatalf("ParseTelemetryTopic(%q) not ok", topic)
	}
	if deviceID != "pump-42" || category != CategoryError {
		t.Errorf("got (%q, %q), want (pump-42, error)", deviceID, category)
	}
}

func TestErrorPrefixes(t *testing.T) {
	// All sentinel errors carry the package prefix for log readability.
	sentinels := []error{
		ErrNotConnected,
		ErrConnectionFailed,
		ErrConnectionLost,
		ErrPublishFailed,
		ErrSubscribeFailed,
		ErrUnsubscribeFailed,
		ErrInvalidQoS,
		ErrInvalidTopic,
		ErrTimeout,
	}

	for _, err := range sentinels {
		if !strings.HasPrefix(err.Error(), "mqtt: ") {
			t.Errorf("error %q missing mqtt: prefix", err)
		}
	}
}
