package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ventoline/smartac-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultSubscribeTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	defaultPingTimeout       = 10 * time.Second
)

// buildClientOptions constructs paho client options from configuration.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetPingTimeout(defaultPingTimeout)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	return opts
}

// configureLWT sets the Last Will and Testament on the controller status
// topic. The broker publishes it on ungraceful disconnect so consumers
// can tell a crashed controller from a stopped one.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	payload, _ := json.Marshal(statusPayload{
		Status:   "offline",
		ClientID: clientID,
		Reason:   "connection_lost",
	})
	opts.SetBinaryWill(topics.ControllerStatus(), payload, 1, true)
}

// statusPayload is published on the controller status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// buildOnlinePayload builds the retained online announcement.
func buildOnlinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:    "online",
		ClientID:  clientID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// buildOfflinePayload builds the graceful shutdown announcement.
func buildOfflinePayload(clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{
		Status:    "offline",
		ClientID:  clientID,
		Reason:    "shutdown",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
