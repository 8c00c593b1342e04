package align

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CloudHandler is called when a sensor publishes a new cloud capture.
// rawPayload is the unparsed message body so callers can archive it.
type CloudHandler func(sensorID string, rawPayload []byte, cloud *PointCloud, err error)

// MQTTClient manages the MQTT connection and per-sensor cloud subscriptions.
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	cloudHandler CloudHandler
	isConnected  bool
	mu           sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration.
// If no broker is configured (config and MQTT_BROKER env var both empty),
// MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler CloudHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Sensors) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no sensor configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		cloudHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "cloudalign"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false) // Allow concurrent processing

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to sensor topics...")
	c.setConnected(true)

	for _, sensor := range c.config.Sensors {
		if sensor.Topic == "" {
			continue
		}

		log.Printf("Subscribing to %s for sensor %s", sensor.Topic, sensor.ID)
		token := client.Subscribe(sensor.Topic, 0, c.createCloudHandler(sensor.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", sensor.Topic, token.Error())
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createCloudHandler creates a handler for a specific sensor's cloud topic.
// Payloads are ASCII XYZ records, the same format the file loader accepts.
func (c *MQTTClient) createCloudHandler(sensorID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received cloud for %s (topic: %s, size: %d bytes)",
			sensorID, msg.Topic(), len(payload))

		cloud, err := DecodeCloudPayload(payload)
		if err != nil {
			log.Printf("Error decoding cloud for %s: %v", sensorID, err)
			if c.cloudHandler != nil {
				c.cloudHandler(sensorID, payload, nil, err)
			}
			return
		}

		if c.cloudHandler != nil {
			c.cloudHandler(sensorID, payload, cloud, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetSensorByTopic returns the sensor ID for a given topic.
func (c *MQTTClient) GetSensorByTopic(topic string) (string, bool) {
	for _, sensor := range c.config.Sensors {
		if sensor.Topic == topic {
			return sensor.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler CloudHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		cloudHandler: handler,
	}
}
