package align

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes registered sensor poses to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	poses         map[string]*SensorPose
	mu            sync.RWMutex
}

// NewPublisher creates a new pose publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "cloudalign"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget for pose updates
		retain:        true, // retain latest pose
		poses:         make(map[string]*SensorPose),
	}
}

// PublishPose publishes a single sensor's registered pose to MQTT,
// to both its individual topic and the combined poses topic.
func (p *Publisher) PublishPose(pose SensorPose) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	pose.Timestamp = time.Now().Unix()

	p.mu.Lock()
	p.poses[pose.SensorID] = &pose
	p.mu.Unlock()

	if err := p.publishIndividual(&pose); err != nil {
		log.Printf("Error publishing pose for %s: %v", pose.SensorID, err)
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined poses: %v", err)
		return err
	}

	return nil
}

// publishIndividual publishes a single pose to its individual topic.
func (p *Publisher) publishIndividual(pose *SensorPose) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, pose.SensorID)

	payload, err := json.Marshal(pose)
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published pose for %s: t=(%.0f, %.0f, %.0f) rmse=%.2f",
		pose.SensorID, pose.Transform.T.X, pose.Transform.T.Y, pose.Transform.T.Z, pose.RMSE)
	return nil
}

// publishCombined publishes all sensor poses to the combined topic.
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	poses := make([]*SensorPose, 0, len(p.poses))
	for _, pose := range p.poses {
		poses = append(poses, pose)
	}
	p.mu.RUnlock()

	if len(poses) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/poses", p.publishPrefix)

	message := map[string]interface{}{
		"sensors":   poses,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined poses: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetPose returns the last published pose for a sensor.
func (p *Publisher) GetPose(sensorID string) (*SensorPose, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pose, ok := p.poses[sensorID]
	return pose, ok
}

// GetAllPoses returns a copy of all known sensor poses.
func (p *Publisher) GetAllPoses() map[string]*SensorPose {
	p.mu.RLock()
	defer p.mu.RUnlock()

	poses := make(map[string]*SensorPose, len(p.poses))
	for id, pose := range p.poses {
		poseCopy := *pose
		poses[id] = &poseCopy
	}
	return poses
}

// ClearPose removes a sensor's pose (e.g. when it goes offline).
func (p *Publisher) ClearPose(sensorID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.poses, sensorID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
