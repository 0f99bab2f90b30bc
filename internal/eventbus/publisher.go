// Package eventbus carries the pipeline's NATS surface: status and
// completion notifications going out, operator approve/reject commands
// coming in.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
)

// Subjects used on the bus.
const (
	SubjectActionStatus    = "actions.status"
	SubjectActionCompleted = "actions.completed"
	SubjectActionApprove   = "actions.approve"
	SubjectActionReject    = "actions.reject"
	SubjectIngestAlert     = "ingest.alert"
)

// ActionStatusEvent is published whenever a record changes status.
type ActionStatusEvent struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"`
	RiskLevel  string `json:"risk_level"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// ActionCompletedEvent is published once a record reaches a terminal status.
type ActionCompletedEvent struct {
	ActionID   string                 `json:"action_id"`
	ActionType string                 `json:"action_type"`
	Status     string                 `json:"status"`
	RetryCount int                    `json:"retry_count"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// IngestAlert is published when a source crosses its failure threshold and
// the ingestor enters cooldown.
type IngestAlert struct {
	Source       string `json:"source"`
	Failures     int    `json:"failures"`
	CooldownSecs int    `json:"cooldown_secs"`
	LastError    string `json:"last_error"`
	Timestamp    int64  `json:"timestamp"`
}

// Publisher publishes pipeline events to NATS.
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	log.Printf("Publisher connected to NATS: %s", natsURL)

	return &Publisher{conn: conn}, nil
}

// PublishActionStatus announces a record's new status.
func (p *Publisher) PublishActionStatus(rec *models.ActionRecord) error {
	event := ActionStatusEvent{
		ActionID:   rec.ID,
		ActionType: rec.ActionType,
		Status:     rec.Status,
		RiskLevel:  rec.RiskLevel,
		Reason:     rec.Reason,
		Error:      rec.Error,
		Timestamp:  time.Now().Unix(),
	}
	if err := p.publish(SubjectActionStatus, event); err != nil {
		return err
	}
	log.Printf("Published action status to event bus: [%s] %s", rec.Status, rec.ID)
	return nil
}

// PublishActionCompleted announces a terminal outcome.
func (p *Publisher) PublishActionCompleted(rec *models.ActionRecord) error {
	event := ActionCompletedEvent{
		ActionID:   rec.ID,
		ActionType: rec.ActionType,
		Status:     rec.Status,
		RetryCount: rec.RetryCount,
		Result:     rec.Result,
		Error:      rec.Error,
		Timestamp:  time.Now().Unix(),
	}
	if err := p.publish(SubjectActionCompleted, event); err != nil {
		return err
	}
	log.Printf("Published completed action: %s -> %s", rec.ID, rec.Status)
	return nil
}

// PublishIngestAlert announces a source entering cooldown.
func (p *Publisher) PublishIngestAlert(alert IngestAlert) error {
	if alert.Timestamp == 0 {
		alert.Timestamp = time.Now().Unix()
	}
	if err := p.publish(SubjectIngestAlert, alert); err != nil {
		return err
	}
	log.Printf("Published ingest alert: source=%s failures=%d", alert.Source, alert.Failures)
	return nil
}

func (p *Publisher) publish(subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		log.Printf("Publisher disconnected from NATS")
	}
}
