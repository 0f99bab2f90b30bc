package eventbus

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// DecisionRequest is an operator command arriving on actions.approve or
// actions.reject.
type DecisionRequest struct {
	ActionID string `json:"action_id"`
	Operator string `json:"operator,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// DecisionProcessor stages operator decisions onto pending records. The
// approval poller turns staged decisions into transitions on its next pass.
type DecisionProcessor interface {
	ApproveAction(actionID, operator string) error
	RejectAction(actionID, operator, reason string) error
}

// Subscriber listens for operator decisions on NATS.
type Subscriber struct {
	conn       *nats.Conn
	approveSub *nats.Subscription
	rejectSub  *nats.Subscription
	processor  DecisionProcessor
}

func NewSubscriber(natsURL string, processor DecisionProcessor) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Subscriber connected to NATS: %s", natsURL)

	return &Subscriber{conn: conn, processor: processor}, nil
}

func (s *Subscriber) Start() error {
	var err error

	log.Printf("Subscribing to '%s'", SubjectActionApprove)
	s.approveSub, err = s.conn.Subscribe(SubjectActionApprove, func(msg *nats.Msg) {
		s.handleApproveMessage(msg)
	})
	if err != nil {
		return err
	}

	log.Printf("Subscribing to '%s'", SubjectActionReject)
	s.rejectSub, err = s.conn.Subscribe(SubjectActionReject, func(msg *nats.Msg) {
		s.handleRejectMessage(msg)
	})
	if err != nil {
		return err
	}

	return nil
}

func (s *Subscriber) handleApproveMessage(msg *nats.Msg) {
	var request DecisionRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		log.Printf("Failed to unmarshal approval request: %v", err)
		return
	}

	log.Printf("Processing action approval: %s", request.ActionID)

	if err := s.processor.ApproveAction(request.ActionID, request.Operator); err != nil {
		log.Printf("Action approval failed: %v", err)
		return
	}

	log.Printf("Approval staged: %s", request.ActionID)
}

func (s *Subscriber) handleRejectMessage(msg *nats.Msg) {
	var request DecisionRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		log.Printf("Failed to unmarshal rejection request: %v", err)
		return
	}

	log.Printf("Processing action rejection: %s", request.ActionID)

	if err := s.processor.RejectAction(request.ActionID, request.Operator, request.Reason); err != nil {
		log.Printf("Action rejection failed: %v", err)
		return
	}

	log.Printf("Rejection staged: %s", request.ActionID)
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *Subscriber) Close() {
	if s.approveSub != nil {
		s.approveSub.Unsubscribe()
	}
	if s.rejectSub != nil {
		s.rejectSub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
		log.Printf("Subscriber disconnected from NATS")
	}
}
