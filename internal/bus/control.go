package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/alerting"
	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/monitor"
)

// Control actions
const (
	ActionReload = "reload"
	ActionSOS    = "sos"
	ActionCancel = "cancel"
	ActionStatus = "status"
)

// Error codes reported in ControlResponse.Code
const (
	CodeInvalidPIN      = "invalid_pin"
	CodeNotCountingDown = "not_counting_down"
	CodeNotRunning      = "not_running"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

// Controller is the part of the monitoring service reachable remotely
type Controller interface {
	ReloadRules(ctx context.Context) error
	TriggerSOS(ctx context.Context) (bool, error)
	Cancel(ctx context.Context, pin string) error
	Status() model.EngineStatus
}

// ControlRequest is sent on the control subject
type ControlRequest struct {
	Action string `json:"action"`
	PIN    string `json:"pin,omitempty"`
}

// ControlResponse answers a ControlRequest
type ControlResponse struct {
	OK        bool                `json:"ok"`
	Code      string              `json:"code,omitempty"`
	Error     string              `json:"error,omitempty"`
	Triggered *bool               `json:"triggered,omitempty"`
	Status    *model.EngineStatus `json:"status,omitempty"`
}

// ControlServer answers control requests for one protected user
type ControlServer struct {
	nc      *nats.Conn
	userID  string
	ctrl    Controller
	logger  *zap.Logger
	timeout time.Duration

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewControlServer creates a control server for ctrl
func NewControlServer(nc *nats.Conn, userID string, ctrl Controller, logger *zap.Logger) (*ControlServer, error) {
	if ctrl == nil {
		return nil, ErrMissingController
	}
	return &ControlServer{
		nc:      nc,
		userID:  userID,
		ctrl:    ctrl,
		logger:  logger.Named("control"),
		timeout: 5 * time.Second,
	}, nil
}

// Start starts answering requests
func (s *ControlServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}

	sub, err := s.nc.Subscribe(ControlSubject(s.userID), s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control subject: %w", err)
	}
	s.sub = sub

	s.logger.Info("Control server started", zap.String("subject", ControlSubject(s.userID)))
	return nil
}

// Stop stops answering requests
func (s *ControlServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.Warn("Failed to unsubscribe control subject", zap.Error(err))
	}
	s.sub = nil
}

func (s *ControlServer) handle(msg *nats.Msg) {
	var req ControlRequest
	resp := ControlResponse{}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.Code = CodeBadRequest
		resp.Error = err.Error()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		resp = s.Dispatch(ctx, req)
		cancel()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal control response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("Failed to respond to control request",
			zap.String("action", req.Action),
			zap.Error(err))
	}
}

// Dispatch executes req against the controller
func (s *ControlServer) Dispatch(ctx context.Context, req ControlRequest) ControlResponse {
	var err error
	resp := ControlResponse{}

	switch req.Action {
	case ActionReload:
		err = s.ctrl.ReloadRules(ctx)
	case ActionSOS:
		var triggered bool
		triggered, err = s.ctrl.TriggerSOS(ctx)
		resp.Triggered = &triggered
	case ActionCancel:
		err = s.ctrl.Cancel(ctx, req.PIN)
	case ActionStatus:
		st := s.ctrl.Status()
		resp.Status = &st
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	if err != nil {
		resp.Code = errorCode(err)
		resp.Error = err.Error()
		s.logger.Info("Control request rejected",
			zap.String("action", req.Action),
			zap.String("code", resp.Code))
		return resp
	}

	resp.OK = true
	s.logger.Debug("Control request handled", zap.String("action", req.Action))
	return resp
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, alerting.ErrInvalidPIN):
		return CodeInvalidPIN
	case errors.Is(err, alerting.ErrNotCountingDown):
		return CodeNotCountingDown
	case errors.Is(err, monitor.ErrNotRunning):
		return CodeNotRunning
	case errors.Is(err, ErrUnknownAction):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// SendControl sends req to the engine of userID and waits for the answer
func SendControl(ctx context.Context, nc *nats.Conn, userID string, req ControlRequest) (*ControlResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control request: %w", err)
	}

	msg, err := nc.RequestWithContext(ctx, ControlSubject(userID), data)
	if err != nil {
		return nil, fmt.Errorf("failed to send control request: %w", err)
	}

	var resp ControlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal control response: %w", err)
	}
	return &resp, nil
}
