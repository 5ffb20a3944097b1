// Package stdio serves the compliance API as newline-delimited JSON-RPC 2.0
// over a reader/writer pair, typically stdin and stdout.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/evaguard/evaguard/internal/domain/compliance"
	"github.com/evaguard/evaguard/internal/domain/evidence"
	"github.com/evaguard/evaguard/internal/service"
	"github.com/evaguard/evaguard/pkg/rpc"
)

// DefaultMaxMessageBytes bounds a single input line.
const DefaultMaxMessageBytes = 1 << 20

// Server dispatches JSON-RPC requests to the compliance service.
type Server struct {
	svc      *service.ComplianceService
	logger   *slog.Logger
	maxBytes int

	// writeMu serializes response lines.
	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxMessageBytes caps the size of one request line.
func WithMaxMessageBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewServer creates a stdio server.
func NewServer(svc *service.ComplianceService, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		logger:   slog.Default(),
		maxBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads one JSON-RPC message per line from r and writes responses to w.
// It returns nil when r reaches EOF or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, min(64*1024, s.maxBytes)), s.maxBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read request: %w", err)
					}
				default:
				}
				return nil
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			if resp := s.handleLine(ctx, line); resp != nil {
				if err := s.write(w, resp); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Server) write(w io.Writer, resp *jsonrpc.Response) error {
	data, err := rpc.EncodeMessage(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// handleLine returns nil for notifications.
func (s *Server) handleLine(ctx context.Context, line []byte) *jsonrpc.Response {
	msg, err := rpc.DecodeMessage(line)
	if err != nil {
		s.logger.Debug("undecodable message", "error", err)
		return rpc.NewErrorResponse(jsonrpc.ID{}, rpc.NewError(rpc.CodeParseError, "Parse error"))
	}

	req, err := rpc.ValidateRequest(msg)
	if err != nil {
		var id jsonrpc.ID
		if r, ok := msg.(*jsonrpc.Request); ok {
			if !r.IsCall() {
				return nil
			}
			id = r.ID
		}
		return rpc.NewErrorResponse(id, toRPCError(err))
	}

	result, err := s.dispatch(ctx, req)
	if !req.IsCall() {
		if err != nil {
			s.logger.Debug("notification failed", "method", req.Method, "error", err)
		}
		return nil
	}
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == rpc.CodeInternalError {
			s.logger.Error("request failed", "method", req.Method, "error", err)
		}
		return rpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := rpc.NewResult(req.ID, result)
	if err != nil {
		s.logger.Error("encode result", "method", req.Method, "error", err)
		return rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeInternalError, "Internal error"))
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch req.Method {
	case rpc.MethodCheck:
		var p rpc.CheckParams
		if err := rpc.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, service.ErrEmptyMessage
		}
		if p.Source == "" {
			p.Source = evidence.SourceStdio
		}
		return s.svc.Check(ctx, service.CheckRequest{
			Message:   p.Message,
			Source:    p.Source,
			RequestID: requestID(req),
		})

	case rpc.MethodRulesList:
		return rulesResult{Rules: s.svc.Rules()}, nil

	case rpc.MethodRulesAdd:
		var p rpc.RuleParams
		if err := rpc.DecodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.Pattern == "" {
			return nil, rpc.NewError(rpc.CodeInvalidParams, "id and pattern are required")
		}
		rule := compliance.NewRule(p.ID, p.Description, p.Pattern, p.Priority)
		if p.Enabled != nil {
			rule.Enabled = *p.Enabled
		}
		if err := s.svc.AddRule(ctx, rule); err != nil {
			return nil, err
		}
		s.logger.Info("rule added", "rule_id", rule.ID, "source", evidence.SourceStdio)
		return rule, nil

	case rpc.MethodRulesEnable, rpc.MethodRulesDisable:
		id, err := ruleID(req)
		if err != nil {
			return nil, err
		}
		if req.Method == rpc.MethodRulesEnable {
			err = s.svc.EnableRule(ctx, id)
		} else {
			err = s.svc.DisableRule(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		rule, _ := s.svc.Rule(id)
		return rule, nil

	case rpc.MethodRulesRemove:
		id, err := ruleID(req)
		if err != nil {
			return nil, err
		}
		if err := s.svc.RemoveRule(ctx, id); err != nil {
			return nil, err
		}
		s.logger.Info("rule removed", "rule_id", id, "source", evidence.SourceStdio)
		return removedResult{Removed: id}, nil
	}
	return nil, rpc.NewError(rpc.CodeMethodNotFound, "Method not found")
}

type rulesResult struct {
	Rules []compliance.Rule `json:"rules"`
}

type removedResult struct {
	Removed string `json:"removed"`
}

func ruleID(req *jsonrpc.Request) (string, error) {
	var p rpc.RuleIDParams
	if err := rpc.DecodeParams(req, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", rpc.NewError(rpc.CodeInvalidParams, "id is required")
	}
	return p.ID, nil
}

// requestID derives a request id from the JSON-RPC id, or generates one
// for notifications.
func requestID(req *jsonrpc.Request) string {
	if req.IsCall() {
		if raw, err := json.Marshal(req.ID.Raw()); err == nil {
			return "stdio-" + strings.Trim(string(raw), `"`)
		}
	}
	return uuid.NewString()
}

// toRPCError maps service and domain errors to JSON-RPC errors.
func toRPCError(err error) *rpc.Error {
	var rpcErr *rpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, service.ErrEmptyMessage):
		return rpc.NewError(rpc.CodeInvalidParams, err.Error())
	case errors.Is(err, compliance.ErrInvalidPattern), errors.Is(err, compliance.ErrDuplicateRule):
		return rpc.NewError(rpc.CodeInvalidParams, err.Error())
	case errors.Is(err, compliance.ErrRuleNotFound):
		return rpc.NewError(rpc.CodeNotFound, err.Error())
	default:
		return rpc.NewError(rpc.CodeInternalError, "Internal error")
	}
}
