package errors

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrNotConnected       = errors.New("session is not connected")
	ErrQueueExhausted     = errors.New("operation exceeded its retry ceiling")
	ErrInvalidOperation   = errors.New("invalid operation")
)

// Kind classifies a failure so the orchestrator can decide between aborting a pass,
// continuing with the next folder, or retrying later.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindAuth           Kind = "auth"
	KindNetwork        Kind = "network"
	KindProtocol       Kind = "protocol"
	KindStorage        Kind = "storage"
	KindQueueExhausted Kind = "queue_exhausted"
)

type SyncError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func newSyncError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *SyncError
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &SyncError{Kind: kind, Op: op, Err: err}
}

func Auth(op string, err error) error {
	return newSyncError(KindAuth, op, err)
}

func Network(op string, err error) error {
	return newSyncError(KindNetwork, op, err)
}

func Protocol(op string, err error) error {
	return newSyncError(KindProtocol, op, err)
}

func Storage(op string, err error) error {
	return newSyncError(KindStorage, op, err)
}

func QueueExhausted(op string, err error) error {
	if err == nil {
		err = ErrQueueExhausted
	}
	return newSyncError(KindQueueExhausted, op, err)
}

// KindOf returns the kind of the first SyncError in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindUnknown
}

func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsRetryable reports whether the caller may retry with backoff. Auth failures need a
// fresh secret first and protocol failures are fatal for the attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindStorage:
		return true
	case KindUnknown:
		return IsConnectionError(err)
	default:
		return false
	}
}

var connectionErrorPatterns = []string{
	"connection closed",
	"connection reset",
	"connection refused",
	"connection lost",
	"broken pipe",
	"i/o timeout",
	"use of closed network connection",
	"network is unreachable",
	"no such host",
	"unexpected eof",
	"eof",
	"* bye",
}

// IsConnectionError reports whether err means the transport is gone.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if IsNetwork(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionTimeout) || errors.Is(err, ErrNotConnected) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connectionErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var authErrorPatterns = []string{
	"authentication failed",
	"authenticationfailed",
	"login failed",
	"invalid credentials",
	"bad username or password",
	"[auth]",
}

// IsAuthFailure matches server replies that reject credentials.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range authErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// PartialSuccess describes a batch in which some items failed.
type PartialSuccess struct {
	SuccessCount int
	ErrorCount   int
	Errors       []error
}

func (p *PartialSuccess) Add(err error) {
	if err == nil {
		p.SuccessCount++
		return
	}
	p.ErrorCount++
	p.Errors = append(p.Errors, err)
}

func (p *PartialSuccess) Failed() bool {
	return p.ErrorCount > 0
}

func (p *PartialSuccess) Error() string {
	msgs := make([]string, 0, len(p.Errors))
	for _, err := range p.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d succeeded, %d failed: %s", p.SuccessCount, p.ErrorCount, strings.Join(msgs, "; "))
}

// Err returns nil when nothing failed so callers can use it as a plain error.
func (p *PartialSuccess) Err() error {
	if !p.Failed() {
		return nil
	}
	return p
}
