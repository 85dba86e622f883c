// internal/fdm/session.go
package fdm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fdm-service/internal/transport"
)

// DefaultRetryDelay is how long a hash-and-sign waits before re-sending
// after the control module stayed silent.
const DefaultRetryDelay = 5 * time.Second

// SequenceSource hands out the persisted 2-digit sequence number. The
// read-modify-write must be atomic: two sessions sharing one counter may
// never see the same value.
type SequenceSource interface {
	NextSequence(ctx context.Context) (int, error)
}

// SessionConfig tunes the session's retry behavior.
type SessionConfig struct {
	// RetryDelay between hash-and-sign attempts when the module does
	// not answer. Zero means DefaultRetryDelay.
	RetryDelay time.Duration

	// OnUnreachable is invoked once, on the first silent attempt of a
	// hash-and-sign, so the operator sees a single "could not connect"
	// notice while the session keeps retrying quietly.
	OnUnreachable func(attempt int)
}

// Session drives the request lifecycle against one control module:
// sequence bookkeeping, dispatch, response classification, and the
// unbounded hash-and-sign retry loop. Exactly one request is in flight
// at a time.
type Session struct {
	link       transport.Exchanger
	sequences  SequenceSource
	logger     *zap.Logger
	retryDelay time.Duration
	notify     func(attempt int)

	mutex sync.Mutex
}

// NewSession creates a protocol session over an exchanger.
func NewSession(link transport.Exchanger, sequences SequenceSource, cfg SessionConfig, logger *zap.Logger) *Session {
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = DefaultRetryDelay
	}
	return &Session{
		link:       link,
		sequences:  sequences,
		logger:     logger.With(zap.String("component", "fdm_session")),
		retryDelay: delay,
		notify:     cfg.OnUnreachable,
	}
}

// Identify probes the control module. Non-critical device conditions (no
// card, blocked card, full memory, corrupt clock, incompatible card) do
// not fail the probe; they come back as a successful outcome the caller
// can report. A silent module fails with ErrNoConnection.
func (s *Session) Identify(ctx context.Context) (*IdentificationResponse, Outcome, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seq, err := s.sequences.NextSequence(ctx)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	packet, err := BuildIdentificationRequest(seq, 0)
	if err != nil {
		return nil, Outcome{}, err
	}

	raw, err := s.exchange(ctx, packet, IdentificationResponseLength)
	if err != nil {
		if errors.Is(err, transport.ErrNoResponse) {
			return nil, Outcome{}, ErrNoConnection
		}
		return nil, Outcome{}, err
	}

	resp, err := ParseIdentificationResponse(raw)
	if err != nil {
		return nil, Outcome{}, err
	}
	if err := s.correlate(resp.ResponseHeader, RequestIdentification, seq); err != nil {
		return nil, Outcome{}, err
	}

	outcome := Classify(resp.Error1, resp.Error2, true)
	s.logOutcome("identification", resp.ResponseHeader, outcome)
	if !outcome.Success {
		return resp, outcome, s.protocolError(resp.ResponseHeader, outcome)
	}
	return resp, outcome, nil
}

// VerifyPin sends the operator's PIN to the signing card. The outcome is
// always surfaced, accepted or not: by protocol convention the card
// reports PIN acceptance through the error channel (error1=0, error2=1).
func (s *Session) VerifyPin(ctx context.Context, pin string) (*PinResponse, Outcome, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seq, err := s.sequences.NextSequence(ctx)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	packet, err := BuildPinRequest(seq, 0, pin)
	if err != nil {
		return nil, Outcome{}, err
	}

	raw, err := s.exchange(ctx, packet, PinResponseLength)
	if err != nil {
		if errors.Is(err, transport.ErrNoResponse) {
			return nil, Outcome{}, ErrNoConnection
		}
		return nil, Outcome{}, err
	}

	resp, err := ParsePinResponse(raw)
	if err != nil {
		return nil, Outcome{}, err
	}
	if err := s.correlate(resp.ResponseHeader, RequestPinVerification, seq); err != nil {
		return nil, Outcome{}, err
	}

	outcome := Classify(resp.Error1, resp.Error2, false)
	s.logOutcome("pin_verification", resp.ResponseHeader, outcome)
	if !outcome.Success {
		return resp, outcome, s.protocolError(resp.ResponseHeader, outcome)
	}
	return resp, outcome, nil
}

// HashAndSign submits a receipt for signing. A silent control module is
// retried after a fixed delay, without bound: every sale must eventually
// be signed, so giving up is not an option here and cancellation goes
// through ctx. Each attempt is a fresh request with its own sequence
// number and an incremented retry counter; a reply that does not
// correlate with the attempt just sent is discarded and retried too.
func (s *Session) HashAndSign(ctx context.Context, req *SignRequest) (*HashAndSignResponse, Outcome, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if req.OperatorINSZ == "" {
		return nil, Outcome{}, ErrMissingOperator
	}

	for attempt := 1; ; attempt++ {
		seq, err := s.sequences.NextSequence(ctx)
		if err != nil {
			return nil, Outcome{}, fmt.Errorf("failed to allocate sequence number: %w", err)
		}

		packet, err := BuildHashAndSignRequest(seq, (attempt-1)%10, req)
		if err != nil {
			return nil, Outcome{}, err
		}

		raw, err := s.exchange(ctx, packet, HashAndSignResponseLength)
		if err == nil {
			resp, perr := ParseHashAndSignResponse(raw)
			if perr != nil {
				return nil, Outcome{}, perr
			}

			err = s.correlate(resp.ResponseHeader, RequestHashAndSign, seq)
			if err == nil {
				outcome := Classify(resp.Error1, resp.Error2, false)
				s.logOutcome("hash_and_sign", resp.ResponseHeader, outcome)
				if !outcome.Success {
					return resp, outcome, s.protocolError(resp.ResponseHeader, outcome)
				}
				return resp, outcome, nil
			}
		}

		switch {
		case errors.Is(err, transport.ErrNoResponse):
			if attempt == 1 && s.notify != nil {
				s.notify(attempt)
			}
			s.logger.Warn("Control module unreachable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("retry_delay", s.retryDelay),
			)
		case errors.Is(err, ErrStaleResponse):
			// A late reply to an earlier attempt. Discard it and
			// re-send under a fresh sequence number.
		default:
			return nil, Outcome{}, err
		}

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, Outcome{}, ctx.Err()
		}
	}
}

// correlate checks a parsed reply against the request just sent. The
// exact-length read in the link cannot tell a fresh reply from a stale
// one still buffered on the channel, so the header's identifier and
// sequence number must match the outbound packet.
func (s *Session) correlate(h ResponseHeader, identifier string, sequence int) error {
	if h.Identifier == identifier && h.SequenceNumber == sequence {
		return nil
	}
	s.logger.Warn("Discarding uncorrelated response",
		zap.String("want_identifier", identifier),
		zap.Int("want_sequence", sequence),
		zap.String("got_identifier", h.Identifier),
		zap.Int("got_sequence", h.SequenceNumber),
	)
	return ErrStaleResponse
}

// exchange sends one packet and returns the raw response text.
func (s *Session) exchange(ctx context.Context, packet *Packet, responseLength int) (string, error) {
	return s.link.Exchange(ctx, transport.Request{
		Payload:        packet.Serialize(),
		ResponseLength: responseLength,
	})
}

func (s *Session) protocolError(h ResponseHeader, outcome Outcome) error {
	return &ProtocolError{
		Kind:             outcome.ErrorKind,
		Error1:           h.Error1,
		Error2:           h.Error2,
		RequiresPinEntry: outcome.RequiresPinEntry,
	}
}

func (s *Session) logOutcome(operation string, h ResponseHeader, outcome Outcome) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Int("sequence", h.SequenceNumber),
		zap.Int("error1", h.Error1),
		zap.Int("error2", h.Error2),
		zap.String("production_number", h.ProductionNumber),
	}
	switch {
	case !outcome.Success:
		s.logger.Error("Control module rejected request",
			append(fields, zap.String("error_kind", string(outcome.ErrorKind)))...)
	case outcome.Warning != WarningKindNone:
		s.logger.Warn("Control module warning",
			append(fields, zap.String("warning", string(outcome.Warning)))...)
	default:
		s.logger.Debug("Request accepted", fields...)
	}
}
