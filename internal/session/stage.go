// Package session drives one booking attempt through its stages. It knows
// nothing about browsers: each stage is delegated to a Driver, human input
// is routed through the checkpoint coordinator and every transition is
// published to the event sink.
package session

import (
	"errors"
	"time"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
)

type Stage string

const (
	StageIdle              Stage = "idle"
	StageLoggingIn         Stage = "logging_in"
	StageSearchingTrains   Stage = "searching_trains"
	StageSelectingBerth    Stage = "selecting_berth"
	StageFillingPassengers Stage = "filling_passengers"
	StageAwaitingCaptcha   Stage = "awaiting_captcha"
	StageAwaitingOTP       Stage = "awaiting_otp"
	StageAwaitingPayment   Stage = "awaiting_payment"
	StageConfirming        Stage = "confirming"
)

// Pipeline is the fixed stage order of every attempt.
var Pipeline = []Stage{
	StageLoggingIn,
	StageSearchingTrains,
	StageSelectingBerth,
	StageFillingPassengers,
	StageAwaitingCaptcha,
	StageAwaitingOTP,
	StageAwaitingPayment,
	StageConfirming,
}

// Checkpoint reports the human checkpoint a stage waits on, if any.
func (s Stage) Checkpoint() (checkpoint.Kind, bool) {
	switch s {
	case StageAwaitingCaptcha:
		return checkpoint.KindCaptcha, true
	case StageAwaitingOTP:
		return checkpoint.KindOTP, true
	case StageAwaitingPayment:
		return checkpoint.KindPayment, true
	}
	return "", false
}

func (s Stage) label() string {
	switch s {
	case StageLoggingIn:
		return "Logging in"
	case StageSearchingTrains:
		return "Searching trains"
	case StageSelectingBerth:
		return "Selecting train and class"
	case StageFillingPassengers:
		return "Filling passenger details"
	case StageAwaitingCaptcha:
		return "Captcha"
	case StageAwaitingOTP:
		return "OTP"
	case StageAwaitingPayment:
		return "Payment"
	case StageConfirming:
		return "Confirming booking"
	}
	return string(s)
}

type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseScheduled     Phase = "scheduled"
	PhaseRunning       Phase = "running"
	PhaseAwaitingHuman Phase = "awaiting_human"
	PhaseRetrying      Phase = "retrying"
	PhaseSucceeded     Phase = "succeeded"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

// Reason is the stable code for why an attempt ended.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonCheckpointTimeout Reason = "checkpoint_timeout"
	ReasonWindowExpired     Reason = "window_expired"
	ReasonRetriesExhausted  Reason = "retries_exhausted"
	ReasonNonRetryable      Reason = "non_retryable"
	ReasonCancelled         Reason = "cancelled"
)

var ErrCancelled = errors.New("attempt cancelled")

// State is a snapshot of an attempt.
type State struct {
	AttemptID      string         `json:"attempt_id"`
	Phase          Phase          `json:"phase"`
	Stage          Stage          `json:"stage"`
	Summary        string         `json:"summary,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	LastTransition time.Time      `json:"last_transition"`
	FinishedAt     time.Time      `json:"finished_at,omitzero"`
	Retries        map[string]int `json:"retries,omitempty"`
	Reason         Reason         `json:"reason,omitempty"`
	Message        string         `json:"message,omitempty"`
	PNR            string         `json:"pnr,omitempty"`
	Err            error          `json:"-"`
	Error          string         `json:"error,omitempty"`
}

// Terminal reports whether the attempt is over.
func (s State) Terminal() bool { return s.Phase.Terminal() }

// WaitingForInput reports whether an operator answer is outstanding.
func (s State) WaitingForInput() bool { return s.Phase == PhaseAwaitingHuman }
