// Package refine runs bounded producer/reviewer loops.
//
// Each round calls the producer once to update a draft and then the reviewer
// once to judge it. The loop stops as soon as the reviewer escalates or the
// round cap is reached, whichever comes first.
package refine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/querysynth/pkg/metrics"
)

const DefaultMaxRounds = 3

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Verdict is the reviewer's judgement of one round.
type Verdict struct {
	Escalate bool
	Status   Status
	Message  string
}

func Accept(message string) Verdict {
	return Verdict{Escalate: true, Status: StatusSuccess, Message: message}
}

func Reject(message string) Verdict {
	return Verdict{Status: StatusError, Message: message}
}

type Producer[S any] func(ctx context.Context, round int, state S) (S, error)

type Reviewer[S any] func(ctx context.Context, round int, state S) Verdict

type Loop[S any] struct {
	Name      string
	Logger    *slog.Logger
	MaxRounds int
	Producer  Producer[S]
	Reviewer  Reviewer[S]
}

// Outcome is either terminated (the reviewer escalated) or exhausted (the
// round cap was reached). Both carry the last state and verdict.
type Outcome[S any] struct {
	State      S
	Verdict    Verdict
	Rounds     int
	Terminated bool
}

func (o Outcome[S]) Exhausted() bool {
	return !o.Terminated
}

func (l *Loop[S]) validate() error {
	if l.Producer == nil {
		return fmt.Errorf("producer is required")
	}
	if l.Reviewer == nil {
		return fmt.Errorf("reviewer is required")
	}
	if l.MaxRounds <= 0 {
		l.MaxRounds = DefaultMaxRounds
	}
	if l.Name == "" {
		l.Name = "loop"
	}
	return nil
}

// Run drives the loop from the initial state.
//
// A producer error closes its round with an error verdict and the reviewer is
// not consulted for that round, since there is no new draft to review. The
// round still counts toward the cap.
func Run[S any](ctx context.Context, l Loop[S], initial S) (Outcome[S], error) {
	if err := l.validate(); err != nil {
		return Outcome[S]{}, err
	}

	out := Outcome[S]{State: initial}
	for round := 1; round <= l.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			out.Verdict = Reject(fmt.Sprintf("cancelled: %v", err))
			return out, nil
		}
		out.Rounds = round

		next, err := l.Producer(ctx, round, out.State)
		if err != nil {
			out.Verdict = Reject(err.Error())
			l.logRound(round, out.Verdict)
			continue
		}
		out.State = next

		out.Verdict = l.Reviewer(ctx, round, out.State)
		l.logRound(round, out.Verdict)
		if out.Verdict.Escalate {
			out.Terminated = true
			metrics.LoopOutcomesTotal.WithLabelValues(l.Name, "terminated").Inc()
			return out, nil
		}
	}

	metrics.LoopOutcomesTotal.WithLabelValues(l.Name, "exhausted").Inc()
	if l.Logger != nil {
		l.Logger.Info("refine: round cap reached", "loop", l.Name, "rounds", out.Rounds, "message", out.Verdict.Message)
	}
	return out, nil
}

func (l *Loop[S]) logRound(round int, v Verdict) {
	metrics.LoopRoundsTotal.WithLabelValues(l.Name, string(v.Status)).Inc()
	if l.Logger == nil {
		return
	}
	l.Logger.Debug("refine: round reviewed",
		"loop", l.Name,
		"round", round,
		"status", v.Status,
		"escalate", v.Escalate,
		"message", v.Message)
}
