// Package telemetry is a read-only side channel that mirrors the
// connection state machine's transitions and feedback samples onto an
// MQTT broker and/or a websocket feed, for dashboards that want to
// watch an arm without talking to it. Nothing flows back: publishers
// only ever send.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mxschwarz/robolink/pkg/proto"
)

// Source is the minimal view telemetry needs of a running connection.
// *connection.Connection satisfies it without pkg/connection importing
// this package.
type Source interface {
	ConnectionState() string
	LastFeedback() proto.Feedback
}

// Publisher sends one named event's JSON-encoded payload somewhere.
// *MQTTPublisher and *WebSocketHub both implement it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// StateEvent reports one connection lifecycle transition.
type StateEvent struct {
	Time  time.Time `json:"time"`
	State string    `json:"state"`
}

// FeedbackEvent mirrors one decoded FEEDBACK payload.
type FeedbackEvent struct {
	Time      time.Time `json:"time"`
	NumAxes   uint8     `json:"num_axes"`
	Playing   bool      `json:"playing"`
	Positions []int16   `json:"positions"`
}

// Topics are the fixed publish destinations, mirroring the
// inertial_computer producer's per-signal topic layout.
const (
	TopicState    = "robolink/state"
	TopicFeedback = "robolink/feedback"
)

// Reporter polls a Source on an interval and publishes a StateEvent
// whenever the state changes plus a FeedbackEvent on every poll.
type Reporter struct {
	src        Source
	publishers []Publisher
	lastState  string
}

// NewReporter builds a reporter fanning out to every given publisher.
// A nil or empty publisher list makes Poll a no-op.
func NewReporter(src Source, publishers ...Publisher) *Reporter {
	return &Reporter{src: src, publishers: publishers}
}

// Poll samples src once, publishing a FeedbackEvent unconditionally and
// a StateEvent only when the state differs from the previous poll.
func (r *Reporter) Poll(now time.Time) error {
	state := r.src.ConnectionState()
	if state != r.lastState {
		r.lastState = state
		if err := r.publish(TopicState, StateEvent{Time: now, State: state}); err != nil {
			return fmt.Errorf("telemetry: publish state: %w", err)
		}
	}

	fb := r.src.LastFeedback()
	positions := make([]int16, fb.NumAxes)
	copy(positions, fb.Positions[:fb.NumAxes])
	event := FeedbackEvent{
		Time:      now,
		NumAxes:   fb.NumAxes,
		Playing:   fb.Playing(),
		Positions: positions,
	}
	if err := r.publish(TopicFeedback, event); err != nil {
		return fmt.Errorf("telemetry: publish feedback: %w", err)
	}
	return nil
}

// Run calls Poll on every value from tick until done is closed. Poll
// errors do not stop the loop: each is offered to errs without
// blocking and dropped if no receiver is ready; callers wanting strict
// behaviour should wrap Poll themselves.
func (r *Reporter) Run(tick <-chan time.Time, done <-chan struct{}, errs chan<- error) {
	for {
		select {
		case <-done:
			return
		case now := <-tick:
			if err := r.Poll(now); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}

func (r *Reporter) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, p := range r.publishers {
		if p == nil {
			continue
		}
		if err := p.Publish(topic, payload); err != nil {
			return err
		}
	}
	return nil
}
