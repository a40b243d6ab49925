package dispatch

import (
	"fmt"
	"time"

	"github.com/nerrad567/growrack-core/internal/automation"
)

// CommandMessage is the JSON body published to a rack's command topic.
type CommandMessage struct {
	CommandID  string    `json:"command_id"`
	RackID     string    `json:"rack_id"`
	Channel    string    `json:"channel"`
	Action     string    `json:"action"`
	DurationMS *int      `json:"duration_ms,omitempty"`
	RuleID     string    `json:"rule_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// AckMessage is the gateway's reply to a command.
type AckMessage struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func newCommandMessage(id string, cmd automation.ActuatorCommand, now time.Time) (CommandMessage, error) {
	msg := CommandMessage{
		CommandID: id,
		RackID:    cmd.RackID,
		Channel:   string(cmd.Channel()),
		RuleID:    cmd.RuleID,
		IssuedAt:  now.UTC(),
	}

	switch c := cmd.Command.(type) {
	case automation.WateringCommand:
		msg.Action = string(c.Action)
		if c.Action == automation.WateringStart {
			d := c.DurationMS
			msg.DurationMS = &d
		}
	case automation.GrowLightCommand:
		msg.Action = string(c.Action)
	default:
		return CommandMessage{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd.Command)
	}
	return msg, nil
}
