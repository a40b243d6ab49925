package automation

import (
	"errors"
	"fmt"
)

// Resolve turns the reserved rules of one cycle into at most one command
// per channel.
//
// reserved must be in evaluation order (created_at, then id). Within a
// channel the last rule in that order wins; earlier actions for the same
// channel are discarded. Channels no rule targets produce no command.
// Commands are returned in AllChannels order.
//
// An action that cannot be turned into a command is a data-integrity
// error; rules reaching Resolve are expected to have passed CheckIntegrity.
func Resolve(rackID string, reserved []*AutomationRule) ([]ActuatorCommand, error) {
	winners := make(map[Channel]*AutomationRule, len(AllChannels()))
	for _, rule := range reserved {
		for _, ch := range AllChannels() {
			if rule.Actions.Targets(ch) {
				winners[ch] = rule
			}
		}
	}

	commands := make([]ActuatorCommand, 0, len(winners))
	for _, ch := range AllChannels() {
		rule, ok := winners[ch]
		if !ok {
			continue
		}
		cmd, err := commandFor(rule.Actions, ch)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrDataIntegrity, rule.ID, err)
		}
		commands = append(commands, ActuatorCommand{
			RackID:   rackID,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Command:  cmd,
		})
	}
	return commands, nil
}

// commandFor builds the concrete command for one channel of actions.
// Callers wrap the error with the sentinel that fits their layer.
func commandFor(actions RuleActions, ch Channel) (Command, error) {
	switch ch {
	case ChannelWatering:
		return wateringCommand(actions.Watering)
	case ChannelGrowLight:
		return growLightCommand(actions.GrowLight)
	default:
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
}

func wateringCommand(a *WateringAction) (Command, error) {
	if a == nil {
		return nil, errors.New("no watering action")
	}
	switch a.Action {
	case WateringStart:
		if a.DurationMS == nil {
			return nil, errors.New("watering start without duration")
		}
		if d := *a.DurationMS; d < MinWateringDurationMS || d > MaxWateringDurationMS {
			return nil, fmt.Errorf("watering duration %dms outside [%d,%d]",
				d, MinWateringDurationMS, MaxWateringDurationMS)
		}
		return WateringCommand{Action: WateringStart, DurationMS: *a.DurationMS}, nil
	case WateringStop:
		if a.DurationMS != nil {
			return nil, errors.New("watering stop with duration")
		}
		return WateringCommand{Action: WateringStop}, nil
	default:
		return nil, fmt.Errorf("unknown watering action %q", a.Action)
	}
}

func growLightCommand(a *GrowLightAction) (Command, error) {
	if a == nil {
		return nil, errors.New("no grow light action")
	}
	switch a.Action {
	case LightOn, LightOff:
		return GrowLightCommand{Action: a.Action}, nil
	default:
		return nil, fmt.Errorf("unknown grow light action %q", a.Action)
	}
}
