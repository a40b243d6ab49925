package automation

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	moistureLow := RuleCondition{Moisture: below(30)}

	tests := []struct {
		name      string
		rules     []AutomationRule
		wantCmds  []string
		wantRules []string
	}{
		{
			name:      "no rules",
			wantCmds:  []string{},
			wantRules: []string{},
		},
		{
			name: "single rule",
			rules: []AutomationRule{
				testRule("a", "r1", 0, moistureLow, waterStart(5000)),
			},
			wantCmds:  []string{"watering:start 5000ms"},
			wantRules: []string{"a"},
		},
		{
			name: "later rule wins the channel",
			rules: []AutomationRule{
				testRule("a", "r1", 0, moistureLow, waterStart(5000)),
				testRule("b", "r1", 1, moistureLow, waterStop()),
			},
			wantCmds:  []string{"watering:stop"},
			wantRules: []string{"b"},
		},
		{
			name: "different channels both dispatch",
			rules: []AutomationRule{
				testRule("a", "r1", 0, moistureLow, light(LightOn)),
				testRule("b", "r1", 1, moistureLow, waterStart(2000)),
			},
			wantCmds:  []string{"watering:start 2000ms", "grow_light:on"},
			wantRules: []string{"b", "a"},
		},
		{
			name: "multi-channel rule loses one channel only",
			rules: []AutomationRule{
				testRule("a", "r1", 0, moistureLow, RuleActions{
					Watering:  &WateringAction{Action: WateringStart, DurationMS: intp(3000)},
					GrowLight: &GrowLightAction{Action: LightOn},
				}),
				testRule("b", "r1", 1, moistureLow, light(LightOff)),
			},
			wantCmds:  []string{"watering:start 3000ms", "grow_light:off"},
			wantRules: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reserved := make([]*AutomationRule, len(tt.rules))
			for i := range tt.rules {
				reserved[i] = &tt.rules[i]
			}

			cmds, err := Resolve("r1", reserved)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := describeAll(cmds); !reflect.DeepEqual(got, tt.wantCmds) {
				t.Errorf("commands = %v, want %v", got, tt.wantCmds)
			}
			gotRules := make([]string, len(cmds))
			for i, c := range cmds {
				gotRules[i] = c.RuleID
				if c.RackID != "r1" {
					t.Errorf("command %d RackID = %q, want r1", i, c.RackID)
				}
			}
			if !reflect.DeepEqual(gotRules, tt.wantRules) {
				t.Errorf("winning rules = %v, want %v", gotRules, tt.wantRules)
			}
		})
	}
}

func TestResolve_NoImplicitStop(t *testing.T) {
	rule := testRule("a", "r1", 0, RuleCondition{LightLevel: below(100)}, light(LightOn))
	cmds, err := Resolve("r1", []*AutomationRule{&rule})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for _, c := range cmds {
		if c.Channel() == ChannelWatering {
			t.Errorf("unexpected watering command %q", c.Command.Describe())
		}
	}
}

func TestResolve_IntegrityError(t *testing.T) {
	bad := testRule("bad", "r1", 0, RuleCondition{Moisture: below(30)}, waterStart(100))
	_, err := Resolve("r1", []*AutomationRule{&bad})
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("Resolve() error = %v, want ErrDataIntegrity", err)
	}
}

func TestCommandDescribe(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{WateringCommand{Action: WateringStart, DurationMS: 5000}, "watering:start 5000ms"},
		{WateringCommand{Action: WateringStop}, "watering:stop"},
		{GrowLightCommand{Action: LightOn}, "grow_light:on"},
		{GrowLightCommand{Action: LightOff}, "grow_light:off"},
	}
	for _, tt := range tests {
		if got := tt.cmd.Describe(); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}
