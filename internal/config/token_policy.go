package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TokenPolicy is the static table mapping an action name to its token economics.
type TokenPolicy struct {
	Actions []ActionPolicy `mapstructure:"actions"`
}

type ActionPolicy struct {
	Action          string `mapstructure:"action"`
	Category        string `mapstructure:"category"`
	Cost            int64  `mapstructure:"cost"`
	FreeTierAllowed bool   `mapstructure:"freeTierAllowed"`
	// Credit actions add the requested amount instead of charging Cost.
	Credit bool `mapstructure:"credit"`
}

type resourceCost struct {
	resource string
	category string
	cost     int64
	free     bool
}

var defaultResourceCosts = []resourceCost{
	{resource: "feeding", category: "FEEDING", cost: 85, free: true},
	{resource: "pain_score", category: "PAIN_SCORE", cost: 50, free: true},
	{resource: "water", category: "WATER", cost: 40, free: true},
	{resource: "medication", category: "MEDICATION", cost: 70, free: false},
	{resource: "seizure", category: "SEIZURE", cost: 90, free: false},
	{resource: "vital_sign", category: "VITAL_SIGN", cost: 60, free: false},
	{resource: "movement", category: "MOVEMENT", cost: 45, free: false},
	{resource: "walk", category: "WALK", cost: 55, free: false},
}

// DefaultTokenPolicy returns the compiled-in policy. Deletes cost the same as creates.
func DefaultTokenPolicy() TokenPolicy {
	actions := make([]ActionPolicy, 0, len(defaultResourceCosts)*2+1)
	for _, rc := range defaultResourceCosts {
		actions = append(actions,
			ActionPolicy{
				Action:          rc.resource + ".create",
				Category:        rc.category + "_CREATION",
				Cost:            rc.cost,
				FreeTierAllowed: rc.free,
			},
			ActionPolicy{
				Action:          rc.resource + ".delete",
				Category:        rc.category + "_DELETE",
				Cost:            rc.cost,
				FreeTierAllowed: rc.free,
			},
		)
	}
	actions = append(actions, ActionPolicy{
		Action:          "tokens.grant",
		Category:        "TOKEN_GRANT",
		FreeTierAllowed: true,
		Credit:          true,
	})
	return TokenPolicy{Actions: actions}
}

// Lookup returns the policy for action.
func (p TokenPolicy) Lookup(action string) (ActionPolicy, bool) {
	action = strings.TrimSpace(action)
	for _, a := range p.Actions {
		if a.Action == action {
			return a, true
		}
	}
	return ActionPolicy{}, false
}

type TokenPolicyHolder struct {
	current atomic.Value // holds TokenPolicy
}

// NewStaticTokenPolicyHolder wraps a fixed policy.
func NewStaticTokenPolicyHolder(policy TokenPolicy) *TokenPolicyHolder {
	holder := &TokenPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewTokenPolicyHolder reads token-policy.yml from the configured paths and hot reloads it.
// Without a file the compiled-in defaults apply.
func NewTokenPolicyHolder(cfg Config) (*TokenPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("token-policy")
	v.SetConfigType("yml")
	for _, path := range cfg.Metering.PolicyPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("PAWTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return NewStaticTokenPolicyHolder(DefaultTokenPolicy()), nil
	}

	var policy TokenPolicy
	if err := v.UnmarshalKey("tokens", &policy); err != nil {
		return nil, err
	}
	if err := ValidateTokenPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticTokenPolicyHolder(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TokenPolicy
		if err := v.UnmarshalKey("tokens", &updated); err != nil {
			zap.L().Warn("token policy reload failed", zap.Error(err))
			return
		}
		if err := ValidateTokenPolicy(updated); err != nil {
			zap.L().Warn("invalid token policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("token policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *TokenPolicyHolder) Get() TokenPolicy {
	return h.current.Load().(TokenPolicy)
}

func ValidateTokenPolicy(policy TokenPolicy) error {
	if len(policy.Actions) == 0 {
		return errors.New("tokens.actions cannot be empty")
	}
	seen := make(map[string]struct{}, len(policy.Actions))
	for _, a := range policy.Actions {
		name := strings.TrimSpace(a.Action)
		if name == "" {
			return errors.New("tokens.actions: action name is required")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("tokens.actions: duplicate action %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(a.Category) == "" {
			return fmt.Errorf("tokens.actions: %q has no category", name)
		}
		if a.Cost < 0 {
			return fmt.Errorf("tokens.actions: %q has negative cost", name)
		}
		if !a.Credit && a.Cost == 0 {
			return fmt.Errorf("tokens.actions: %q must cost at least one token", name)
		}
	}
	return nil
}
