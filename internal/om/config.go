// Package om implements observational memory (C10): the per-scope
// observer/reflector threshold state machine that decides when to
// summarize session messages into durable "active observations" and when
// to reflect those observations into a condensed form.
package om

import (
	"github.com/axiomme/axiomme/internal/apperr"
)

// BufferTokensKind distinguishes the three buffer_tokens input shapes.
type BufferTokensKind string

const (
	BufferDisabled BufferTokensKind = "disabled"
	BufferAbsolute BufferTokensKind = "absolute"
	BufferRatio    BufferTokensKind = "ratio"
)

// BufferTokens is the raw observation.buffer_tokens config input.
type BufferTokens struct {
	Kind  BufferTokensKind
	Value float64 // absolute token count, or ratio in (0,1)
}

// Config is the raw, unvalidated OM configuration for one scope.
type Config struct {
	Scope            string
	ShareTokenBudget bool
	TotalBudget      int

	ObservationMessageTokens   int
	ObservationMaxPerBatch     int
	ObservationBufferTokens    BufferTokens
	ObservationBufferActivation float64
	ObservationBlockAfter      float64 // <1 invalid, [1,2) multiplier, >=2 absolute

	ReflectionObservationTokens  int
	ReflectionBufferActivation   float64
	ReflectionBlockAfter         float64
}

// ResolvedObservation is the validated, concrete observation-side config.
type ResolvedObservation struct {
	MessageTokensBase int
	TotalBudget       int // 0 means unset
	MaxTokensPerBatch int
	BufferTokens      int // 0 when async buffering disabled
	BufferActivation  float64
	BlockAfter        int // 0 when async buffering disabled
}

// DynamicThreshold implements spec §4.10.1: when share_token_budget is set,
// the threshold becomes max(base, total_budget - current_tokens).
func (o ResolvedObservation) DynamicThreshold(currentTokens int, shareBudget bool) int {
	if !shareBudget || o.TotalBudget == 0 {
		return o.MessageTokensBase
	}
	remaining := o.TotalBudget - currentTokens
	if remaining > o.MessageTokensBase {
		return remaining
	}
	return o.MessageTokensBase
}

// ResolvedReflection is the validated, concrete reflection-side config.
type ResolvedReflection struct {
	ObservationTokens int
	BufferActivation  float64
	BlockAfter        int
}

// ResolvedConfig is the full validated configuration for one OM scope.
type ResolvedConfig struct {
	Scope                  string
	ShareTokenBudget       bool
	AsyncBufferingDisabled bool
	Observation            ResolvedObservation
	Reflection             ResolvedReflection
}

// Resolve validates raw and produces a ResolvedConfig, per spec §4.10.1.
func Resolve(raw Config) (ResolvedConfig, error) {
	if raw.ObservationMessageTokens <= 0 {
		return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "observation.message_tokens must be > 0")
	}
	if raw.ReflectionObservationTokens <= 0 {
		return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "reflection.observation_tokens must be > 0")
	}
	if raw.ObservationMaxPerBatch <= 0 {
		return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "observation.max_tokens_per_batch must be > 0")
	}

	bufferRequested := raw.ObservationBufferTokens.Kind == BufferAbsolute || raw.ObservationBufferTokens.Kind == BufferRatio
	asyncDisabled := !bufferRequested
	if raw.Scope == "resource" {
		if bufferRequested {
			return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "resource scope requires async observation buffering disabled")
		}
		asyncDisabled = true
	}
	if raw.ShareTokenBudget && !asyncDisabled {
		return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "share_token_budget requires async buffering disabled")
	}

	obs := ResolvedObservation{
		MessageTokensBase: raw.ObservationMessageTokens,
		TotalBudget:       raw.TotalBudget,
		MaxTokensPerBatch: raw.ObservationMaxPerBatch,
	}
	if !asyncDisabled {
		bufTokens, err := resolveBufferTokens(raw.ObservationBufferTokens, raw.ObservationMessageTokens)
		if err != nil {
			return ResolvedConfig{}, err
		}
		if bufTokens >= raw.ObservationMessageTokens {
			return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "observation buffer_tokens must be strictly below message_tokens")
		}
		obs.BufferTokens = bufTokens

		activation := raw.ObservationBufferActivation
		if activation == 0 {
			activation = 0.5
		}
		if activation <= 0 || activation > 1 {
			return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "observation buffer_activation must be in (0,1]")
		}
		obs.BufferActivation = activation

		blockAfter, err := resolveBlockAfter(raw.ObservationBlockAfter, raw.ObservationMessageTokens)
		if err != nil {
			return ResolvedConfig{}, err
		}
		if blockAfter < raw.ObservationMessageTokens {
			return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "observation block_after below message_tokens")
		}
		obs.BlockAfter = blockAfter
	}

	refl := ResolvedReflection{ObservationTokens: raw.ReflectionObservationTokens}
	if !asyncDisabled {
		activation := raw.ReflectionBufferActivation
		if activation == 0 {
			activation = 0.5
		}
		if activation <= 0 || activation > 1 {
			return ResolvedConfig{}, apperr.New(apperr.ValidationFailed, "om.resolve", "reflection buffer_activation must be in (0,1]")
		}
		refl.BufferActivation = activation

		blockAfter, err := resolveBlockAfter(raw.ReflectionBlockAfter, raw.ReflectionObservationTokens)
		if err != nil {
			return ResolvedConfig{}, err
		}
		refl.BlockAfter = blockAfter
	}

	return ResolvedConfig{
		Scope: raw.Scope, ShareTokenBudget: raw.ShareTokenBudget, AsyncBufferingDisabled: asyncDisabled,
		Observation: obs, Reflection: refl,
	}, nil
}

func resolveBufferTokens(bt BufferTokens, base int) (int, error) {
	switch bt.Kind {
	case "", BufferDisabled:
		return 0, nil
	case BufferAbsolute:
		if bt.Value <= 0 {
			return 0, apperr.New(apperr.ValidationFailed, "om.resolve", "absolute buffer_tokens must be > 0")
		}
		return int(bt.Value), nil
	case BufferRatio:
		if bt.Value <= 0 || bt.Value >= 1 {
			return 0, apperr.New(apperr.ValidationFailed, "om.resolve", "ratio buffer_tokens must be in (0,1)")
		}
		resolved := int(bt.Value * float64(base))
		if resolved <= 0 {
			return 0, apperr.New(apperr.ValidationFailed, "om.resolve", "ratio buffer_tokens resolves to zero")
		}
		return resolved, nil
	default:
		return 0, apperr.New(apperr.ValidationFailed, "om.resolve", "unknown buffer_tokens kind")
	}
}

// resolveBlockAfter implements the tiered interpretation: <1 is an error,
// [1,2) is a multiplier of base, >=2 is an absolute token count.
func resolveBlockAfter(v float64, base int) (int, error) {
	if v == 0 {
		return 2 * base, nil // unset: block after twice the base threshold
	}
	switch {
	case v < 1.0:
		return 0, apperr.New(apperr.ValidationFailed, "om.resolve", "block_after < 1.0 is invalid")
	case v < 2.0:
		return int(v * float64(base)), nil
	default:
		return int(v), nil
	}
}
