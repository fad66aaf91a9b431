// risk/actions.go
package risk

import "fmt"

// Reason names why a gate denied an action.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonBlocked        Reason = "risk_blocked"
	ReasonPositionOpen   Reason = "position_open"
	ReasonMaxPositions   Reason = "max_positions"
	ReasonAccountBlocked Reason = "account_blocked"
	ReasonIVRank         Reason = "iv_rank"
	ReasonVolIndex       Reason = "vol_index"
	ReasonSpread         Reason = "spread"
	ReasonConfidence     Reason = "confidence"
	ReasonInvalidExit    Reason = "invalid_exit"
)

// Trigger is what asked a position to exit.
type Trigger string

const (
	TriggerStopLoss Trigger = "stop_loss"
	TriggerTrailing Trigger = "trailing_stop"
	TriggerTier     Trigger = "tier"
	TriggerFlatten  Trigger = "flatten"
)

// Unconditional reports whether the trigger is a safety exit that no risk state can block.
func (t Trigger) Unconditional() bool {
	return t == TriggerStopLoss || t == TriggerFlatten
}

// Decision is the outcome of one gate call. Denials are normal control flow.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (d Decision) Description() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied (%s): %s", d.Reason, d.Detail)
}

// EntryContext carries the per-instrument facts the entry gate needs beyond the intent.
type EntryContext struct {
	HasOpenPosition bool
	OpenPositions   int
	AccountBlocked  bool
	IVRank          float64
	IVRankKnown     bool
	VolIndex        float64
	VolIndexKnown   bool
	SpreadFraction  float64
}

// ExitRequest describes an exit the lifecycle engine wants to perform.
type ExitRequest struct {
	Instrument string
	Trigger    Trigger
	Quantity   float64
}
