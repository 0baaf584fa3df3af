// Package policy evaluates separation-of-duties rules. Rules are data
// (action x actor field x comparison); Evaluate is a pure function over them.
package policy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stock-ledger/src/apperrors"
)

type Action string

const (
	ActionTransferSend    Action = "transfer.send"
	ActionTransferVerify  Action = "transfer.verify"
	ActionTransferReceive Action = "transfer.receive"
	ActionPurchaseReceive Action = "purchase.receive"
)

type ActorField string

const (
	ActorCreatedBy  ActorField = "created_by"
	ActorCheckedBy  ActorField = "checked_by"
	ActorSentBy     ActorField = "sent_by"
	ActorReceivedBy ActorField = "received_by"
)

type Comparison string

const (
	// MustDiffer denies when the acting user performed the referenced step
	MustDiffer Comparison = "must_differ"
	// MustMatch denies when someone else performed the referenced step
	MustMatch Comparison = "must_match"
)

const codeInvalidRule = "SOD_RULE_INVALID"

type Rule struct {
	Action       Action     `json:"action"`
	ActorField   ActorField `json:"actor_field"`
	Comparison   Comparison `json:"comparison"`
	Enabled      bool       `json:"enabled"`
	Configurable bool       `json:"configurable"`
	Code         string     `json:"code"`
	Message      string     `json:"message"`
	Suggestion   string     `json:"suggestion,omitempty"`
	BypassRoles  []string   `json:"bypass_roles,omitempty"`
}

func (r Rule) key() string {
	return string(r.Action) + "|" + string(r.ActorField)
}

// Subject is the document being acted on together with who performed each
// prior step. A nil actor means the step has not happened yet.
type Subject struct {
	EntityType string
	EntityID   uuid.UUID
	Actors     map[ActorField]*uuid.UUID
}

type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	Code         string `json:"code,omitempty"`
	Configurable bool   `json:"configurable"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// Err - Denials as an authorization error; nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.Forbidden(d.Code, d.Reason, d.Configurable, d.Suggestion)
}

var allow = Decision{Allowed: true}

// DefaultRules - Rule table used for a business with no overrides
func DefaultRules() []Rule {
	return []Rule{
		{
			Action:       ActionTransferSend,
			ActorField:   ActorCreatedBy,
			Comparison:   MustDiffer,
			Enabled:      false,
			Configurable: true,
			Code:         "SOD_TRANSFER_CREATOR_CANNOT_SEND",
			Message:      "The user who created this transfer cannot also send it",
			Suggestion:   "Ask another user to send the transfer, or disable this rule in the separation-of-duties settings",
		},
		{
			Action:       ActionTransferReceive,
			ActorField:   ActorSentBy,
			Comparison:   MustDiffer,
			Enabled:      true,
			Configurable: true,
			Code:         "SOD_TRANSFER_SENDER_CANNOT_RECEIVE",
			Message:      "The user who sent this transfer cannot also receive it",
			Suggestion:   "Have a user at the destination location receive the transfer, or disable this rule in the separation-of-duties settings",
		},
		{
			Action:       ActionTransferReceive,
			ActorField:   ActorCreatedBy,
			Comparison:   MustDiffer,
			Enabled:      false,
			Configurable: true,
			Code:         "SOD_TRANSFER_CREATOR_CANNOT_RECEIVE",
			Message:      "The user who created this transfer cannot also receive it",
			Suggestion:   "Have a different user receive the transfer, or disable this rule in the separation-of-duties settings",
		},
		{
			Action:       ActionTransferVerify,
			ActorField:   ActorSentBy,
			Comparison:   MustDiffer,
			Enabled:      false,
			Configurable: true,
			Code:         "SOD_TRANSFER_SENDER_CANNOT_VERIFY",
			Message:      "The user who sent this transfer cannot also verify it",
			Suggestion:   "Have a user at the destination location verify the transfer",
		},
		{
			Action:       ActionPurchaseReceive,
			ActorField:   ActorCreatedBy,
			Comparison:   MustDiffer,
			Enabled:      false,
			Configurable: true,
			Code:         "SOD_PURCHASE_CREATOR_CANNOT_RECEIVE",
			Message:      "The user who created this purchase order cannot also receive goods against it",
			Suggestion:   "Have warehouse staff record the goods receipt, or disable this rule in the separation-of-duties settings",
		},
	}
}

// Merge - Overlay business overrides on the defaults, matching on (action, actor field).
// Overrides for pairs not in the defaults are appended.
func Merge(defaults, overrides []Rule) []Rule {
	out := make([]Rule, 0, len(defaults)+len(overrides))
	index := make(map[string]int, len(defaults))
	for _, r := range defaults {
		index[r.key()] = len(out)
		out = append(out, r)
	}
	for _, o := range overrides {
		if i, ok := index[o.key()]; ok {
			base := out[i]
			if !base.Configurable {
				// non-configurable defaults cannot be relaxed
				continue
			}
			if o.Message == "" {
				o.Message = base.Message
			}
			if o.Code == "" {
				o.Code = base.Code
			}
			if o.Suggestion == "" {
				o.Suggestion = base.Suggestion
			}
			out[i] = o
			continue
		}
		index[o.key()] = len(out)
		out = append(out, o)
	}
	return out
}

// Evaluate - Decide whether userID may perform action on subject.
// The first violated rule wins.
func Evaluate(rules []Rule, action Action, subject Subject, userID uuid.UUID, roles []string) Decision {
	for _, rule := range rules {
		if rule.Action != action || !rule.Enabled {
			continue
		}
		if bypassed(rule, roles) {
			continue
		}
		actor := subject.Actors[rule.ActorField]
		if actor == nil {
			continue
		}

		var violated bool
		switch rule.Comparison {
		case MustDiffer:
			violated = *actor == userID
		case MustMatch:
			violated = *actor != userID
		default:
			return Decision{
				Allowed:      false,
				Reason:       fmt.Sprintf("separation-of-duties rule for %s has unknown comparison %q", action, rule.Comparison),
				Code:         codeInvalidRule,
				Configurable: true,
				Suggestion:   "Fix the rule configuration",
			}
		}
		if violated {
			return Decision{
				Allowed:      false,
				Reason:       rule.Message,
				Code:         rule.Code,
				Configurable: rule.Configurable,
				Suggestion:   rule.Suggestion,
			}
		}
	}
	return allow
}

func bypassed(rule Rule, roles []string) bool {
	for _, want := range rule.BypassRoles {
		for _, have := range roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// ValidComparison - Used when administrators submit rule changes
func ValidComparison(c Comparison) bool {
	return c == MustDiffer || c == MustMatch
}

func ValidActorField(f ActorField) bool {
	switch f {
	case ActorCreatedBy, ActorCheckedBy, ActorSentBy, ActorReceivedBy:
		return true
	default:
		return false
	}
}

func ValidAction(a Action) bool {
	switch a {
	case ActionTransferSend, ActionTransferVerify, ActionTransferReceive, ActionPurchaseReceive:
		return true
	default:
		return false
	}
}
