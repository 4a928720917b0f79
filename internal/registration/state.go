package registration

import (
	"time"

	"github.com/sosi/kosningakerfi/internal/domain"
)

// Step is a state of the registration flow.
type Step string

const (
	StepIdle                       Step = "idle"
	StepAwaitingProviderRedirect   Step = "awaiting_provider_redirect"
	StepResumedWithCode            Step = "resumed_with_code"
	StepExchangingIdentity         Step = "exchanging_identity"
	StepEstablishingPrimarySession Step = "establishing_primary_session"
	StepLinkingSecondary           Step = "linking_secondary"
	StepFinalizingProfile          Step = "finalizing_profile"
	StepComplete                   Step = "complete"
	StepFailed                     Step = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepFailed
}

var progress = map[Step]string{
	StepIdle:                       "",
	StepAwaitingProviderRedirect:   "Redirecting to Kenni.is...",
	StepResumedWithCode:            "Processing authentication...",
	StepExchangingIdentity:         "Verifying your identity...",
	StepEstablishingPrimarySession: "Signing you in...",
	StepLinkingSecondary:           "Link your Google account to finish registering.",
	StepFinalizingProfile:          "Updating your profile...",
	StepComplete:                   "Registration complete.",
}

// Reason names why a flow failed.
type Reason string

const (
	ReasonFlowStart            Reason = "flow start"
	ReasonMissingFlowData      Reason = "missing flow data"
	ReasonExchange             Reason = "exchange"
	ReasonSessionEstablishment Reason = "session establishment"
	ReasonAlreadyLinked        Reason = "already linked"
	ReasonLinkCancelled        Reason = "link cancelled"
	ReasonLinkFailed           Reason = "link failed"
)

// Action is what the user should do after a failure.
type Action string

const (
	ActionRetryInPlace Action = "retry_in_place"
	ActionRestartFlow  Action = "restart_flow"
	ActionSwitchFlow   Action = "switch_flow"
)

type failureCopy struct {
	message string
	action  Action
}

var failures = map[Reason]failureCopy{
	ReasonFlowStart: {
		"Sign-in could not be started. Please try again.",
		ActionRetryInPlace,
	},
	ReasonMissingFlowData: {
		"Your sign-in attempt could not be found. This happens when the link is opened again or sign-in was started in another tab. Please start again.",
		ActionRestartFlow,
	},
	ReasonExchange: {
		"We could not verify your identity with Kenni.is. Please start again.",
		ActionRestartFlow,
	},
	ReasonSessionEstablishment: {
		"Your identity was verified but we could not sign you in. Please start again.",
		ActionRestartFlow,
	},
	ReasonAlreadyLinked: {
		"This Google account is already linked to another voter. Sign in instead of registering.",
		ActionSwitchFlow,
	},
	ReasonLinkCancelled: {
		"Linking your Google account was cancelled. Please start again to finish registering.",
		ActionRestartFlow,
	},
	ReasonLinkFailed: {
		"Linking your Google account failed. Please try again.",
		ActionRestartFlow,
	},
}

// Failure describes a failed flow. Detail carries the upstream's own
// message where one exists.
type Failure struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	Action  Action `json:"action"`
	Detail  string `json:"detail,omitempty"`
}

func newFailure(reason Reason, detail string) *Failure {
	c := failures[reason]
	return &Failure{
		Reason:  reason,
		Message: c.message,
		Action:  c.action,
		Detail:  detail,
	}
}

// State is a snapshot of a flow.
type State struct {
	FlowID    string                       `json:"flow_id"`
	Step      Step                         `json:"step"`
	Message   string                       `json:"message"`
	Failure   *Failure                     `json:"failure,omitempty"`
	SessionID string                       `json:"-"`
	Linked    *domain.LinkedCredentialInfo `json:"linked,omitempty"`
	UpdatedAt time.Time                    `json:"updated_at"`
}
