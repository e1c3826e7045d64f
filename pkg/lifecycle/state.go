// Package lifecycle implements the tenant lifecycle state machine (§4.3): a
// closed set of states and transitions, each with an idempotent side effect,
// serialized per tenant.
package lifecycle

import "github.com/hostfleet/controlplane/pkg/tenant"

const (
	Provisioning         tenant.State = "Provisioning"
	Active               tenant.State = "Active"
	WarningSent          tenant.State = "WarningSent"
	Suspended            tenant.State = "Suspended"
	FinalWarningSent     tenant.State = "FinalWarningSent"
	ScheduledForDeletion tenant.State = "ScheduledForDeletion"
	Deleted              tenant.State = "Deleted"
	ProvisioningFailed   tenant.State = "ProvisioningFailed"
)

// Trigger is one of the events that can move a tenant between states.
type Trigger string

const (
	ProvisionSucceeded Trigger = "ProvisionSucceeded"
	ProvisionFailed    Trigger = "ProvisionFailed"
	TriggerOverdueD3   Trigger = "OverdueD3"
	TriggerOverdueD7   Trigger = "OverdueD7"
	TriggerOverdueD15  Trigger = "OverdueD15"
	TriggerOverdueD30  Trigger = "OverdueD30"
	DeletionDueElapsed Trigger = "DeletionDueElapsed"
	PaymentConfirmed   Trigger = "PaymentConfirmed"
	AdminDelete        Trigger = "AdminDelete"
)

// transitionKey pairs a state with the trigger observed in it.
type transitionKey struct {
	From    tenant.State
	Trigger Trigger
}

// transitions is the closed transition table (§4.3). Any (state, trigger)
// pair absent from this map is a no-op by design — not an error.
var transitions = map[transitionKey]tenant.State{
	{Provisioning, ProvisionSucceeded}: Active,
	{Provisioning, ProvisionFailed}:    ProvisioningFailed,

	{Active, TriggerOverdueD3}:           WarningSent,
	{WarningSent, TriggerOverdueD7}:      Suspended,
	{Suspended, TriggerOverdueD15}:       FinalWarningSent,
	{FinalWarningSent, TriggerOverdueD30}: ScheduledForDeletion,
	{ScheduledForDeletion, DeletionDueElapsed}: Deleted,

	{WarningSent, PaymentConfirmed}:          Active,
	{Suspended, PaymentConfirmed}:            Active,
	{FinalWarningSent, PaymentConfirmed}:     Active,
	{ScheduledForDeletion, PaymentConfirmed}: Active,

	// AdminDelete short-circuits dunning from any live state (§6: DELETE
	// /system/tenants/{id} is an immediate operator override).
	{Provisioning, AdminDelete}:         Deleted,
	{Active, AdminDelete}:               Deleted,
	{WarningSent, AdminDelete}:          Deleted,
	{Suspended, AdminDelete}:            Deleted,
	{FinalWarningSent, AdminDelete}:     Deleted,
	{ScheduledForDeletion, AdminDelete}: Deleted,
}

// NextState returns the destination state for (from, trigger), and whether
// the pair is a valid transition at all.
func NextState(from tenant.State, trig Trigger) (tenant.State, bool) {
	to, ok := transitions[transitionKey{From: from, Trigger: trig}]
	return to, ok
}

// isFromSuspendedSet reports whether from is one of the four dunning states
// PaymentConfirmed can recover from (§4.3 transition table).
func isFromSuspendedSet(from tenant.State) bool {
	switch from {
	case WarningSent, Suspended, FinalWarningSent, ScheduledForDeletion:
		return true
	default:
		return false
	}
}
