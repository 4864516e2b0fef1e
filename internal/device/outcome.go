package device

// RebuildReason names why an identify pass concluded the device must
// be reconstructed.
type RebuildReason string

// Rebuild reasons.
const (
	// ReasonWrongMAC: the live MAC differs from the recorded one - the
	// address now serves a different physical device.
	ReasonWrongMAC RebuildReason = "wrong-mac"

	// ReasonWrongModel: the device reports a different model than
	// recorded (or one was learned for the first time).
	ReasonWrongModel RebuildReason = "wrong-model"
)

// IdentifyOutcome is the result of an identify pass. Identity
// conflicts are values, not errors: only the factory acts on a
// NeedsRebuild outcome, and the device machinery passes it through
// untouched.
type IdentifyOutcome struct {
	// NeedsRebuild is true when live data contradicts recorded
	// identity and the device must be reconstructed.
	NeedsRebuild bool

	// Reason says which mismatch was found.
	Reason RebuildReason

	// CorrectedMAC carries the live MAC (canonical form) on a
	// wrong-MAC outcome.
	CorrectedMAC string

	// CorrectedModel carries the live model on a wrong-model outcome.
	CorrectedModel string
}

// Ready is the outcome of a conflict-free identify pass.
func Ready() IdentifyOutcome {
	return IdentifyOutcome{}
}

// RebuildWithMAC builds a wrong-MAC outcome.
func RebuildWithMAC(correctedMAC string) IdentifyOutcome {
	return IdentifyOutcome{
		NeedsRebuild: true,
		Reason:       ReasonWrongMAC,
		CorrectedMAC: correctedMAC,
	}
}

// RebuildWithModel builds a wrong-model outcome.
func RebuildWithModel(correctedModel string) IdentifyOutcome {
	return IdentifyOutcome{
		NeedsRebuild:   true,
		Reason:         ReasonWrongModel,
		CorrectedModel: correctedModel,
	}
}
