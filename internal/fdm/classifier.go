// internal/fdm/classifier.go
package fdm

// ErrorKind names a fatal device condition from the error-tier catalogue.
// Every fatal outcome maps to exactly one kind so operators can tell a
// hardware fault from a configuration or data problem.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindNoSigningCard      ErrorKind = "NO_SIGNING_CARD"
	ErrorKindInvalidPin         ErrorKind = "INVALID_PIN"
	ErrorKindCardBlocked        ErrorKind = "CARD_BLOCKED"
	ErrorKindMemoryFull         ErrorKind = "MEMORY_FULL"
	ErrorKindUnknownIdentifier  ErrorKind = "UNKNOWN_IDENTIFIER"
	ErrorKindInvalidMessageData ErrorKind = "INVALID_MESSAGE_DATA"
	ErrorKindNotOperational     ErrorKind = "NOT_OPERATIONAL"
	ErrorKindClockCorrupt       ErrorKind = "CLOCK_CORRUPT"
	ErrorKindIncompatibleCard   ErrorKind = "INCOMPATIBLE_CARD"
	ErrorKindUnspecified        ErrorKind = "UNSPECIFIED"
)

// WarningKind names a non-blocking warning-tier condition (error1 == 1).
type WarningKind string

const (
	WarningKindNone             WarningKind = ""
	WarningKindMemoryAlmostFull WarningKind = "MEMORY_90_PERCENT_FULL"
	WarningKindAlreadyHandled   WarningKind = "REQUEST_ALREADY_HANDLED"
	WarningKindNoRecord         WarningKind = "NO_RECORD"
	WarningKindUnspecified      WarningKind = "UNSPECIFIED_WARNING"
)

// Outcome is the classification of one response's two-level error code.
type Outcome struct {
	Success          bool
	Warning          WarningKind
	ErrorKind        ErrorKind
	RequiresPinEntry bool
	PinAccepted      bool
}

var errorKinds = map[int]ErrorKind{
	1:  ErrorKindNoSigningCard,
	2:  ErrorKindInvalidPin,
	3:  ErrorKindCardBlocked,
	5:  ErrorKindMemoryFull,
	6:  ErrorKindUnknownIdentifier,
	7:  ErrorKindInvalidMessageData,
	8:  ErrorKindNotOperational,
	9:  ErrorKindClockCorrupt,
	10: ErrorKindIncompatibleCard,
}

var warningKinds = map[int]WarningKind{
	1: WarningKindMemoryAlmostFull,
	2: WarningKindAlreadyHandled,
	3: WarningKindNoRecord,
}

// ignorableErrors are the error-tier codes that identification probing may
// treat as non-blocking: conditions the operator fixes at the device, not
// reasons to keep the terminal from starting. The PIN code (2) is never in
// this set because it must surface the PIN-entry flow.
var ignorableErrors = map[int]bool{
	1:  true, // no signing card
	3:  true, // card blocked
	5:  true, // memory full
	9:  true, // clock corrupt
	10: true, // incompatible card
}

// Classify maps a response's (error1, error2) pair to an actionable
// outcome. Warnings never block; ignoreNonCritical additionally downgrades
// the ignorable error codes to success for identification probing.
func Classify(error1, error2 int, ignoreNonCritical bool) Outcome {
	switch {
	case error1 == 0:
		return Outcome{Success: true, PinAccepted: error2 == 1}

	case error1 == 1:
		warning, ok := warningKinds[error2]
		if !ok {
			warning = WarningKindUnspecified
		}
		return Outcome{Success: true, Warning: warning}

	default:
		if ignoreNonCritical && ignorableErrors[error2] {
			return Outcome{Success: true}
		}
		kind, ok := errorKinds[error2]
		if !ok {
			kind = ErrorKindUnspecified
		}
		return Outcome{
			Success:          false,
			ErrorKind:        kind,
			RequiresPinEntry: kind == ErrorKindInvalidPin,
		}
	}
}
