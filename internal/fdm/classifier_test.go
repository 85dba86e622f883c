// internal/fdm/classifier_test.go
package fdm

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name              string
		error1            int
		error2            int
		ignoreNonCritical bool
		want              Outcome
	}{
		{
			name:   "clean success",
			error1: 0, error2: 0,
			want: Outcome{Success: true},
		},
		{
			name:   "pin accepted surfaces through error channel",
			error1: 0, error2: 1,
			want: Outcome{Success: true, PinAccepted: true},
		},
		{
			name:   "memory almost full is a warning not a failure",
			error1: 1, error2: 1,
			want: Outcome{Success: true, Warning: WarningKindMemoryAlmostFull},
		},
		{
			name:   "duplicate request already handled",
			error1: 1, error2: 2, ignoreNonCritical: true,
			want: Outcome{Success: true, Warning: WarningKindAlreadyHandled},
		},
		{
			name:   "no record warning",
			error1: 1, error2: 3,
			want: Outcome{Success: true, Warning: WarningKindNoRecord},
		},
		{
			name:   "unknown warning code",
			error1: 1, error2: 99,
			want: Outcome{Success: true, Warning: WarningKindUnspecified},
		},
		{
			name:   "invalid pin fails and demands pin entry",
			error1: 4, error2: 2,
			want: Outcome{ErrorKind: ErrorKindInvalidPin, RequiresPinEntry: true},
		},
		{
			name:   "invalid pin is never ignorable",
			error1: 4, error2: 2, ignoreNonCritical: true,
			want: Outcome{ErrorKind: ErrorKindInvalidPin, RequiresPinEntry: true},
		},
		{
			name:   "missing card fails a strict classify",
			error1: 4, error2: 1,
			want: Outcome{ErrorKind: ErrorKindNoSigningCard},
		},
		{
			name:   "missing card ignorable during identification",
			error1: 4, error2: 1, ignoreNonCritical: true,
			want: Outcome{Success: true},
		},
		{
			name:   "blocked card ignorable during identification",
			error1: 2, error2: 3, ignoreNonCritical: true,
			want: Outcome{Success: true},
		},
		{
			name:   "corrupt clock ignorable during identification",
			error1: 3, error2: 9, ignoreNonCritical: true,
			want: Outcome{Success: true},
		},
		{
			name:   "full memory ignorable during identification",
			error1: 2, error2: 5, ignoreNonCritical: true,
			want: Outcome{Success: true},
		},
		{
			name:   "incompatible card ignorable during identification",
			error1: 2, error2: 10, ignoreNonCritical: true,
			want: Outcome{Success: true},
		},
		{
			name:   "malformed request data never ignorable",
			error1: 2, error2: 7, ignoreNonCritical: true,
			want: Outcome{ErrorKind: ErrorKindInvalidMessageData},
		},
		{
			name:   "device not operational never ignorable",
			error1: 2, error2: 8, ignoreNonCritical: true,
			want: Outcome{ErrorKind: ErrorKindNotOperational},
		},
		{
			name:   "unknown identifier",
			error1: 2, error2: 6,
			want: Outcome{ErrorKind: ErrorKindUnknownIdentifier},
		},
		{
			name:   "unknown error code",
			error1: 9, error2: 77,
			want: Outcome{ErrorKind: ErrorKindUnspecified},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.error1, tt.error2, tt.ignoreNonCritical)
			if got != tt.want {
				t.Errorf("Classify(%d, %d, %v) = %+v, want %+v",
					tt.error1, tt.error2, tt.ignoreNonCritical, got, tt.want)
			}
		})
	}
}
