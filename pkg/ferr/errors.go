// Package ferr holds the single error enumeration surfaced at the core's
// public boundary (spec §7). There is no separate extension point for
// profile codes: ExtensionCommandRejected, used by pkg/profile, is part
// of this enumeration.
package ferr

import "errors"

// Kind classifies a core-level failure.
type Kind int

const (
	// Unspecified is an unknown failure; it should not occur in a
	// steady-state system.
	Unspecified Kind = iota
	// InvalidArgument flags caller-side misuse.
	InvalidArgument
	// NotSupported means the device answered with a "not implemented"
	// status for the requested opcode.
	NotSupported

	// TransportChecksumError: full response received, CRC disagreed.
	TransportChecksumError
	// TransportReceptionNoAnswerError: zero bytes came back.
	TransportReceptionNoAnswerError
	// TransportReceptionMissingDataError: a short/partial read.
	TransportReceptionMissingDataError
	// TransportTransmissionError: the write itself failed.
	TransportTransmissionError

	// DeviceNotInitialized: an operation needs DeviceInfo but it has not
	// been fetched yet.
	DeviceNotInitialized
	// DeviceStatisticsNotSupported: the statistics-available bit was clear.
	DeviceStatisticsNotSupported
	// DeviceUptimeNotSupported: uptime_frequency was 0.
	DeviceUptimeNotSupported
	// DeviceRejectedBusAddress: SetBusAddress's ack byte was 0.
	DeviceRejectedBusAddress
	// DeviceStaticStorageAddressSizeError: a storage offset/length/page
	// alignment violation.
	DeviceStaticStorageAddressSizeError
	// DeviceStaticStorageWriteError: the device reported a write failure
	// status other than address/size.
	DeviceStaticStorageWriteError

	// NoAssertionDetected is a positive search signal: zero slaves
	// matched a bus-assertion broadcast. Not a failure.
	NoAssertionDetected

	// ExtensionCommandRejected: a profile-level write command's
	// acknowledgement byte reported rejection.
	ExtensionCommandRejected
)

// TransportReceptionError is kept as an alias of
// TransportReceptionNoAnswerError for compatibility with callers written
// against the older name.
const TransportReceptionError = TransportReceptionNoAnswerError

func (k Kind) String() string {
	switch k {
	case Unspecified:
		return "Unspecified"
	case InvalidArgument:
		return "InvalidArgument"
	case NotSupported:
		return "NotSupported"
	case TransportChecksumError:
		return "TransportChecksumError"
	case TransportReceptionNoAnswerError:
		return "TransportReceptionNoAnswerError"
	case TransportReceptionMissingDataError:
		return "TransportReceptionMissingDataError"
	case TransportTransmissionError:
		return "TransportTransmissionError"
	case DeviceNotInitialized:
		return "DeviceNotInitialized"
	case DeviceStatisticsNotSupported:
		return "DeviceStatisticsNotSupported"
	case DeviceUptimeNotSupported:
		return "DeviceUptimeNotSupported"
	case DeviceRejectedBusAddress:
		return "DeviceRejectedBusAddress"
	case DeviceStaticStorageAddressSizeError:
		return "DeviceStaticStorageAddressSizeError"
	case DeviceStaticStorageWriteError:
		return "DeviceStaticStorageWriteError"
	case NoAssertionDetected:
		return "NoAssertionDetected"
	case ExtensionCommandRejected:
		return "ExtensionCommandRejected"
	default:
		return "Unknown"
	}
}

// Error is a Kind wrapped as an error, optionally carrying an underlying
// cause (e.g. the serial back-end's own error).
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ferr.New(SomeKind)) compare by Kind alone,
// ignoring Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error with no underlying cause.
func New(k Kind) *Error { return &Error{Kind: k} }

// Wrap builds an *Error carrying cause.
func Wrap(k Kind, cause error) *Error { return &Error{Kind: k, Cause: cause} }

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise returns Unspecified, false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unspecified, false
}
