package transport

import "fmt"

// ErrorKind classifies a transport-level error. Each kind maps to a
// QUIC CONNECTION_CLOSE error code via transportErrorCode.
type ErrorKind uint8

// Error kinds. See spec §7.
const (
	InternalError ErrorKind = iota
	ProtocolViolation
	FrameEncodingError
	TransportParameterError
	ConnectionIDLimitError
	InvalidToken
	NoViableVersion
	VersionNegotiationError
	AckedUnsentPacket
	KeyUpdateError

	CryptoAlert
	EchRetry

	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	CryptoBufferExceeded

	KeysExhausted
	KeyUpdateBlocked
	IdleTimeout
	StatelessReset

	PeerError
)

var errorKindNames = [...]string{
	InternalError:           "internal_error",
	ProtocolViolation:       "protocol_violation",
	FrameEncodingError:      "frame_encoding_error",
	TransportParameterError: "transport_parameter_error",
	ConnectionIDLimitError:  "connection_id_limit_error",
	InvalidToken:            "invalid_token",
	NoViableVersion:         "no_viable_version",
	VersionNegotiationError: "version_negotiation_error",
	AckedUnsentPacket:       "acked_unsent_packet",
	KeyUpdateError:          "key_update_error",
	CryptoAlert:             "crypto_alert",
	EchRetry:                "ech_retry",
	FlowControlError:        "flow_control_error",
	StreamLimitError:        "stream_limit_error",
	StreamStateError:        "stream_state_error",
	FinalSizeError:          "final_size_error",
	CryptoBufferExceeded:    "crypto_buffer_exceeded",
	KeysExhausted:           "keys_exhausted",
	KeyUpdateBlocked:        "key_update_blocked",
	IdleTimeout:             "idle_timeout",
	StatelessReset:          "stateless_reset",
	PeerError:               "peer_error",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) && errorKindNames[k] != "" {
		return errorKindNames[k]
	}
	return fmt.Sprintf("error_kind(%d)", k)
}

// transportErrorCode maps an ErrorKind to its RFC 9000 Section 20.1
// CONNECTION_CLOSE error code. Kinds with no direct wire representation
// (KeyUpdateBlocked is local-only advisory) map to InternalError's code.
func (k ErrorKind) transportErrorCode() uint64 {
	switch k {
	case InternalError, KeyUpdateBlocked:
		return 0x1
	case ProtocolViolation, StreamStateError, FinalSizeError:
		return 0xa
	case FlowControlError:
		return 0x3
	case StreamLimitError:
		return 0x4
	case ConnectionIDLimitError:
		return 0x9
	case FrameEncodingError:
		return 0x7
	case TransportParameterError:
		return 0x8
	case CryptoBufferExceeded:
		return 0xd
	case KeyUpdateError:
		return 0xe
	case AckedUnsentPacket:
		return 0xf
	case NoViableVersion, VersionNegotiationError:
		return 0x1
	case InvalidToken:
		return 0xb
	case IdleTimeout, StatelessReset:
		return 0x0
	default:
		return 0x1
	}
}

func errorCodeString(code uint64) string {
	switch code {
	case 0x0:
		return "no_error"
	case 0x1:
		return "internal_error"
	case 0x2:
		return "connection_refused"
	case 0x3:
		return "flow_control_error"
	case 0x4:
		return "stream_limit_error"
	case 0x5:
		return "stream_state_error"
	case 0x6:
		return "final_size_error"
	case 0x7:
		return "frame_encoding_error"
	case 0x8:
		return "transport_parameter_error"
	case 0x9:
		return "connection_id_limit_error"
	case 0xa:
		return "protocol_violation"
	case 0xb:
		return "invalid_token"
	case 0xc:
		return "application_error"
	case 0xd:
		return "crypto_buffer_exceeded"
	case 0xe:
		return "key_update_error"
	case 0xf:
		return "aead_limit_reached"
	case 0x10:
		return "no_viable_path"
	default:
		if code >= 0x100 && code <= 0x1ff {
			return "crypto_error"
		}
		return fmt.Sprintf("unknown_error(%#x)", code)
	}
}

// Error is a transport-level error, surfaced from any Conn operation and,
// when fatal, the basis of the CONNECTION_CLOSE frame sent to the peer.
type Error struct {
	Kind    ErrorKind
	Message string
	// Code is set for errors that wrap a raw code received from the peer
	// (Kind == PeerError) or a TLS alert (Kind == CryptoAlert).
	Code uint64
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func newPeerError(code uint64, msg string) *Error {
	return &Error{Kind: PeerError, Message: msg, Code: code}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// TransportCode returns the QUIC CONNECTION_CLOSE error code for e.
func (e *Error) TransportCode() uint64 {
	if e.Kind == PeerError || e.Kind == CryptoAlert {
		return e.Code
	}
	return e.Kind.transportErrorCode()
}

var (
	errShortBuffer    = newError(InternalError, "short buffer")
	errInvalidToken   = newError(InvalidToken, "invalid retry token")
	errFlowControl    = newError(FlowControlError, "flow control limit exceeded")
	errUnknownVersion = newError(NoViableVersion, "unsupported version")
)

func sprint(values ...interface{}) string {
	return fmt.Sprint(values...)
}
