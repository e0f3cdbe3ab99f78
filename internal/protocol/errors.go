package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBusy            = "E_BUSY"

	// Placement layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownModule = "E_UNKNOWN_MODULE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrConflict      = "E_CONFLICT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrUnknownModule:   {},
	ErrInvalidTarget:   {},
	ErrConflict:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
