// Package protocol encodes and decodes the newline-delimited text protocol
// spoken with the door controller over the serial link.
//
// Inbound:  OPEN CAMERA <requestId>
// Outbound: YES | RECOGNIZED <identity> | NO
//
// The package never touches the link itself.
package protocol

import "strings"

const (
	openCameraPrefix = "OPEN CAMERA"

	// UnknownRequestID is used when the controller omits the request id.
	UnknownRequestID = "unknown"
)

// Command is a parsed OPEN CAMERA request.
type Command struct {
	RequestID string
}

// Parse turns one inbound line into a Command. Lines that are not OPEN CAMERA
// requests return ok=false; malformed requests degrade to UnknownRequestID.
func Parse(line string) (cmd Command, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, openCameraPrefix) {
		return Command{}, false
	}

	parts := strings.Fields(line)
	if len(parts) < 3 {
		return Command{RequestID: UnknownRequestID}, true
	}
	return Command{RequestID: parts[2]}, true
}

// DecisionKind enumerates outbound messages.
type DecisionKind int

const (
	Ack DecisionKind = iota
	Recognized
	Denied
)

// Decision is one outbound message.
type Decision struct {
	Kind     DecisionKind
	Identity string // only for Recognized
}

// AckDecision acknowledges a request, before any attempt is made.
func AckDecision() Decision { return Decision{Kind: Ack} }

// RecognizedDecision unlocks for identity.
func RecognizedDecision(identity string) Decision {
	return Decision{Kind: Recognized, Identity: identity}
}

// DeniedDecision reports an exhausted attempt budget.
func DeniedDecision() Decision { return Decision{Kind: Denied} }

// Encode serializes a decision as a single newline-terminated line.
func Encode(d Decision) string {
	switch d.Kind {
	case Ack:
		return "YES\n"
	case Recognized:
		return "RECOGNIZED " + d.Identity + "\n"
	default:
		return "NO\n"
	}
}
