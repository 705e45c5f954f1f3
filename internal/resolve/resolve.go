// Package resolve decides the direction of a whole-snapshot sync.
package resolve

import "fmt"

// Decision is the outcome of a sync call.
type Decision string

const (
	UseClient Decision = "use_client"
	UseServer Decision = "use_server"
	Noop      Decision = "noop"
)

// Input describes both sides of a sync.
type Input struct {
	ClientUpdatedAtMs int64
	ServerUpdatedAtMs int64
	ClientEmpty       bool
	ServerHasSnapshot bool
	ServerEmpty       bool
}

// Decide applies last-writer-wins with empty-data protection:
//
//  1. no server snapshot: use_client, or noop when the client is empty too;
//  2. empty client, non-empty server: use_server;
//  3. empty server, non-empty client: use_client;
//  4. otherwise the greater logical timestamp wins, ties are noop.
func Decide(in Input) Decision {
	if !in.ServerHasSnapshot {
		if in.ClientEmpty {
			return Noop
		}
		return UseClient
	}

	// пустой клиент не может затереть непустой сервер
	if in.ClientEmpty && !in.ServerEmpty {
		return UseServer
	}

	if in.ServerEmpty && !in.ClientEmpty {
		return UseClient
	}

	switch {
	case in.ServerUpdatedAtMs > in.ClientUpdatedAtMs:
		return UseServer
	case in.ClientUpdatedAtMs > in.ServerUpdatedAtMs:
		return UseClient
	default:
		return Noop
	}
}

// Mode selects between the natural decision and an operator override.
type Mode int

const (
	ModeNatural Mode = iota
	ModeForceClient
	ModeForceServer
)

// ParseMode converts the wire value of force_decision. An empty string is
// ModeNatural.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "":
		return ModeNatural, nil
	case string(UseClient):
		return ModeForceClient, nil
	case string(UseServer):
		return ModeForceServer, nil
	default:
		return ModeNatural, fmt.Errorf("unknown force decision %q", s)
	}
}

// String returns the wire value of the mode.
func (m Mode) String() string {
	switch m {
	case ModeForceClient:
		return string(UseClient)
	case ModeForceServer:
		return string(UseServer)
	default:
		return "natural"
	}
}

// Apply returns the forced decision for override modes and Decide(in)
// otherwise.
func Apply(mode Mode, in Input) Decision {
	switch mode {
	case ModeForceClient:
		return UseClient
	case ModeForceServer:
		return UseServer
	default:
		return Decide(in)
	}
}
