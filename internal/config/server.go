package config

import (
	"fmt"
	"strings"

	"github.com/kiwitech/pterobackup/internal/apperr"
)

// ServerType selects which of the two managed servers is backed up.
// Adding a server means widening this enum and Config together.
type ServerType int

const (
	// ServerSmp is the survival server.
	ServerSmp ServerType = iota + 1
	// ServerCmp is the creative server.
	ServerCmp
)

// ServerTypes lists every valid server type, in CLI help order.
var ServerTypes = []ServerType{ServerSmp, ServerCmp}

// ParseServerType parses "smp" or "cmp" (case-insensitive).
func ParseServerType(s string) (ServerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smp":
		return ServerSmp, nil
	case "cmp":
		return ServerCmp, nil
	default:
		return 0, apperr.Config("invalid server", fmt.Errorf("unknown server type %q (expected smp or cmp)", s))
	}
}

// String returns the lowercase CLI form.
func (t ServerType) String() string {
	switch t {
	case ServerSmp:
		return "smp"
	case ServerCmp:
		return "cmp"
	default:
		return fmt.Sprintf("ServerType(%d)", int(t))
	}
}

// Upper returns the uppercase form used in archive and object names.
func (t ServerType) Upper() string {
	return strings.ToUpper(t.String())
}

// Description is the help text shown for the server argument.
func (t ServerType) Description() string {
	switch t {
	case ServerSmp:
		return "Survival server"
	case ServerCmp:
		return "Creative server"
	default:
		return ""
	}
}
