// Package identity defines a registry node's addressable identity.
package identity

import (
	"encoding/json"
	"fmt"
)

// Identity names one registry node: where to reach it, and whether it is
// allowed to hold the master lease.
type Identity struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Eligible bool   `json:"eligible"`
}

// String renders "host:port", the member id used in coordinator membership.
func (id Identity) String() string {
	return fmt.Sprintf("%s:%d", id.Host, id.Port)
}

// Equal reports whether id and other name the same node.
func (id Identity) Equal(other Identity) bool {
	return id.Host == other.Host && id.Port == other.Port
}

// Less imposes the deterministic total order MasterElector uses to pick a
// winner among eligible candidates: lowest (host, port) wins.
func (id Identity) Less(other Identity) bool {
	if id.Host != other.Host {
		return id.Host < other.Host
	}
	return id.Port < other.Port
}

// Marshal encodes id as the membership entry's value.
func (id Identity) Marshal() ([]byte, error) { return json.Marshal(id) }

// Unmarshal decodes a membership entry's value into an Identity.
func Unmarshal(data []byte) (Identity, error) {
	var id Identity
	err := json.Unmarshal(data, &id)
	return id, err
}
