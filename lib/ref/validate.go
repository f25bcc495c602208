// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parsePrefixedID splits a sigil-prefixed Matrix identifier
// ("@localpart:server") at the first colon. The
// server part may itself contain a colon when it carries a port.
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.IndexByte(identifier, ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	if colonIndex == 1 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid %s %q: empty server", kind, identifier)
	}
	if strings.ContainsAny(identifier, " \t\n") {
		return "", "", fmt.Errorf("invalid %s %q: contains whitespace", kind, identifier)
	}
	return localpart, server, nil
}

// validateRoomID checks a room ID. Room versions before 12 carry a
// ":server" suffix; version 12 IDs are "!" followed by the create
// event hash, with no server. Either form is accepted.
func validateRoomID(identifier string) error {
	if len(identifier) < 2 || identifier[0] != '!' {
		return fmt.Errorf("invalid room ID %q: must start with !", identifier)
	}
	if strings.ContainsAny(identifier, " \t\n") {
		return fmt.Errorf("invalid room ID %q: contains whitespace", identifier)
	}
	colonIndex := strings.IndexByte(identifier, ':')
	if colonIndex == 1 {
		return fmt.Errorf("invalid room ID %q: empty opaque part", identifier)
	}
	if colonIndex == len(identifier)-1 {
		return fmt.Errorf("invalid room ID %q: empty server", identifier)
	}
	return nil
}
