//go:build windows

package service

import "errors"

// lookupOccupant is not implemented on Windows; conflicts there offer
// Ignore and Adopt only.
func lookupOccupant(port int) (*Occupant, error) {
	return nil, errors.New("port owner lookup not supported on windows")
}
