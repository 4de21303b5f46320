//go:build !windows

package service

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// lookupOccupant asks lsof for the process listening on port. lsof -F
// prints one field per line: p<pid> then c<command>.
func lookupOccupant(port int) (*Occupant, error) {
	if _, err := exec.LookPath("lsof"); err != nil {
		return nil, err
	}
	out, err := exec.Command("lsof", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-Fpc").Output()
	if err != nil {
		return nil, fmt.Errorf("lsof: %w", err)
	}
	return parseLsof(out)
}

func parseLsof(out []byte) (*Occupant, error) {
	var occ *Occupant
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch line[0] {
		case 'p':
			if occ != nil {
				return occ, nil
			}
			pid, err := strconv.Atoi(line[1:])
			if err != nil {
				continue
			}
			occ = &Occupant{PID: pid}
		case 'c':
			if occ != nil && occ.Command == "" {
				occ.Command = line[1:]
			}
		}
	}
	if occ == nil {
		return nil, errors.New("no listener found")
	}
	return occ, nil
}
