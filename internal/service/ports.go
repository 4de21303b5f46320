package service

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var (
	// Declared ports in a start command.
	portFlagRe  = regexp.MustCompile(`--port[= ](\d{1,5})\b`)
	shortFlagRe = regexp.MustCompile(`(?:^|\s)-p\s+(\d{1,5})\b`)
	portEnvRe   = regexp.MustCompile(`(?:^|\s)PORT=(\d{1,5})\b`)

	// Port-in-use signatures printed by common runtimes.
	conflictRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)EADDRINUSE.*?:(\d{1,5})\b`),
		regexp.MustCompile(`(?i)address already in use.*?:(\d{1,5})\b`),
		regexp.MustCompile(`(?i):(\d{1,5}):?\s+bind: address already in use`),
		regexp.MustCompile(`(?i)port (\d{1,5}) is (?:already )?in use`),
		regexp.MustCompile(`(?i)EADDRINUSE`),
		regexp.MustCompile(`(?i)address already in use`),
	}
)

// DetectPorts returns the TCP ports a command declares, in ascending order.
// Recognised forms are --port=N, --port N, -p N, PORT=N in the command and
// PORT in env.
func DetectPorts(command string, env map[string]string) []int {
	seen := make(map[int]bool)
	add := func(s string) {
		if p, err := strconv.Atoi(s); err == nil && p > 0 && p < 65536 {
			seen[p] = true
		}
	}
	for _, re := range []*regexp.Regexp{portFlagRe, shortFlagRe, portEnvRe} {
		for _, m := range re.FindAllStringSubmatch(command, -1) {
			add(m[1])
		}
	}
	if v, ok := env["PORT"]; ok {
		add(v)
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// PortConflictInLine reports whether a log line says a port is taken. port
// is 0 when the line names no port.
func PortConflictInLine(line string) (port int, ok bool) {
	for _, re := range conflictRes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			if p, err := strconv.Atoi(m[1]); err == nil && p > 0 && p < 65536 {
				return p, true
			}
			continue
		}
		return 0, true
	}
	return 0, false
}

// Occupant identifies the process bound to a port
type Occupant struct {
	PID     int    `json:"pid"`
	Command string `json:"command,omitempty"`
}

// PortInspector answers questions about local TCP ports
type PortInspector interface {
	// InUse reports whether something is listening on port.
	InUse(port int) bool
	// Occupant returns the listening process, or nil when it cannot be determined.
	Occupant(port int) *Occupant
}

// OSPortInspector probes the local network stack
type OSPortInspector struct {
	log *zap.Logger
}

// NewOSPortInspector creates an inspector backed by the operating system.
func NewOSPortInspector(log *zap.Logger) *OSPortInspector {
	if log == nil {
		log = zap.NewNop()
	}
	return &OSPortInspector{log: log}
}

// InUse tries to connect to the port, then to bind it.
func (i *OSPortInspector) InUse(port int) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond); err == nil {
		conn.Close()
		return true
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}

// Occupant looks the listener up with the platform's tooling.
func (i *OSPortInspector) Occupant(port int) *Occupant {
	occ, err := lookupOccupant(port)
	if err != nil {
		i.log.Debug("port occupant lookup failed", zap.Int("port", port), zap.Error(err))
		return nil
	}
	return occ
}
