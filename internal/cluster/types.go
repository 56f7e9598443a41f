package cluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol tokens. Every message is a single newline-terminated line of
// space-separated tokens, optionally followed by a raw payload whose length
// was announced in the line.
const (
	TokenJoin              = "JOIN"
	TokenList              = "LIST"
	TokenStore             = "STORE"
	TokenStoreTo           = "STORE_TO"
	TokenStoreAck          = "STORE_ACK"
	TokenStoreComplete     = "STORE_COMPLETE"
	TokenLoad              = "LOAD"
	TokenReload            = "RELOAD"
	TokenLoadFrom          = "LOAD_FROM"
	TokenLoadData          = "LOAD_DATA"
	TokenRemove            = "REMOVE"
	TokenRemoveAck         = "REMOVE_ACK"
	TokenRemoveComplete    = "REMOVE_COMPLETE"
	TokenRebalance         = "REBALANCE"
	TokenRebalanceStore    = "REBALANCE_STORE"
	TokenRebalanceComplete = "REBALANCE_COMPLETE"
	TokenAck               = "ACK"

	TokenErrorNotEnoughNodes   = "ERROR_NOT_ENOUGH_DSTORES"
	TokenErrorFileExists       = "ERROR_FILE_ALREADY_EXISTS"
	TokenErrorFileDoesNotExist = "ERROR_FILE_DOES_NOT_EXIST"
	TokenErrorLoad             = "ERROR_LOAD"
	TokenErrorStore            = "ERROR_STORE"
)

// Errors shared by the controller, storage nodes and clients. The ones with a
// protocol token travel over the wire; the rest stay local.
var (
	ErrNotEnoughNodes     = errors.New("not enough storage nodes")
	ErrFileAlreadyExists  = errors.New("file already exists")
	ErrFileDoesNotExist   = errors.New("file does not exist")
	ErrStoreQuorumTimeout = errors.New("store quorum not reached before timeout")
	ErrLoadUnavailable    = errors.New("no eligible replica to load from")
	ErrMalformedRequest   = errors.New("malformed request")
	ErrNodeUnreachable    = errors.New("storage node unreachable")
)

var errorTokens = map[error]string{
	ErrNotEnoughNodes:     TokenErrorNotEnoughNodes,
	ErrFileAlreadyExists:  TokenErrorFileExists,
	ErrFileDoesNotExist:   TokenErrorFileDoesNotExist,
	ErrStoreQuorumTimeout: TokenErrorStore,
	ErrLoadUnavailable:    TokenErrorLoad,
}

// ErrorToken returns the protocol token reporting err to a client.
// The second result is false when err has no wire representation.
func ErrorToken(err error) (string, bool) {
	for sentinel, token := range errorTokens {
		if errors.Is(err, sentinel) {
			return token, true
		}
	}
	return "", false
}

// ErrorFromToken maps an error token received from the controller back to
// its sentinel error, or returns nil if token is not an error token.
func ErrorFromToken(token string) error {
	for sentinel, t := range errorTokens {
		if t == token {
			return sentinel
		}
	}
	return nil
}

// Message is one parsed protocol line.
type Message struct {
	Command string
	Args    []string
}

// NewMessage builds a message from a command and its arguments.
func NewMessage(command string, args ...string) Message {
	return Message{Command: command, Args: args}
}

// ParseMessage splits a protocol line into its command and arguments.
// Runs of whitespace are treated as a single separator.
func ParseMessage(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: empty line", ErrMalformedRequest)
	}
	return Message{Command: fields[0], Args: fields[1:]}, nil
}

// String renders the message as a protocol line without the trailing newline.
func (m Message) String() string {
	if len(m.Args) == 0 {
		return m.Command
	}
	return m.Command + " " + strings.Join(m.Args, " ")
}

// Expect returns an error unless the message carries exactly n arguments.
func (m Message) Expect(n int) error {
	if len(m.Args) != n {
		return fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrMalformedRequest, m.Command, n, len(m.Args))
	}
	return nil
}

// Int parses argument i as a decimal integer.
func (m Message) Int(i int) (int64, error) {
	if i >= len(m.Args) {
		return 0, fmt.Errorf("%w: %s is missing argument %d", ErrMalformedRequest, m.Command, i)
	}
	v, err := strconv.ParseInt(m.Args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %q is not an integer", ErrMalformedRequest, m.Command, m.Args[i])
	}
	return v, nil
}

// Port parses argument i as a TCP port.
func (m Message) Port(i int) (int, error) {
	v, err := m.Int(i)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > 65535 {
		return 0, fmt.Errorf("%w: %s port %d out of range", ErrMalformedRequest, m.Command, v)
	}
	return int(v), nil
}

// Ports parses every argument as a TCP port.
func (m Message) Ports() ([]int, error) {
	ports := make([]int, 0, len(m.Args))
	for i := range m.Args {
		p, err := m.Port(i)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// PortArgs renders ports as protocol arguments.
func PortArgs(ports []int) []string {
	args := make([]string, len(ports))
	for i, p := range ports {
		args[i] = strconv.Itoa(p)
	}
	return args
}
