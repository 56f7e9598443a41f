package cluster

import (
	"fmt"
	"strconv"
)

// Transfer asks a storage node to push one of its files to other nodes.
type Transfer struct {
	Filename string
	Targets  []int
}

// RebalanceInstruction is the combined per-node work of a rebalance cycle.
// A node performs every Send before any Remove.
type RebalanceInstruction struct {
	Send   []Transfer
	Remove []string
}

// Empty reports whether the instruction carries no work.
func (r RebalanceInstruction) Empty() bool {
	return len(r.Send) == 0 && len(r.Remove) == 0
}

// Args encodes the instruction as REBALANCE arguments:
//
//	n_send {filename n_targets port...}... n_remove filename...
func (r RebalanceInstruction) Args() []string {
	args := []string{strconv.Itoa(len(r.Send))}
	for _, t := range r.Send {
		args = append(args, t.Filename, strconv.Itoa(len(t.Targets)))
		args = append(args, PortArgs(t.Targets)...)
	}
	args = append(args, strconv.Itoa(len(r.Remove)))
	return append(args, r.Remove...)
}

// ParseRebalance decodes the arguments of a REBALANCE message.
func ParseRebalance(m Message) (RebalanceInstruction, error) {
	var out RebalanceInstruction
	pos := 0

	next := func() (string, error) {
		if pos >= len(m.Args) {
			return "", fmt.Errorf("%w: REBALANCE truncated at token %d", ErrMalformedRequest, pos)
		}
		pos++
		return m.Args[pos-1], nil
	}
	count := func() (int, error) {
		tok, err := next()
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: REBALANCE count %q", ErrMalformedRequest, tok)
		}
		return n, nil
	}

	nSend, err := count()
	if err != nil {
		return out, err
	}
	for i := 0; i < nSend; i++ {
		name, err := next()
		if err != nil {
			return out, err
		}
		nTargets, err := count()
		if err != nil {
			return out, err
		}
		if nTargets > len(m.Args)-pos {
			return out, fmt.Errorf("%w: REBALANCE announces %d targets for %s, only %d token(s) left",
				ErrMalformedRequest, nTargets, name, len(m.Args)-pos)
		}
		t := Transfer{Filename: name, Targets: make([]int, 0, nTargets)}
		for j := 0; j < nTargets; j++ {
			tok, err := next()
			if err != nil {
				return out, err
			}
			port, err := strconv.Atoi(tok)
			if err != nil || port <= 0 || port > 65535 {
				return out, fmt.Errorf("%w: REBALANCE port %q", ErrMalformedRequest, tok)
			}
			t.Targets = append(t.Targets, port)
		}
		out.Send = append(out.Send, t)
	}

	nRemove, err := count()
	if err != nil {
		return out, err
	}
	for i := 0; i < nRemove; i++ {
		name, err := next()
		if err != nil {
			return out, err
		}
		out.Remove = append(out.Remove, name)
	}
	if pos != len(m.Args) {
		return out, fmt.Errorf("%w: REBALANCE has %d trailing token(s)", ErrMalformedRequest, len(m.Args)-pos)
	}
	return out, nil
}
