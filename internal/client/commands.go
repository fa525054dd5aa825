package client

import "strings"

// inputKind classifies one line entered at the prompt (§4.6).
type inputKind int

const (
	// inputControl is ":command args…".
	inputControl inputKind = iota
	// inputSwitch is "@name" or "@name:" — switch active channel.
	inputSwitch
	// inputRoute is "@name: rest" — send rest to a specific channel,
	// active channel unchanged.
	inputRoute
	// inputStdin is a plain line sent to the active channel.
	inputStdin
)

// parsedInput is the result of classifying one prompt line.
type parsedInput struct {
	kind    inputKind
	command string   // control command word, without the leading ':'
	args    []string // control command arguments
	channel string   // target channel for inputSwitch/inputRoute
	text    string   // payload for inputRoute/inputStdin
}

// parseInputLine classifies line per the rules in §4.6: ":command
// args…", "@name", "@name: rest", "@name:" (alias of "@name"), or a
// plain line routed to the active channel.
func parseInputLine(line string) parsedInput {
	if strings.HasPrefix(line, ":") {
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			return parsedInput{kind: inputControl}
		}
		return parsedInput{kind: inputControl, command: fields[0], args: fields[1:]}
	}

	if strings.HasPrefix(line, "@") {
		rest := line[1:]
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			return parsedInput{kind: inputSwitch, channel: rest}
		}
		name := rest[:colon]
		payload := strings.TrimPrefix(rest[colon+1:], " ")
		if payload == "" {
			return parsedInput{kind: inputSwitch, channel: name}
		}
		return parsedInput{kind: inputRoute, channel: name, text: payload}
	}

	return parsedInput{kind: inputStdin, text: line}
}
