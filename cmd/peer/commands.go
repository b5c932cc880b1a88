package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/Remote/internal/domain"
	"github.com/dkeye/Remote/internal/protocol"
)

var errUsage = errors.New("usage: approve|reject|grant|revoke <id>, move|down|up <x> <y> [button], keydown|keyup <key>, scroll <dy>, cursor <x> <y>, reset, status, quit")

type command struct {
	name string
	id   domain.ClientID
	// msg is set for control messages sent by a client.
	msg protocol.Message
}

func parseCommand(line string) (command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return command{}, errUsage
	}
	name, args := strings.ToLower(f[0]), f[1:]

	switch name {
	case "reset", "status", "quit":
		if len(args) != 0 {
			return command{}, errUsage
		}
		return command{name: name}, nil
	case "approve", "reject", "grant", "revoke":
		if len(args) != 1 {
			return command{}, errUsage
		}
		return command{name: name, id: domain.ClientID(strings.ToLower(args[0]))}, nil
	case "move", "cursor":
		x, y, err := point(args, 2)
		if err != nil {
			return command{}, err
		}
		if name == "cursor" {
			return command{name: name, msg: protocol.CursorPosition{X: x, Y: y, Timestamp: time.Now().UnixMilli()}}, nil
		}
		return command{name: name, msg: protocol.MouseMove{X: x, Y: y}}, nil
	case "down", "up":
		if len(args) != 2 && len(args) != 3 {
			return command{}, errUsage
		}
		x, y, err := point(args[:2], 2)
		if err != nil {
			return command{}, err
		}
		button := 0
		if len(args) == 3 {
			if button, err = strconv.Atoi(args[2]); err != nil {
				return command{}, fmt.Errorf("button: %w", err)
			}
		}
		if name == "down" {
			return command{name: name, msg: protocol.MouseDown{X: x, Y: y, Button: button}}, nil
		}
		return command{name: name, msg: protocol.MouseUp{X: x, Y: y, Button: button}}, nil
	case "keydown", "keyup":
		if len(args) != 1 {
			return command{}, errUsage
		}
		if name == "keydown" {
			return command{name: name, msg: protocol.KeyDown{Key: args[0]}}, nil
		}
		return command{name: name, msg: protocol.KeyUp{Key: args[0]}}, nil
	case "scroll":
		if len(args) != 1 {
			return command{}, errUsage
		}
		dy, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return command{}, fmt.Errorf("deltaY: %w", err)
		}
		return command{name: name, msg: protocol.Scroll{DeltaY: dy}}, nil
	}
	return command{}, errUsage
}

func point(args []string, n int) (float64, float64, error) {
	if len(args) != n {
		return 0, 0, errUsage
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("y: %w", err)
	}
	return x, y, nil
}
