package shortrange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned for inbound text that matches no command, or
// a command with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// CommandKind enumerates the inbound command vocabulary.
type CommandKind int

const (
	CmdRequestImage CommandKind = iota + 1
	CmdRequestDirectories
	CmdRequestDirectory
	CmdRequestIP
	CmdRequestVersion
	CmdRequestErrors
	CmdUpdateSetting
	CmdFlashLEDs
	CmdDisconnect
	CmdRestart
)

var exactCommands = map[string]CommandKind{
	"request.image":       CmdRequestImage,
	"request.directories": CmdRequestDirectories,
	"request.ip":          CmdRequestIP,
	"request.version":     CmdRequestVersion,
	"request.errors":      CmdRequestErrors,
	"flash.leds":          CmdFlashLEDs,
	"disconnect":          CmdDisconnect,
	"restart":             CmdRestart,
}

const (
	directoryPrefix = "request.directory:"
	settingPrefix   = "update.setting."
)

func (k CommandKind) String() string {
	for name, kind := range exactCommands {
		if kind == k {
			return name
		}
	}
	switch k {
	case CmdRequestDirectory:
		return "request.directory"
	case CmdUpdateSetting:
		return "update.setting"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is one decoded inbound message.
type Command struct {
	Kind CommandKind
	// Arg is the directory id for CmdRequestDirectory.
	Arg string
	// Setting and Value are set for CmdUpdateSetting.
	Setting string
	Value   string
}

// Handler runs one command.
type Handler func(Command) error

// ParseCommand decodes one inbound message. Surrounding whitespace and NUL
// padding are ignored.
func ParseCommand(raw string) (Command, error) {
	msg := strings.Trim(raw, " \t\r\n\x00")

	if kind, ok := exactCommands[msg]; ok {
		return Command{Kind: kind}, nil
	}

	if id, ok := strings.CutPrefix(msg, directoryPrefix); ok {
		if id == "" {
			return Command{}, fmt.Errorf("%w: %q missing directory id", ErrUnknownCommand, msg)
		}
		return Command{Kind: CmdRequestDirectory, Arg: id}, nil
	}

	if rest, ok := strings.CutPrefix(msg, settingPrefix); ok {
		name, value, found := strings.Cut(rest, ":")
		if !found || name == "" {
			return Command{}, fmt.Errorf("%w: %q expects update.setting.<name>:<value>", ErrUnknownCommand, msg)
		}
		return Command{Kind: CmdUpdateSetting, Setting: name, Value: value}, nil
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg)
}
