package main

import (
	"log/slog"
)

// runEffect executes a single Command. It may do I/O but never touches the session;
// results flow back to the daemon loop as follow-up commands via emit.
func runEffect(
	library *PatternLibrary,
	broadcasts chan<- StateBroadcast,
	cmd Command,
	logger *slog.Logger,
	emit func(Command),
) {
	switch c := cmd.(type) {
	case CmdBroadcast:
		if broadcasts == nil {
			return
		}
		// Never block the daemon loop on UI fanout.
		select {
		case broadcasts <- c.Broadcast:
		default:
			logger.Warn("broadcast queue full, dropping", "command", cmd.String())
		}

	case CmdSavePattern:
		if library == nil {
			logger.Error("no pattern library, recording discarded", "id", c.Pattern.ID)
			return
		}
		path, err := library.Save(c.Pattern)
		if err != nil {
			logger.Error("save recording failed", "id", c.Pattern.ID, "error", err)
			emit(CmdBroadcast{BroadcastCommandFailed{Event: "stop_recording", Error: err.Error()}})
			return
		}
		logger.Info("recording saved", "id", c.Pattern.ID, "name", c.Pattern.Name, "path", path)
		emit(CmdBroadcast{BroadcastPatternSaved{ID: c.Pattern.ID, Name: c.Pattern.Name, Path: path}})

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
