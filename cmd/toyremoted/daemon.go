package main

import (
	"context"
	"log/slog"
	"time"

	"toyremote/remote"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// runDaemon is the single owner of the session. Every other goroutine (IPC,
// Buttplug client, state websocket) reaches it through the events channel.
//
//   - Events are applied to the session one at a time.
//   - Session notifications become Commands (broadcasts, pattern saves).
//   - Commands run after the event that produced them, through runEffect.
//
// ============================================================================

// runDaemon ticks the session every remote.TickInterval and applies incoming events.
//
// Shutdown semantics:
//   - On ctx cancel the session is closed (devices stopped) and pending commands flushed.
//   - Exits cleanly when the events channel is closed.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	st *daemonState,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if st == nil {
		logger.Error("daemon state is nil")
		return
	}

	ticker := time.NewTicker(remote.TickInterval)
	defer ticker.Stop()

	var eventQueue []Event
	var cmdQueue []Command

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			st.applyEvent(ev)
			cmdQueue = append(cmdQueue, st.takeCommands()...)
		}
		st.publishStatusIfChanged()
		cmdQueue = append(cmdQueue, st.takeCommands()...)
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(st.library, broadcasts, cmd, logger, func(next Command) {
				cmdQueue = append(cmdQueue, next)
			})
		}
	}

	shutdown := func(reason string) {
		logger.Info("daemon stopping", "reason", reason)
		st.session.Close()
		cmdQueue = append(cmdQueue, st.takeCommands()...)
		flushCommands()
	}

	for {
		select {
		case <-ctx.Done():
			shutdown("context canceled")
			return

		case ev, ok := <-events:
			if !ok {
				shutdown("events channel closed")
				return
			}
			eventQueue = append(eventQueue, ev)
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			eventQueue = append(eventQueue, Tick{Now: now})
			flushEvents()
			flushCommands()
		}
	}
}
