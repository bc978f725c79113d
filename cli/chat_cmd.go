package cli

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/DamOTclese/chatbetween/pkg/chat"
	"github.com/DamOTclese/chatbetween/pkg/chatlog"
	"github.com/DamOTclese/chatbetween/pkg/metrics"
	"github.com/DamOTclese/chatbetween/pkg/registry"
	"github.com/DamOTclese/chatbetween/pkg/transport"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Exit statuses for the fatal startup failures. Construction itself only
// returns errors; mapping them onto process exits happens here, at the
// outermost caller.
const (
	ExitNoSocket = 10
	ExitNoBind   = 11
)

const (
	commandExit = "exit"
	commandSend = ":send"
	commandGet  = ":get"
	commandLog  = ":log"

	// loopSleep keeps the cooperative poll from spinning a core.
	loopSleep = 5 * time.Millisecond
)

func ChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Join the broadcast chat on the local network segment",
		Long: `Starts the cooperative polling loop: inbound datagrams are displayed as
chat text or assembled into files, console lines are broadcast, and stalled
inbound transfers are reclaimed. Type "exit" to quit, ":send <path>" to
broadcast a file, ":get <path>" to request one from all listeners, and
":log" to toggle the chat log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetChatConfig(cmd)

			tr, err := transport.New(transport.Config{
				BasePort: cfg.BasePort,
				MaxChunk: cfg.ChunkSize,
				Holdoff:  time.Duration(cfg.HoldoffMillis) * time.Millisecond,
			})
			if err != nil {
				internal.Error("transport startup failed", internal.Fields{
					internal.FieldPort:  cfg.BasePort,
					internal.FieldError: err.Error(),
				})
				switch {
				case errors.Is(err, transport.ErrNoSocket):
					os.Exit(ExitNoSocket)
				case errors.Is(err, transport.ErrNoBind):
					os.Exit(ExitNoBind)
				}
				return err
			}
			defer tr.Close()

			return runChatLoop(cfg, tr)
		},
	}
}

func runChatLoop(cfg *internal.ChatConfig, tr *transport.Transport) error {
	collector := metrics.NewChatCollector("")

	reg := registry.New(registry.Options{
		Dir:             cfg.DownloadDir,
		Timeout:         time.Duration(cfg.TransferTimeoutSeconds) * time.Second,
		WriteRetryLimit: cfg.WriteRetryLimit,
		NameProbeLimit:  cfg.NameProbeLimit,
		Metrics:         collector,
	})
	defer reg.Close()

	engine := chat.New(tr, reg, chat.Options{
		ChunkSize: cfg.ChunkSize,
		Metrics:   collector,
	})

	var logWriter *chatlog.Writer
	if cfg.ChatLogEnabled {
		w, err := chatlog.New(cfg.ChatLogDir, time.Now())
		if err != nil {
			internal.Warn("chat logging disabled", internal.Fields{
				internal.FieldError: err.Error(),
			})
		} else {
			logWriter = w
			defer logWriter.Close()
		}
	}

	// Both console and network reads are polled in the same loop, so
	// stdin has to stop blocking for the duration.
	if err := transport.SetBlocking(os.Stdin, false); err != nil {
		internal.Warn("unable to make stdin non-blocking", internal.Fields{
			internal.FieldError: err.Error(),
		})
	}
	defer func() { _ = transport.SetBlocking(os.Stdin, true) }()

	console := NewInputAccumulator(os.Stdin, MaxConsoleInput)

	pterm.Printfln("listening on udp port %d, transmitting to %d",
		tr.ReceivePort(), tr.TransmitPort())

	for {
		if text := engine.ReadData(); len(text) > 0 {
			line := strings.TrimRight(string(text), "\x00")
			pterm.Print(line)
			if logWriter != nil {
				logWriter.Append(line)
			}
		}

		if line, ok := console.Line(); ok {
			if quit := handleConsoleLine(engine, logWriter, line); quit {
				printSessionSummary(collector)
				return nil
			}
		}

		engine.TransferTimedOut()

		time.Sleep(loopSleep)
	}
}

// handleConsoleLine runs one completed console line and reports whether
// the operator asked to exit.
func handleConsoleLine(engine *chat.Engine, logWriter *chatlog.Writer, line string) bool {
	switch {
	case strings.HasPrefix(line, commandExit):
		return true

	case strings.HasPrefix(line, commandSend):
		path := line[len(commandSend):]
		if err := engine.SendFile(path, false); err != nil {
			if errors.Is(err, chat.ErrFileNotFound) {
				pterm.Printfln("File [%s] was not found", strings.TrimSpace(path))
			} else {
				pterm.Printfln("Send failed: %v", err)
			}
		}

	case strings.HasPrefix(line, commandGet):
		path := line[len(commandGet):]
		if err := engine.GetFile(path); err != nil {
			pterm.Printfln("Request failed: %v", err)
		} else {
			pterm.Printfln("File [%s] was requested", strings.TrimSpace(path))
		}

	case strings.HasPrefix(line, commandLog):
		if logWriter != nil {
			logWriter.SetEnabled(!logWriter.Enabled())
			pterm.Printfln("chat logging now %v", logWriter.Enabled())
		}

	default:
		if err := engine.SendText(line); err != nil {
			pterm.Printfln("Send failed: %v", err)
		}
		if logWriter != nil {
			logWriter.Append(line)
		}
	}
	return false
}

func printSessionSummary(collector *metrics.ChatCollector) {
	s := collector.Snapshot()
	pterm.Printfln("session: %d frames out (%d bytes), %d frames in (%d bytes)",
		s.FramesSent, s.BytesSent, s.FramesReceived, s.BytesReceived)
	if s.TransfersStarted > 0 || s.TransfersTimedOut > 0 {
		pterm.Printfln("transfers: %d started, %d completed, %d aborted, %d timed out, %d dropped",
			s.TransfersStarted, s.TransfersCompleted, s.TransfersAborted,
			s.TransfersTimedOut, s.TransfersDropped)
	}
}
