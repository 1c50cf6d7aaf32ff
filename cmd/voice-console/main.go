package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/voice-console/internal/audio"
	"github.com/user/voice-console/internal/backend"
	"github.com/user/voice-console/internal/config"
	"github.com/user/voice-console/internal/playback"
	"github.com/user/voice-console/internal/session"
	"github.com/user/voice-console/internal/store"
	"github.com/user/voice-console/internal/viz"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	log.Info().Msg("Starting voice console")

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout)
	if !client.Health(context.Background()) {
		log.Warn().Str("url", cfg.BackendURL).Msg("Backend not reachable, voice turns will fail until it is")
	}

	vad, err := audio.NewWebRTCVAD(cfg.NoiseSuppression)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create VAD")
	}
	defer vad.Close()

	capture := audio.NewCapture(vad, cfg.VADEnabled)
	defer capture.Close()

	player := playback.NewPlayer()
	defer player.Close()

	settings := session.Settings{
		InteractionMode:   session.InteractionMode(cfg.InteractionMode),
		PlaybackVolume:    cfg.PlaybackVolume,
		VADEnabled:        cfg.VADEnabled,
		VoiceIdentity:     cfg.VoiceIdentity,
		AutoPlayResponses: cfg.AutoPlayResponses,
		NoiseSuppression:  cfg.NoiseSuppression,
		PersistRecordings: cfg.PersistRecordings,
	}

	controller := session.NewController(capture, player, client, settings, cfg.UserID)
	controller.SetSilenceHold(time.Duration(cfg.SilenceHoldMS) * time.Millisecond)
	defer controller.Close()

	fileStore, err := store.NewFileStore(cfg.StoreDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create local store")
	}
	controller.OnExchange(func(exchange session.Exchange) {
		fmt.Printf("\nYou:   %s\n%s: %s\n> ", exchange.Transcript, exchange.Agent, exchange.Reply)
		if err := fileStore.AppendExchange(controller.ConversationID(), exchange); err != nil {
			log.Warn().Err(err).Msg("Failed to save exchange locally")
		}
		if len(exchange.Audio) > 0 {
			if _, err := fileStore.SaveAudio(exchange.SessionID, exchange.Audio); err != nil {
				log.Warn().Err(err).Msg("Failed to save capture audio locally")
			}
		}
	})

	repl := &console{
		controller: controller,
		client:     client,
		capture:    capture,
		player:     player,
		userID:     cfg.UserID,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go repl.run(ctx)

	log.Info().Msg("Console is running. Type 'help' for commands, Ctrl+C to exit.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("Shutting down...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() {
		done <- controller.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		} else {
			log.Info().Msg("Stopped gracefully")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
	}
}

type console struct {
	controller *session.Controller
	client     *backend.Client
	capture    *audio.Capture
	player     *playback.Player
	userID     string
}

func (co *console) run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch fields[0] {
		case "help":
			co.printHelp()
		case "talk":
			co.talk(ctx)
		case "say":
			co.say(ctx, strings.TrimSpace(strings.TrimPrefix(line, "say")))
		case "synth":
			co.synth(ctx, strings.TrimSpace(strings.TrimPrefix(line, "synth")))
		case "recordings":
			co.listRecordings(ctx)
		case "replay":
			if len(fields) < 2 {
				fmt.Println("usage: replay <recording-id>")
				break
			}
			co.replay(ctx, fields[1])
		case "delete":
			if len(fields) < 2 {
				fmt.Println("usage: delete <recording-id>")
				break
			}
			co.deleteRecording(ctx, fields[1])
		case "vol":
			if len(fields) < 2 {
				fmt.Println("usage: vol <0-100>")
				break
			}
			co.setVolume(fields[1])
		case "mode":
			if len(fields) < 2 {
				fmt.Println("usage: mode push_to_talk|continuous|disabled")
				break
			}
			co.controller.UpdateSettings(func(s *session.Settings) {
				s.InteractionMode = session.InteractionMode(fields[1])
			})
		case "stop":
			co.controller.StopPlayback()
		case "status":
			co.printStatus()
		case "quit", "exit":
			// Mirror Ctrl+C
			p, _ := os.FindProcess(os.Getpid())
			p.Signal(os.Interrupt)
			return
		default:
			fmt.Println("Unknown command. Type 'help'.")
		}

		fmt.Print("> ")
	}
}

func (co *console) printHelp() {
	fmt.Println(`Commands:
  talk              start/stop a voice turn (push-to-talk toggle)
  say <text>        send a text turn to the agent (voice reply)
  synth <text>      speak text in the current agent's voice
  recordings        list saved recordings
  replay <id>       play back a saved recording
  delete <id>       delete a saved recording
  vol <0-100>       set playback volume
  mode <m>          push_to_talk | continuous | disabled
  stop              stop current playback
  status            show session state
  quit              exit`)
}

func (co *console) talk(ctx context.Context) {
	if co.controller.State() == session.Recording {
		if err := co.controller.ReleaseTalk(); err != nil {
			fmt.Println(co.controller.ErrorMessage())
		}
		return
	}

	if err := co.controller.PressTalk(); err != nil {
		fmt.Println(co.controller.ErrorMessage())
		return
	}
	if co.controller.State() == session.Recording {
		fmt.Println("Recording... type 'talk' again to stop.")
		go co.runMeter(ctx)
	}
}

// runMeter draws the live level meter while the session is active.
func (co *console) runMeter(ctx context.Context) {
	animator := &viz.Animator{
		Interval: 50 * time.Millisecond,
		Source:   co,
		Draw: func(frame viz.Frame) {
			fmt.Printf("\r[%s]", viz.ASCIIBars(frame, 40))
		},
	}
	animator.Run(ctx)
	fmt.Print("\r" + strings.Repeat(" ", 44) + "\r")
}

// Active and Frame make the console a viz.Source spanning both engines.
func (co *console) Active() bool {
	switch co.controller.State() {
	case session.Recording, session.Processing, session.Playing:
		return true
	default:
		return false
	}
}

func (co *console) Frame() viz.Frame {
	return viz.Frame{
		Amplitude: co.capture.Level(),
		Bins:      co.player.Bins(),
	}
}

// say runs a typed turn through the hybrid voice endpoint: agent reply plus
// synthesized audio in one call.
func (co *console) say(ctx context.Context, text string) {
	if text == "" {
		fmt.Println("usage: say <text>")
		return
	}

	resp, err := co.client.AgentChat(ctx, backend.AgentChatRequest{
		Message:        text,
		ConversationID: co.controller.ConversationID(),
		UserID:         co.userID,
		EnableVoice:    co.controller.Settings().AutoPlayResponses,
	})
	if err != nil {
		fmt.Println("Chat failed:", err)
		return
	}

	fmt.Printf("%s: %s\n", resp.CurrentAgent, resp.Response)

	if resp.AudioBase64 != "" && co.controller.Settings().AutoPlayResponses {
		data, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			log.Warn().Err(err).Msg("Bad audio payload in chat response")
			return
		}
		if err := co.controller.PlayRecording(data); err != nil {
			fmt.Println(co.controller.ErrorMessage())
		}
	}
}

// synth speaks arbitrary text in the current agent's voice preset.
func (co *console) synth(ctx context.Context, text string) {
	if text == "" {
		fmt.Println("usage: synth <text>")
		return
	}

	agent := co.controller.CurrentAgent()
	if agent == "" {
		agent = co.controller.Settings().VoiceIdentity
	}

	data, err := co.client.Synthesize(ctx, text, agent)
	if err != nil {
		fmt.Println("Synthesis failed:", err)
		return
	}
	if err := co.controller.PlayRecording(data); err != nil {
		fmt.Println(co.controller.ErrorMessage())
	}
}

func (co *console) listRecordings(ctx context.Context) {
	recordings, err := co.client.ListRecordings(ctx, co.controller.ConversationID(), "", 20)
	if err != nil {
		fmt.Println("List failed:", err)
		return
	}
	if len(recordings) == 0 {
		fmt.Println("No recordings.")
		return
	}
	for _, rec := range recordings {
		fmt.Printf("%s  %6.1fs  %8dB  %s\n", rec.RecordingID, rec.Duration, rec.FileSize, rec.Transcript)
	}
}

func (co *console) replay(ctx context.Context, id string) {
	_, data, err := co.client.GetRecording(ctx, id)
	if err != nil {
		fmt.Println("Fetch failed:", err)
		return
	}
	if err := co.controller.PlayRecording(data); err != nil {
		fmt.Println(co.controller.ErrorMessage())
		return
	}
	go co.runMeter(ctx)
}

func (co *console) deleteRecording(ctx context.Context, id string) {
	if err := co.client.DeleteRecording(ctx, id); err != nil {
		fmt.Println("Delete failed:", err)
		return
	}
	fmt.Println("Deleted.")
}

func (co *console) setVolume(arg string) {
	vol, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Println("usage: vol <0-100>")
		return
	}
	co.controller.UpdateSettings(func(s *session.Settings) {
		s.PlaybackVolume = vol
	})
}

func (co *console) printStatus() {
	fmt.Printf("state=%s conversation=%s agent=%s\n",
		co.controller.State(),
		co.controller.ConversationID(),
		co.controller.CurrentAgent())
	if msg := co.controller.ErrorMessage(); msg != "" {
		fmt.Println("error:", msg)
	}
}

func setupLogging(level string) {
	// Setup zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
