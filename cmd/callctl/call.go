package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mossy-p/call-signaling/internal/call"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/media"
	"github.com/mossy-p/call-signaling/internal/peer"
	"github.com/mossy-p/call-signaling/internal/signaling"
)

var (
	flagRoom     string
	flagVideo    bool
	flagProfile  string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a room and stay in the call until interrupted",
	Long: `Join a room as a call participant. Local audio is a synthetic silent
source. While the call runs, type:

  m  toggle mute
  v  toggle video
  q  hang up

Ctrl-C also hangs up.

Examples:
  callctl call --room standup
  callctl call --room K7QX2M --video --token $CALL_TOKEN`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context())
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&flagRoom, "room", "", "room id or code")
	f.BoolVar(&flagVideo, "video", false, "send video as well as audio")
	f.StringVar(&flagProfile, "profile", "", "capture profile: desktop or mobile (env DEVICE_PROFILE)")
	f.StringVar(&flagSTUN, "stun", "", "STUN server (env STUN_SERVER)")
	f.StringVar(&flagTURN, "turn", "", "TURN server (env TURN_SERVER)")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	callCmd.MarkFlagRequired("room")
}

func runCall(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cc := cfg.Client
	if flagProfile != "" {
		cc.DeviceProfile = flagProfile
	}
	if flagSTUN != "" {
		cc.STUNServer = flagSTUN
	}
	if flagTURN != "" {
		cc.TURNServer = flagTURN
	}
	if flagTURNUser != "" {
		cc.TURNUser = flagTURNUser
	}
	if flagTURNPass != "" {
		cc.TURNPass = flagTURNPass
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	self, err := userID(flagToken, flagUser)
	if err != nil {
		return err
	}

	api, err := peer.NewPionAPI(logging.NewPionFactory(logger))
	if err != nil {
		return err
	}
	stun, turn := cc.ICEServerURLs()
	dialer := signaling.NewDialer(signaling.Config{
		URL:            cc.SignalingURL,
		Token:          flagToken,
		PingInterval:   cc.PingInterval,
		MaxMissedPongs: cc.MaxMissedPongs,
		JoinTimeout:    cc.JoinTimeout,
	}, logger)

	ended := make(chan call.State, 1)
	orch, err := call.New(call.Options{
		Identity:        call.StaticIdentity(self),
		Media:           &media.SyntheticAcquirer{Logger: logger},
		Signaling:       call.NewSignaler(dialer),
		Transports:      peer.NewPionFactory(api, logger),
		PeerConfig:      peer.NewConfig(stun, turn, cc.TURNUser, cc.TURNPass),
		Profile:         media.Profile(cc.DeviceProfile),
		Retry:           call.RetryPolicy{MaxAttempts: cc.JoinAttempts, Backoff: cc.JoinBackoff},
		QualityInterval: cc.QualityPeriod,
		RestartWindow:   cc.RestartWindow,
		OnEnded:         func(s call.State) { ended <- s },
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	// the call must be torn down on every exit path
	defer orch.EndCall()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	callType := media.CallAudio
	if flagVideo {
		callType = media.CallVideo
	}
	printTitle("Joining %s as %s", flagRoom, self)

	updates := orch.Subscribe()
	failed := make(chan struct{})
	go printUpdates(updates, failed)

	if err := orch.Initialize(ctx, flagRoom, callType); err != nil {
		return describe(err)
	}
	go readCommands(orch)

	select {
	case <-ctx.Done():
	case <-failed:
	case <-ended:
	}
	orch.EndCall()
	final := orch.State()
	if final.Err != nil {
		return describe(final.Err)
	}
	printField("call length", final.Duration.String())
	return nil
}

// printUpdates closes failed the first time the call reports failure.
func printUpdates(updates <-chan call.State, failed chan<- struct{}) {
	var last string
	for s := range updates {
		if s.Status == call.StatusFailed && failed != nil {
			close(failed)
			failed = nil
		}
		line := stateLine(s)
		if line != last {
			fmt.Println(line)
			last = line
		}
	}
}

func readCommands(orch *call.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			orch.ToggleAudio()
		case "v":
			orch.ToggleVideo()
		case "q":
			orch.EndCall()
			return
		}
	}
}

// describe turns a call error into advice for the user.
func describe(err error) error {
	switch {
	case errors.Is(err, call.ErrUnauthenticated):
		return fmt.Errorf("%w: pass --token or --user", err)
	case errors.Is(err, call.ErrPermissionDenied):
		return fmt.Errorf("%w: allow access to the microphone and camera", err)
	case errors.Is(err, call.ErrDeviceNotFound):
		return fmt.Errorf("%w: connect a microphone or camera", err)
	case errors.Is(err, call.ErrTransportUnavailable):
		return fmt.Errorf("%w: is the relay running at the signaling url?", err)
	}
	return err
}
