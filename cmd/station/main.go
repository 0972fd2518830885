// The station command runs a headless call endpoint bound to one
// conversation: a kiosk or exam-room device that places and answers calls
// without the mobile app.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"carelink-backend/internal/call"
	"carelink-backend/internal/station"
	"carelink-backend/pkg/env"
	"carelink-backend/pkg/logger"
)

var (
	flagUserID         string
	flagDisplayName    string
	flagConversationID string
	flagRedisAddr      string
	flagRedisPassword  string
	flagAPIBaseURL     string
	flagAPIToken       string
	flagLogPath        string
	flagRingTimeout    time.Duration
	flagSTUNURLs       []string
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "station",
		Short:         "Headless call endpoint for one conversation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagUserID, "user", env.GetString("STATION_USER_ID", ""), "station user id (uuid)")
	pf.StringVar(&flagDisplayName, "name", env.GetString("STATION_NAME", "Station"), "display name shown to callers")
	pf.StringVar(&flagConversationID, "conversation", env.GetString("STATION_CONVERSATION_ID", ""), "conversation id (uuid)")
	pf.StringVar(&flagRedisAddr, "redis", env.GetString("REDIS_ADDR", "localhost:6379"), "redis address")
	pf.StringVar(&flagRedisPassword, "redis-password", env.GetStringFromFile("REDIS_PASSWORD", ""), "redis password")
	pf.StringVar(&flagAPIBaseURL, "api", env.GetString("API_BASE_URL", "http://localhost:8080"), "call-service base URL")
	pf.StringVar(&flagAPIToken, "token", env.GetStringFromFile("STATION_TOKEN", ""), "bearer token for the call-service API")
	pf.StringVar(&flagLogPath, "db", env.GetString("STATION_DB", "station.db"), "local call log path")
	pf.DurationVar(&flagRingTimeout, "ring-timeout", env.GetDuration("RING_TIMEOUT", 30*time.Second), "how long outbound calls ring")
	pf.StringSliceVar(&flagSTUNURLs, "stun", nil, "STUN server URLs (default: Google STUN)")

	root.AddCommand(newCallCmd(), newListenCmd(), newLogCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func stationConfig() (station.Config, error) {
	userID, err := uuid.Parse(flagUserID)
	if err != nil {
		return station.Config{}, fmt.Errorf("--user must be a valid uuid: %w", err)
	}
	conversationID, err := uuid.Parse(flagConversationID)
	if err != nil {
		return station.Config{}, fmt.Errorf("--conversation must be a valid uuid: %w", err)
	}
	if flagAPIToken == "" {
		return station.Config{}, fmt.Errorf("--token (or STATION_TOKEN) is required")
	}

	return station.Config{
		UserID:         userID,
		DisplayName:    flagDisplayName,
		ConversationID: conversationID,
		RedisAddr:      flagRedisAddr,
		RedisPassword:  flagRedisPassword,
		APIBaseURL:     flagAPIBaseURL,
		APIToken:       flagAPIToken,
		LogPath:        flagLogPath,
		RingTimeout:    flagRingTimeout,
		STUNURLs:       flagSTUNURLs,
	}, nil
}

// signalCtx returns a context canceled on SIGINT or SIGTERM.
func signalCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call",
		Short: "Place a call into the conversation and stay on it until it ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := stationConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalCtx()
			defer stop()

			st, err := station.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sessionID, err := st.Call(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("calling... session %s (Ctrl-C to hang up)\n", sessionID)

			if err := st.WaitForEnd(ctx, sessionID); err != nil {
				// Interrupted: hang up before Close tears everything down.
				hangCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = st.HangUp(hangCtx)
				return nil
			}
			fmt.Println("call ended")
			return nil
		},
	}
}

func newListenCmd() *cobra.Command {
	var autoAccept bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for incoming calls on the conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := stationConfig()
			if err != nil {
				return err
			}
			cfg.AutoAccept = autoAccept

			ctx, stop := signalCtx()
			defer stop()

			st, err := station.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Println("listening for calls (Ctrl-C to stop)")
			for {
				select {
				case <-ctx.Done():
					return nil
				case inc := <-st.Incoming():
					fmt.Printf("incoming call from %s (session %s)\n", inc.CallerName, inc.SessionID)
				case change := <-st.States():
					if change.State == call.StateEnded {
						fmt.Printf("call %s ended\n", change.SessionID)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "answer incoming calls immediately")
	return cmd
}

func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the local call log",
		RunE: func(cmd *cobra.Command, args []string) error {
			callLog, err := station.OpenCallLog(flagLogPath)
			if err != nil {
				return err
			}
			defer callLog.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sessions, err := callLog.Recent(ctx, limit)
			if err != nil {
				return err
			}

			for _, sess := range sessions {
				duration := "-"
				if sess.StartedAt != nil && sess.EndedAt != nil {
					duration = sess.EndedAt.Sub(*sess.StartedAt).Round(time.Second).String()
				}
				fmt.Printf("%s  %s  %-9s  %s\n",
					sess.CreatedAt.Local().Format(time.DateTime), sess.ID, sess.Status, duration)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}
