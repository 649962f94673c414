package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/gatekeeper/internal/attempt"
	"github.com/andresmejia3/gatekeeper/internal/callback"
	"github.com/andresmejia3/gatekeeper/internal/camera"
	"github.com/andresmejia3/gatekeeper/internal/publish"
	"github.com/andresmejia3/gatekeeper/internal/serial"
	"github.com/andresmejia3/gatekeeper/internal/session"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer OPEN CAMERA requests from the door controller",
	Long: `Listens on the serial link. For every "OPEN CAMERA <id>" line it replies YES,
tries to recognize the person in front of the camera, replies RECOGNIZED <name>
or NO, and reports the result to the logging backend.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(ctx context.Context) {
	if err := cfg.Validate(); err != nil {
		utils.Die("Invalid configuration", err, nil)
	}
	policy, err := cfg.Recognition.Policy()
	if err != nil {
		utils.Die("Invalid configuration", err, nil)
	}

	link, err := serial.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
	if err != nil {
		utils.Die("Serial port unavailable", err, nil)
	}
	defer link.Close()

	w, reg, err := startEngine(ctx)
	if err != nil {
		utils.Die("Face engine failed to start", err, workerLogs(w))
	}
	defer w.Close()

	if reg.Len() == 0 {
		log.Warn("⚠️  Registry is empty, every request will be denied")
	}

	cam := camera.New(cfg.Camera.Command, cfg.Camera.Args, cfg.Camera.OutputPath, cfg.Camera.Timeout)
	loop := &attempt.Loop{
		Camera:      cam,
		Extractor:   w,
		Registry:    reg.Entries(),
		Tolerance:   cfg.Recognition.Tolerance,
		MaxAttempts: cfg.Recognition.MaxAttempts,
		Interval:    cfg.Recognition.Interval,
		Policy:      policy,
	}

	reporters, closeReporters := buildReporters()
	defer closeReporters()

	ctrl := session.New(link, loop, reporters...)
	fmt.Fprintf(os.Stderr, "📡 Waiting for commands on %s (%d identities loaded)\n", link, reg.Len())

	err = ctrl.Serve(ctx)
	link.Close()
	if n := ctrl.Dropped(); n > 0 {
		log.WithField("dropped", n).Info("Commands dropped while a session was active")
	}
	if err != nil {
		utils.Die("Serial link failed", err, nil)
	}
	fmt.Fprintln(os.Stderr, "👋 Gatekeeper stopped.")
}

// buildReporters returns the configured sinks. MQTT is optional and a broker
// that cannot be reached at startup only disables it.
func buildReporters() ([]session.Reporter, func()) {
	var reporters []session.Reporter
	closers := []func(){}

	if cfg.Callback.URL != "" {
		reporters = append(reporters, &callback.Reporter{
			Client:   callback.NewClient(cfg.Callback.URL, cfg.Callback.Secret, cfg.Callback.Timeout),
			Location: callback.Zone(cfg.Callback.UTCOffsetHours),
			Note:     cfg.Callback.Note,
		})
	} else {
		log.Warn("⚠️  callback.url is not set, sessions will not be logged to the backend")
	}

	if cfg.MQTT.Enabled {
		rep, err := publish.Connect(publish.Options{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			log.WithError(err).Warn("MQTT disabled")
		} else {
			reporters = append(reporters, rep)
			closers = append(closers, rep.Close)
		}
	}

	return reporters, func() {
		for _, c := range closers {
			c()
		}
	}
}
