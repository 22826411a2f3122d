package main

import (
	"context"
	"fmt"
	"io"

	"github.com/carterjones/wsauth"
	"github.com/carterjones/wsauth/auth"
	"github.com/carterjones/wsauth/capture"
	"github.com/carterjones/wsauth/config"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// flag name -> config key
var boundFlags = map[string]string{
	"key-dir":              "key_dir",
	"client-id":            "client_id",
	"filter":               "filters",
	"path":                 "path",
	"connect-timeout":      "connect_timeout",
	"ping-interval":        "ping_interval",
	"pong-wait":            "pong_wait",
	"capture":              "capture",
	"debug":                "debug",
	"insecure-skip-verify": "insecure_skip_verify",
	"ca-file":              "ca_file",
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer, fs afero.Fs) int {
	// cobra falls back to os.Args when handed nil.
	if args == nil {
		args = []string{}
	}

	cmd := newRootCmd(fs)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func printError(w io.Writer, err error) {
	label := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %v\n", label("Error:"), err)
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	var cfgFile string
	v := viper.New()
	v.SetFs(fs)

	cmd := &cobra.Command{
		Use:   "wsauth-client <host> <port> <text>",
		Short: "Open an authenticated WebSocket session over TLS",
		Long: `wsauth-client connects to wss://<host>:<port>/ws, signs in with the keys
found in the key directory and prints every frame the server sends until
it receives SIGINT or SIGTERM.

The <text> argument is accepted for compatibility and is not sent.`,
		Example:       "  wsauth-client echo.example.com 443 \"Hello, world!\"",
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(3)(cmd, args); err != nil {
				return wsauth.NewError(wsauth.ArgumentError, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Past argument validation, usage is just noise.
			cmd.SilenceUsage = true

			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return wsauth.NewError(wsauth.ConfigError, err)
			}
			return connect(cmd, fs, cfg, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" when present)")

	d := config.Default()
	flags.String("key-dir", d.KeyDir, "directory holding the access and secret key files")
	flags.String("client-id", d.ClientID, "id sent in the authentication envelope")
	flags.StringSlice("filter", d.Filters, "subscription filter; repeat for more than one")
	flags.String("path", d.Path, "resource path of the WebSocket endpoint")
	flags.Duration("connect-timeout", d.ConnectTimeout, "bound on each of the TCP connect, the TLS handshake and the WebSocket upgrade")
	flags.Duration("ping-interval", d.PingInterval, "keepalive ping interval; 0 disables pings and the idle timeout")
	flags.Duration("pong-wait", d.PongWait, "extra time allowed for a pong before the session fails")
	flags.String("capture", "", "append every received frame to this CBOR file")
	flags.Bool("debug", false, "log phase transitions and the envelope preview")
	flags.Bool("insecure-skip-verify", false, "do not verify the server certificate")
	flags.String("ca-file", "", "PEM file with an additional trusted CA")

	for name, key := range boundFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newInitConfigCmd(fs))
	return cmd
}

func connect(cmd *cobra.Command, fs afero.Fs, cfg config.Config, host, port string) error {
	logger := wsauth.DefaultLogger()
	if cfg.Debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}
	defer func() { _ = logger.Sync() }()

	creds, err := auth.LoadKeys(fs, cfg.KeyDir)
	if err != nil {
		return wsauth.NewError(wsauth.CredentialError, err)
	}

	tlsCfg, err := cfg.TLSConfig(fs)
	if err != nil {
		return wsauth.NewError(wsauth.ConfigError, err)
	}

	s := wsauth.New(host, port, creds)
	cfg.Apply(s)
	s.TLSClientConfig = tlsCfg
	s.Logger = logger

	handle := echo(cmd.OutOrStdout())
	if cfg.Capture != "" {
		rec, err := capture.NewRecorder(fs, cfg.Capture)
		if err != nil {
			return wsauth.NewError(wsauth.ConfigError, err)
		}
		defer func() {
			if cerr := rec.Close(); cerr != nil {
				logger.Warn("capture incomplete", zap.Error(cerr))
			}
		}()
		handle = rec.Handler(handle)
	}

	c := wsauth.NewController(s)
	c.PollInterval = cfg.PollInterval
	c.Logger = logger

	return c.Run(cmd.Context(), handle)
}

// echo prints every frame on its own line, tagged " [Message]".
func echo(w io.Writer) wsauth.MessageHandler {
	label := color.New(color.FgCyan).SprintFunc()
	return func(f wsauth.Frame) {
		fmt.Fprintf(w, "%s %s\n", label(" [Message]"), f.Data)
	}
}

func newInitConfigCmd(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) == 1 {
				path = args[0]
			}

			if err := config.Write(fs, path, config.Default()); err != nil {
				return err
			}

			done := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", done("✓"), path)
			return nil
		},
	}
}
