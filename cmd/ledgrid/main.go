package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coreman2200/ledgrid/internal/app"
	"github.com/coreman2200/ledgrid/internal/config"
	"github.com/coreman2200/ledgrid/internal/locate"
	"github.com/coreman2200/ledgrid/internal/panel"
)

type options struct {
	configPath string
	logLevel   string
	row, col   int
	masterHost string
	driver     string
	style      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ledgrid",
		Short: "Tiled LED matrix controller",
		Long: `ledgrid drives one square LED panel of a larger grid.

The master panel owns the animation and tells slave panels what to draw
over TCP. Each panel can carry a servo mounted rangefinder that reports
where a hand is hovering.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(o.logLevel)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "ledgrid.yaml", "path to the yaml config")
	pf.StringVar(&o.logLevel, "log-level", "info", "trace | debug | info | warn | error")
	pf.IntVar(&o.row, "row", -1, "panel row in the grid (overrides config)")
	pf.IntVar(&o.col, "col", -1, "panel column in the grid (overrides config)")
	pf.StringVar(&o.driver, "driver", "", "led driver: spi | console | sim")

	master := &cobra.Command{
		Use:   "master",
		Short: "Run the master panel: control server, conductor and monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, config.RoleMaster)
			if err != nil {
				return err
			}
			return runMaster(cmd.Context(), cfg)
		},
	}
	master.Flags().StringVar(&o.style, "style", "", "animation style: circles | ripple")

	slave := &cobra.Command{
		Use:   "slave",
		Short: "Run a slave panel that draws what the master sends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, config.RoleSlave)
			if err != nil {
				return err
			}
			return runSlave(cmd.Context(), cfg)
		},
	}
	slave.Flags().StringVar(&o.masterHost, "master-host", "", "master address (overrides config)")

	root.AddCommand(master, slave, newSweepCmd(o), newLocateCmd(o))
	return root
}

func newSweepCmd(o *options) *cobra.Command {
	var (
		kind     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Light the panel in strip order to check its wiring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, "")
			if err != nil {
				return err
			}
			switch k := panel.Kind(kind); k {
			case panel.IndexSweep, panel.RowSweep, panel.RGBTest:
			default:
				return fmt.Errorf("unknown sweep %q", k)
			}
			hw, err := app.OpenHardware(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer hw.Close()
			err = panel.NewRunner(panel.Plan{Kind: panel.Kind(kind)}).Run(cmd.Context(), hw.Panel, interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(panel.IndexSweep), "index_sweep | row_sweep | rgb_channels")
	cmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "time per step")
	return cmd
}

func newLocateCmd(o *options) *cobra.Command {
	var (
		bench  bool
		target []float64
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Sweep the sensor once and print the detected position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, "")
			if err != nil {
				return err
			}
			var loc *locate.Locator
			switch {
			case bench:
				if len(target) != 2 {
					return errors.New("--target needs x,y in mm")
				}
				b := locate.NewBench(locate.Disc(cfg.Sensor.Geometry, r2.Vec{X: target[0], Y: target[1]}, 15))
				loc, err = locate.NewLocator(locate.Config{Geometry: cfg.Sensor.Geometry, Logger: &log.Logger}, b, b)
				if err != nil {
					return err
				}
			case cfg.Sensor.Enabled:
				cfg.LED.Driver = "sim"
				hw, err := app.OpenHardware(cfg, log.Logger)
				if err != nil {
					return err
				}
				defer hw.Close()
				loc = hw.Locator
			default:
				return errors.New("sensor disabled in config; use --bench")
			}

			v, err := loc.Locate(cmd.Context())
			if err != nil {
				return err
			}
			if !locate.Found(v) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing detected")
				return nil
			}
			p := locate.ToPixel(v, cfg.Sensor.PitchMM)
			fmt.Fprintf(cmd.OutOrStdout(), "x=%.1fmm y=%.1fmm pixel=(%d,%d)\n", v.X, v.Y, p.X, p.Y)
			return nil
		},
	}
	cmd.Flags().BoolVar(&bench, "bench", false, "use a simulated sensor")
	cmd.Flags().Float64SliceVar(&target, "target", []float64{80, 80}, "bench target x,y in mm")
	return cmd
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// load reads the config file, falling back to defaults when it is absent,
// then applies command line overrides.
func (o *options) load(cmd *cobra.Command, role config.Role) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", o.configPath).Msg("no config file; using defaults")
		cfg = config.Default()
	case err != nil:
		return nil, err
	}
	o.apply(cmd, cfg, role)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config, role config.Role) {
	if role != "" {
		cfg.Role = role
	}
	flags := cmd.Flags()
	if flags.Changed("row") {
		cfg.Position.Row = o.row
	}
	if flags.Changed("col") {
		cfg.Position.Col = o.col
	}
	if flags.Changed("driver") {
		cfg.LED.Driver = o.driver
	}
	if flags.Changed("master-host") {
		cfg.Network.MasterHost = o.masterHost
	}
	if flags.Changed("style") {
		cfg.Animation.Style = o.style
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runMaster(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	hw, err := app.OpenHardware(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer hw.Close()
	m, err := app.InitMaster(cfg, hw, log.Logger)
	if err != nil {
		return err
	}
	log.Info().
		Str("control", cfg.ControlAddr()).
		Str("monitor", cfg.Network.MonitorAddr).
		Str("style", cfg.Animation.Style).
		Msg("master starting")
	return m.Run(ctx)
}

func runSlave(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	hw, err := app.OpenHardware(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer hw.Close()
	log.Info().
		Str("master", cfg.MasterAddr()).
		Str("position", cfg.PanelID().String()).
		Msg("slave starting")
	return app.InitSlave(cfg, hw, log.Logger).Run(ctx)
}
