package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/initd/initd"
	"git.unix.lgbt/diamondburned/initd/initd/host"
	"git.unix.lgbt/diamondburned/initd/initd/initctl"
	"git.unix.lgbt/diamondburned/initd/initd/journal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	inittabFile     string
	controlDir      string
	journalFile     string
	shell           string
	noRestartActive bool
	watchInittab    bool
	replyTimeout    time.Duration
	logLines        int

	rootCmd = &cobra.Command{
		Use:   "initd",
		Short: "A small inittab-driven init and service supervisor",
		Long: `initd reads a service table, forces single-user mode and supervises
the services of the current runlevel, restarting the ones marked respawn.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start()
		},
	}

	telinitCmd = &cobra.Command{
		Use:   "telinit",
		Short: "Send control requests to a running initd",
	}
	telinitRunlevelCmd = &cobra.Command{
		Use:   "runlevel [N]",
		Short: "Print the current runlevel, or switch to runlevel N",
		Args:  cobra.MaximumNArgs(1),
		RunE:  telinitRunlevel,
	}
	telinitStartCmd = &cobra.Command{
		Use:   "start ID",
		Short: "Start the service with the given ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return telinit(func(ctx context.Context, c *initctl.Client) (initd.Reply, error) {
				return c.Start(ctx, args[0])
			})
		},
	}
	telinitStopCmd = &cobra.Command{
		Use:   "stop ID",
		Short: "Stop the service with the given ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return telinit(func(ctx context.Context, c *initctl.Client) (initd.Reply, error) {
				return c.Stop(ctx, args[0])
			})
		},
	}
	telinitStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the runlevel and the active services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return telinit(func(ctx context.Context, c *initctl.Client) (initd.Reply, error) {
				return c.Status(ctx)
			})
		},
	}

	runlevelCmd = &cobra.Command{
		Use:   "runlevel",
		Short: "Print the previous and current runlevel from the state file",
		Args:  cobra.NoArgs,
		RunE:  printRunlevel,
	}

	checkCmd = &cobra.Command{
		Use:   "check [inittab]",
		Short: "Parse an inittab and print its services and errors",
		Args:  cobra.MaximumNArgs(1),
		RunE:  check,
	}

	logCmd = &cobra.Command{
		Use:   "log",
		Short: "Print the newest journal events first",
		Args:  cobra.NoArgs,
		RunE:  printLog,
	}
)

func init() {
	log.SetFlags(0)
	log.SetPrefix("initd: ")

	rootCmd.PersistentFlags().StringVar(&controlDir, "control-dir", initctl.DefaultDir, "control channel directory")
	rootCmd.PersistentFlags().StringVar(&journalFile, "journal", "/var/log/initd.journal", "journal file path")
	rootCmd.PersistentFlags().StringVar(&inittabFile, "inittab", "/etc/inittab", "service table path")

	rootCmd.Flags().StringVar(&shell, "shell", initd.DefaultShell, "command interpreter for services")
	rootCmd.Flags().BoolVar(&noRestartActive, "no-restart-active", false,
		"do not start services again on a runlevel switch if they are still running")
	rootCmd.Flags().BoolVar(&watchInittab, "watch", true, "reload the inittab when it changes")

	telinitCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", initctl.DefaultTimeout, "how long to wait for a reply")
	telinitCmd.AddCommand(telinitRunlevelCmd, telinitStartCmd, telinitStopCmd, telinitStatusCmd)

	logCmd.Flags().IntVarP(&logLines, "lines", "n", 20, "number of events to print, 0 for all")

	rootCmd.AddCommand(telinitCmd, runlevelCmd, checkCmd, logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}

func start() error {
	console := journal.NewHumanWriter("stdout", os.Stdout)

	var journaler initd.Journaler = console

	j, err := journal.NewFileLockJournaler(journalFile)
	switch {
	case err == nil:
		defer j.Close()
		journaler = journal.MultiWriter(j, console)
	case errors.Is(err, journal.ErrLockedElsewhere):
		// Non-fatal error.
		log.Println("initd is already running")
		return nil
	default:
		// The journal's filesystem may not be mounted this early; keep going
		// with the console only.
		console.Write(&initd.EventWarning{
			Component: "journal",
			Error:     err.Error(),
		})
	}

	ctx := context.Background()

	// As PID 1 there is no one to return to, so only a supervisor started for
	// testing can be interrupted.
	if os.Getpid() != 1 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
	}

	k := host.New(ctx, journaler, host.Config{
		Inittab:    inittabFile,
		Watch:      watchInittab,
		ControlDir: controlDir,
	})
	defer k.Close()

	loop := initd.NewLoop(k, journaler, initd.Options{
		Inittab:    inittabFile,
		Shell:      shell,
		SkipActive: noRestartActive,
		Recorder:   initctl.NewStateFile(initctl.RunlevelPath(controlDir)),
	})
	loop.Boot()

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func telinit(fn func(context.Context, *initctl.Client) (initd.Reply, error)) error {
	client := initctl.NewClient(controlDir)
	client.Timeout = replyTimeout

	reply, err := fn(context.Background(), client)
	if err != nil {
		return err
	}

	printReply(reply)

	if !reply.OK {
		return errors.New(reply.Error)
	}
	return nil
}

func telinitRunlevel(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return telinit(func(ctx context.Context, c *initctl.Client) (initd.Reply, error) {
			return c.Runlevel(ctx)
		})
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || !initd.Runlevel(n).Valid() {
		return fmt.Errorf("invalid runlevel %q", args[0])
	}

	return telinit(func(ctx context.Context, c *initctl.Client) (initd.Reply, error) {
		return c.SetRunlevel(ctx, initd.Runlevel(n))
	})
}

func printReply(reply initd.Reply) {
	switch reply.Kind {
	case initd.KindRunlevel:
		fmt.Println("runlevel", reply.Runlevel)
	case initd.KindStart:
		if reply.OK {
			fmt.Println("started, pid", reply.ServicePID)
		}
	case initd.KindStop:
		if reply.OK && !reply.Stopped {
			fmt.Println("not running")
		} else if reply.OK {
			fmt.Println("stopped")
		}
	case initd.KindStatus:
		fmt.Println("runlevel", reply.Runlevel)
		for _, id := range reply.Services {
			fmt.Println(" ", id)
		}
	}
}

func printRunlevel(cmd *cobra.Command, args []string) error {
	state, err := initctl.ReadStateFile(initctl.RunlevelPath(controlDir))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("unknown")
			return nil
		}
		return err
	}

	fmt.Println(state.Previous, state.Runlevel)
	return nil
}

func check(cmd *cobra.Command, args []string) error {
	path := inittabFile
	if len(args) > 0 {
		path = args[0]
	}

	table, lineErrs, err := initd.LoadTable(path)
	if err != nil {
		return err
	}

	for _, entry := range table.Entries() {
		fmt.Println(entry)
	}

	for _, lineErr := range lineErrs {
		fmt.Fprintln(os.Stderr, lineErr)
	}

	if len(lineErrs) > 0 {
		return fmt.Errorf("%d malformed line(s)", len(lineErrs))
	}
	return nil
}

func printLog(cmd *cobra.Command, args []string) error {
	entries, err := journal.ReadLast(journalFile, logLines)
	if err != nil {
		return errors.Wrap(err, "failed to read journal")
	}

	for _, entry := range entries {
		fields := journal.Fields(entry.Event)

		pairs := make([]string, 0, len(fields))
		for _, f := range fields {
			pairs = append(pairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
		}

		fmt.Printf("%s  %-20s %s\n",
			entry.Time.Local().Format(time.Stamp), entry.Event.Type(), strings.Join(pairs, " "))
	}

	return nil
}
