// jsonrpctool is an interactive JSON-RPC 2.0 client for bridged peers.
//
// It connects to a serial device or TCP host the same way bridged does and
// reads commands from stdin, one per line:
//
//	method [params]      call method and print the answer
//	!method [params]     send a notification
//	quit                 exit
//
// params is a JSON array or object; comments and trailing commas are
// accepted. Notifications and requests sent by the peer are printed as they
// arrive. At end of input the tool exits once every call is answered.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/gray-logic-bridged/internal/framing"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
	"github.com/nerrad567/gray-logic-bridged/internal/transport"
)

var version = "dev"

const stdinFD = 0

// options holds the parsed command line.
type options struct {
	endpoint   string
	port       uint16
	baudRate   int
	mode       string
	skipBanner bool
	reconnect  time.Duration
	logLevel   string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("jsonrpctool", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.endpoint, "endpoint", "e", "", "serial device (/dev/ttyUSB0[:baud]) or host[:port]")
	flagSet.Uint16VarP(&opts.port, "port", "p", 4711, "port used when the endpoint names a host without one")
	flagSet.IntVarP(&opts.baudRate, "baud", "b", 9600, "baud rate used when the endpoint names a device without one")
	flagSet.StringVar(&opts.mode, "framing", "delimiter", "message framing: delimiter or structural")
	flagSet.BoolVar(&opts.skipBanner, "skip-banner", false, "ignore lines up to the first empty line after connecting")
	flagSet.DurationVar(&opts.reconnect, "reconnect", 5*time.Second, "delay between connection attempts")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jsonrpctool [flags] [endpoint]\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		if opts.endpoint != "" || len(rest) > 1 {
			return opts, fmt.Errorf("unexpected argument: %s", rest[len(rest)-1])
		}
		opts.endpoint = rest[0]
	}
	if opts.endpoint == "" {
		return opts, errors.New("an endpoint is required")
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	ep, err := transport.ParseSpec(opts.endpoint, opts.port, opts.baudRate)
	if err != nil {
		return err
	}
	mode, err := framing.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	log := logging.NewWithWriter(os.Stderr, config.LoggingConfig{Level: opts.logLevel, Format: "text"}, version)

	r, err := reactor.New(reactor.WithLogger(log.Component("reactor")))
	if err != nil {
		return err
	}
	defer r.Close()

	l := link.New(r, link.Config{
		Name:              "peer",
		Endpoint:          ep,
		ReconnectInterval: opts.reconnect,
		SkipBanner:        opts.skipBanner,
		Framing:           framing.Config{Mode: mode},
	}, log.ForPeer("peer"))
	l.OnStatus(func(s link.Status) {
		if s.Connected {
			fmt.Fprintf(os.Stderr, "connected to %s\n", ep)
			return
		}
		fmt.Fprintf(os.Stderr, "disconnected: %v\n", s.Err)
	})

	con := newConsole(l.Engine(), os.Stdout, r.Terminate)
	if err := watchStdin(r, con); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		<-signals
		r.Terminate()
	}()

	r.OnTerminate(l.Stop)
	l.Start()
	return r.Run()
}

// watchStdin feeds stdin to con through the reactor.
func watchStdin(r *reactor.Reactor, con *console) error {
	owner := r.NewOwner()
	buf := make([]byte, 4096)
	return r.RegisterFDWatch(owner, stdinFD, reactor.FDWatch{
		OnReadable: func(fd int) {
			n, err := unix.Read(fd, buf)
			if err == unix.EINTR || err == unix.EAGAIN {
				return
			}
			if n <= 0 {
				r.UnregisterFDWatch(owner, fd)
				con.eof()
				return
			}
			con.feed(buf[:n])
		},
		OnError: func(fd int, _ error) {
			r.UnregisterFDWatch(owner, fd)
			con.eof()
		},
	})
}
