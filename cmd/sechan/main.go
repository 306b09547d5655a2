// Command sechan runs one end of a secure datagram channel: it reads
// plaintext lines from standard input, seals and sends them to a
// remote peer, and concurrently decrypts and prints whatever that peer
// sends back. Since the channel itself is unidirectional, running two
// copies against each other (swapping -p/-P) forms a bidirectional
// pair, exactly like the original SecureChannel demo.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lbergesio/sechan/internal/channel"
	"github.com/lbergesio/sechan/internal/logging"
	"github.com/lbergesio/sechan/internal/profile"
	"github.com/lbergesio/sechan/internal/transport"
)

var (
	localPort   int
	remotePort  int
	remoteHost  string
	profilePath string
	verbose     bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sechan",
		Short: "Secure Channel Demo",
		Long:  "Secure Channel Demo: a unidirectional authenticated, encrypted UDP channel.",
		RunE:  runSechan,
	}
	cmd.Flags().IntVarP(&localPort, "port", "p", 0, "local UDP socket binds to given port (required)")
	cmd.Flags().IntVarP(&remotePort, "remote-port", "P", 0, "UDP datagrams will be sent to the remote port (required)")
	cmd.Flags().StringVarP(&remoteHost, "remote-host", "R", "127.0.0.1", "UDP datagrams will be sent to the remote host")
	cmd.Flags().StringVarP(&profilePath, "profile", "C", "sechan.cfg", "name of the profile configuration file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug trace to standard error")
	cmd.MarkFlagRequired("port")
	cmd.MarkFlagRequired("remote-port")
	return cmd
}

func runSechan(cmd *cobra.Command, args []string) error {
	log := logging.Discard()
	if verbose {
		log = logging.New(os.Stderr, "debug")
	}

	p, err := profile.LoadAndValidate(profilePath)
	if err != nil {
		return fmt.Errorf("sechan: %w", err)
	}
	log.Info("msg", "active profile", "profile", p.Describe())

	conn, err := transport.Listen("udp4", net.JoinHostPort("", strconv.Itoa(localPort)), log)
	if err != nil {
		return fmt.Errorf("sechan: listen: %w", err)
	}
	defer conn.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		return fmt.Errorf("sechan: resolve remote: %w", err)
	}

	localNonce := portNonce(localPort)
	remoteNonce := portNonce(remotePort)

	sender := channel.NewSender(p, localNonce, remoteNonce, log)
	defer sender.Close()
	receiver := channel.NewReceiver(p, remoteNonce, localNonce, channel.DefaultPoolSize, log)
	defer receiver.Close()

	flow := transport.NewFlowSender(conn, remoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		cancel()
	}()

	errs := make(chan error, 2)
	go runReceiveLoop(ctx, conn, receiver, os.Stdout, errs)
	runSendLoop(ctx, os.Stdin, sender, flow, errs)

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			return err
		}
	default:
	}
	return nil
}

// runSendLoop reads lines from in and seals+sends each one, stopping
// cleanly at EOF (exit 0, per spec.md §6). A transport error drops the
// one frame it belongs to and moves on to the next line — it is never
// fatal to the sender (spec.md §7).
func runSendLoop(ctx context.Context, in *os.File, sender *channel.Sender, flow channel.Transport, errs chan<- error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		var transportErr *channel.TransportError
		if err := sender.Send(ctx, flow, []byte(line)); err != nil {
			if errors.As(err, &transportErr) {
				continue
			}
			errs <- fmt.Errorf("sechan: send: %w", err)
			return
		}
	}
	errs <- scanner.Err()
}

// runReceiveLoop reads datagrams until ctx is cancelled, printing
// decoded plaintext to out. Frame and integrity errors are logged by
// the receiver itself and never surfaced here (spec.md §7).
func runReceiveLoop(ctx context.Context, conn *transport.Conn, receiver *channel.Receiver, out *os.File, errs chan<- error) {
	w := bufio.NewWriter(out)
	defer w.Flush()
	for {
		frame, _, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		plain, err := receiver.HandleFrame(frame)
		if err != nil {
			continue
		}
		w.Write(plain)
		w.Flush()
	}
}

// portNonce renders a UDP port as the 2-byte big-endian nonce the
// channel derives contexts from, matching the original demo's use of a
// raw in_port_t as the flow identity.
func portNonce(port int) []byte {
	return []byte{byte(port >> 8), byte(port)}
}
