package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/securedrop-lan/securedrop/internal/config"
	"github.com/securedrop-lan/securedrop/internal/cryptoutil"
	"github.com/securedrop-lan/securedrop/internal/transfer"
	"github.com/securedrop-lan/securedrop/internal/wire"
)

// pollInterval is how long the shell idles on stdin before polling the
// coordinator for incoming transfer requests.
const pollInterval = time.Second

// minPasswordLen is the client-side minimum password length.
const minPasswordLen = 12

// Shell drives the interactive securedrop session: register-or-login,
// then a command loop that polls for incoming requests between user
// inputs.
type Shell struct {
	sess     *Session
	registry *Registry
	cfg      config.ClientConfig

	in    *bufio.Reader
	out   io.Writer
	lines chan string
	sigCh chan os.Signal
}

// NewShell creates a shell over an established session.
func NewShell(sess *Session, registry *Registry, cfg config.ClientConfig) *Shell {
	return &Shell{
		sess:     sess,
		registry: registry,
		cfg:      cfg,
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}
}

// Run performs the auth gate and then the command loop. It returns nil
// on a clean exit.
func (sh *Shell) Run(ctx context.Context) error {
	if err := sh.authenticate(); err != nil {
		fmt.Fprintln(sh.out, "Exiting SecureDrop")
		return err
	}

	fmt.Fprintln(sh.out, "Welcome to SecureDrop")
	fmt.Fprintln(sh.out, "Type \"help\" For Commands")

	// Interrupts abort a running transfer but never the session.
	sh.sigCh = make(chan os.Signal, 1)
	signal.Notify(sh.sigCh, os.Interrupt)
	defer signal.Stop(sh.sigCh)

	sh.lines = make(chan string)
	go sh.readLines()

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		fmt.Fprint(sh.out, "secure_drop> ")

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(pollInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sh.sigCh:
			fmt.Fprintln(sh.out, "\nType \"exit\" to quit")
		case <-timer.C:
			// Idle; fall through to the poll below.
		case line, ok := <-sh.lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
			case "help":
				sh.printHelp()
			case "add":
				sh.addContact()
			case "list":
				sh.listContacts()
			case "send":
				sh.sendFile(ctx)
			case "exit":
				return nil
			default:
				fmt.Fprintln(sh.out, "Unknown command. Type \"help\" For Commands")
			}
		}

		if err := sh.checkRequests(ctx); err != nil {
			return err
		}
	}
}

func (sh *Shell) readLines() {
	defer close(sh.lines)
	for {
		line, err := sh.in.ReadString('\n')
		if line != "" {
			sh.lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

// promptLine asks for one line of input through the reader goroutine.
func (sh *Shell) promptLine(label string) (string, error) {
	fmt.Fprint(sh.out, label)
	line, ok := <-sh.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

// readLine reads directly from stdin. Only valid before the reader
// goroutine starts.
func (sh *Shell) readLine(label string) (string, error) {
	fmt.Fprint(sh.out, label)
	line, err := sh.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads a password without echo when stdin is a
// terminal, falling back to a plain line otherwise.
func (sh *Shell) readPassword(label string) (string, error) {
	fmt.Fprint(sh.out, label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(sh.out)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	line, err := sh.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (sh *Shell) authenticate() error {
	if sh.registry.Empty() {
		decision, err := sh.readLine("No users are registered with this client.\nDo you want to register a new user (y/n)? ")
		if err != nil {
			return err
		}
		if decision != "y" {
			return errors.New("you must register a user before using securedrop")
		}
		return sh.register()
	}
	return sh.login()
}

func (sh *Shell) register() error {
	name, err := sh.readLine("Enter Full Name: ")
	if err != nil {
		return err
	}
	email, err := sh.readLine("Enter Email Address: ")
	if err != nil {
		return err
	}
	validEmail, err := cryptoutil.NormalizeEmail(email)
	if err != nil {
		return errors.New("invalid email address")
	}
	if sh.registry.Contains(validEmail) {
		return errors.New("that email already exists")
	}
	pw1, err := sh.readPassword("Enter Password: ")
	if err != nil {
		return err
	}
	pw2, err := sh.readPassword("Re-enter Password: ")
	if err != nil {
		return err
	}
	if pw1 != pw2 {
		return errors.New("the two entered passwords don't match")
	}
	if len(pw1) < minPasswordLen {
		return fmt.Errorf("password is too short: must be at least %d characters", minPasswordLen)
	}
	if name == "" {
		return errors.New("empty name input")
	}

	msg, err := sh.sess.Register(name, validEmail, pw1)
	if err != nil {
		return err
	}
	if msg != "" {
		return fmt.Errorf("failed to register: %s", msg)
	}
	if err := sh.registry.Add(validEmail); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "User registered.")
	return nil
}

func (sh *Shell) login() error {
	email, err := sh.readLine("Enter Email Address: ")
	if err != nil {
		return err
	}
	password, err := sh.readPassword("Enter Password: ")
	if err != nil {
		return err
	}
	msg, err := sh.sess.Login(email, password)
	if err != nil {
		return err
	}
	if msg != "" {
		return fmt.Errorf("failed to login: %s", msg)
	}
	return nil
}

func (sh *Shell) printHelp() {
	fmt.Fprintln(sh.out, "\"add\"  \t-> Add a new contact")
	fmt.Fprintln(sh.out, "\"list\" \t-> List all online contacts")
	fmt.Fprintln(sh.out, "\"send\" \t-> Transfer file to contact")
	fmt.Fprintln(sh.out, "\"exit\" \t-> Exit SecureDrop")
}

func (sh *Shell) addContact() {
	name, err := sh.promptLine("Enter Full Name: ")
	if err != nil {
		return
	}
	email, err := sh.promptLine("Enter Email Address: ")
	if err != nil {
		return
	}
	validEmail, err := cryptoutil.NormalizeEmail(email)
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to add contact: Invalid Email Address.")
		return
	}
	if name == "" {
		fmt.Fprintln(sh.out, "Failed to add contact: Empty name input.")
		return
	}
	msg, err := sh.sess.AddContact(name, validEmail)
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to add contact:", err)
		return
	}
	if msg != "" {
		fmt.Fprintln(sh.out, "Failed to add contact:", msg)
		return
	}
	fmt.Fprintln(sh.out, "Contact added.")
}

func (sh *Shell) listContacts() {
	contacts, err := sh.sess.ListContacts()
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to list contacts:", err)
		return
	}
	if len(contacts) == 0 {
		fmt.Fprintln(sh.out, "No contacts online.")
		return
	}
	emails := make([]string, 0, len(contacts))
	for email := range contacts {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	for _, email := range emails {
		fmt.Fprintf(sh.out, "  %s\t%s\n", email, contacts[email])
	}
}

// sendFile runs the sender side: request, await the rendezvous, then
// stream the file peer-to-peer.
func (sh *Shell) sendFile(ctx context.Context) {
	recipient, err := sh.promptLine("Enter the recipient's email address: ")
	if err != nil {
		return
	}
	validEmail, err := cryptoutil.NormalizeEmail(recipient)
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file: Invalid Email Address.")
		return
	}
	path, err := sh.promptLine("Enter the file path: ")
	if err != nil {
		return
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}
	info, err := os.Stat(absPath)
	if err != nil {
		fmt.Fprintf(sh.out, "Failed to send file: Cannot find file: %s\n", absPath)
		return
	}

	sha256, err := cryptoutil.HashFile(absPath)
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}

	msg, err := sh.sess.RequestTransfer(validEmail, wire.FileInfo{
		Name:   filepath.Base(absPath),
		Size:   info.Size(),
		SHA256: sha256,
	})
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}
	if msg != "" {
		fmt.Fprintln(sh.out, "Failed to send file:", msg)
		return
	}

	fmt.Fprintln(sh.out, "Waiting for the recipient to respond...")
	port, token, err := sh.sess.AwaitPortToken()
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}
	if token == "" {
		fmt.Fprintf(sh.out, "Failed to send file: User [%s] declined the file transfer\n", validEmail)
		return
	}

	tlsConfig, err := sh.cfg.TLS.ClientTLSConfig()
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}

	fmt.Fprintln(sh.out, "Connecting to recipient on port", port)
	progress := &transfer.Progress{}
	sender := &transfer.Sender{
		Host:      sh.cfg.Hostname,
		Port:      port,
		Token:     token,
		FilePath:  absPath,
		SHA256:    sha256,
		TLSConfig: tlsConfig,
		Progress:  progress,
	}

	start := time.Now()
	err = sh.runTransfer(ctx, progress, func(tctx context.Context) error {
		return sender.Run(tctx)
	})
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to send file:", err)
		return
	}
	fmt.Fprintf(sh.out, "File transfer completed in %.2f seconds.\n", time.Since(start).Seconds())
}

// checkRequests polls for incoming transfer requests and, when any
// exist, walks the accept/deny flow.
func (sh *Shell) checkRequests(ctx context.Context) error {
	requests, err := sh.sess.Poll()
	if err != nil {
		return fmt.Errorf("polling for transfer requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	senders := make([]string, 0, len(requests))
	for email := range requests {
		senders = append(senders, email)
	}
	sort.Strings(senders)

	fmt.Fprintln(sh.out, "\nIncoming file transfer request(s):")
	for i, email := range senders {
		info := requests[email]
		fmt.Fprintf(sh.out, "\t%d. %s\n", i+1, email)
		fmt.Fprintf(sh.out, "\t\tname:   %s\n", info.Name)
		fmt.Fprintf(sh.out, "\t\tsize:   %s\n", humanSize(info.Size))
		fmt.Fprintf(sh.out, "\t\tSHA256: %s\n", info.SHA256)
	}
	fmt.Fprintln(sh.out)

	selection, err := sh.promptLine("Enter the number for which request you'd like to accept, or 0 to deny all: ")
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(selection))
	if convErr != nil || n <= 0 || n > len(senders) {
		return sh.sess.Deny()
	}
	sender := senders[n-1]

	var outDir string
	for {
		outDir, err = sh.promptLine("Enter the output directory: ")
		if err != nil {
			return err
		}
		outDir, err = filepath.Abs(outDir)
		if err == nil {
			if info, statErr := os.Stat(outDir); statErr == nil && info.IsDir() {
				break
			}
		}
		fmt.Fprintf(sh.out, "The path %s is not a directory\n", outDir)
	}
	if _, statErr := os.Stat(filepath.Join(outDir, requests[sender].Name)); statErr == nil {
		fmt.Fprintln(sh.out, "Failed to receive file: output file already exists")
		return sh.sess.Deny()
	}

	token, err := sh.sess.Accept(sender)
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Fprintln(sh.out, "Failed to receive file: sender is no longer available")
		return nil
	}

	tlsConfig, err := sh.cfg.TLS.ServerTLSConfig()
	if err != nil {
		return err
	}
	progress := &transfer.Progress{}
	receiver := &transfer.Receiver{
		Token:     token,
		OutDir:    outDir,
		TLSConfig: tlsConfig,
		Progress:  progress,
	}
	if err := receiver.Listen(); err != nil {
		return err
	}
	if err := sh.sess.SendPort(receiver.Port()); err != nil {
		return err
	}

	start := time.Now()
	err = sh.runTransfer(ctx, progress, func(tctx context.Context) error {
		_, rerr := receiver.Run(tctx)
		return rerr
	})
	if err != nil {
		fmt.Fprintln(sh.out, "Failed to receive file:", err)
		return nil
	}
	fmt.Fprintf(sh.out, "File transfer completed successfully in %.2f seconds.\n", time.Since(start).Seconds())
	return nil
}

// runTransfer runs fn on its own goroutine so an interrupt can abort
// the transfer without touching the control session.
func (sh *Shell) runTransfer(ctx context.Context, progress *transfer.Progress, fn func(context.Context) error) error {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(tctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-sh.sigCh:
			cancel()
			<-errCh
			return errors.New("user requested abort")
		case <-ticker.C:
			done, total := progress.Snapshot()
			if total > 0 {
				fmt.Fprintf(sh.out, "%d/%d chunks transferred\n", done, total)
			}
		}
	}
}

// humanSize renders a byte count with binary unit prefixes.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
