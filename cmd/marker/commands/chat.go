package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/internal/transport"
	"github.com/dyluth/marker/internal/workflow"
	"github.com/dyluth/marker/pkg/ledger"
	"github.com/spf13/cobra"
)

const fileDirective = "!file "

// chatLinger is how long to keep printing replies after input ends.
var chatLinger = time.Second

var (
	chatAs       string
	chatIdentity string
	chatName     string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the coordinator from a terminal",
	Long: `Open an interactive conversation with the coordinator as a given handle.
Every line you type is sent as a chat message; replies are printed as they
arrive. A running coordinator is required.

Send a file with:
  !file ./homework.pdf
  !file https://example.com/homework.pdf

Local paths are sent as file:// links. The coordinator only reads them when
workflow.local_attachments in its config covers the path.

Example:
  marker chat --as @ana
  > /homework`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAs, "as", "", "Chat handle to speak as (required)")
	chatCmd.Flags().StringVar(&chatIdentity, "identity", "", "Chat address replies go to (default: cli:<handle>)")
	chatCmd.Flags().StringVar(&chatName, "name", "", "Display name")
	chatCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(chatCmd)
}

// chatBridge is the transport surface the chat command needs.
type chatBridge interface {
	Post(ctx context.Context, msg *transport.Inbound) error
	Listen(ctx context.Context, identity string) (*transport.Inbox[transport.Outbound], error)
}

// chatUser is who the terminal speaks as.
type chatUser struct {
	identity string
	handle   string
	name     string
}

func runChat(cmd *cobra.Command, args []string) error {
	handle := ledger.NormalizeHandle(chatAs)
	if handle == "" || handle == "@" {
		return printer.Error("invalid handle", "--as must name a chat handle", []string{"marker chat --as @ana"})
	}
	user := chatUser{identity: chatIdentity, handle: handle, name: chatName}
	if user.identity == "" {
		user.identity = "cli:" + strings.TrimPrefix(handle, "@")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.RedisOptions()
	if err != nil {
		return printer.Error("invalid Redis URL", err.Error(), nil)
	}
	bridge, err := transport.NewBridge(opts, cfg.Cohort)
	if err != nil {
		return err
	}
	defer bridge.Close()

	printer.Info("Chatting with cohort '%s' as %s. Ctrl+D to quit.\n", cfg.Cohort, handle)
	return chatSession(ctx, bridge, user, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatSession relays lines from in to the coordinator and prints replies to
// out until in is exhausted or ctx is cancelled.
func chatSession(ctx context.Context, bridge chatBridge, user chatUser, in io.Reader, out io.Writer) error {
	inbox, err := bridge.Listen(ctx, user.identity)
	if err != nil {
		return err
	}
	defer inbox.Close()

	done := make(chan struct{})
	seen := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for msg := range inbox.Messages() {
			printReply(out, msg)
			select {
			case seen <- struct{}{}:
			default:
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := chatMessage(line, user)
		if err != nil {
			printer.Warning("%v\n", err)
			continue
		}
		if err := bridge.Post(ctx, msg); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	linger(ctx, seen, chatLinger)
	inbox.Close()
	<-done
	return nil
}

// linger waits until no reply has arrived for quiet.
func linger(ctx context.Context, seen <-chan struct{}, quiet time.Duration) {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-seen:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		}
	}
}

// chatMessage turns one typed line into an inbound message.
func chatMessage(line string, user chatUser) (*transport.Inbound, error) {
	msg := &transport.Inbound{Identity: user.identity, Handle: user.handle, Name: user.name}
	if !strings.HasPrefix(line, fileDirective) {
		msg.Text = line
		return msg, nil
	}

	att, err := attachmentFor(strings.TrimSpace(strings.TrimPrefix(line, fileDirective)))
	if err != nil {
		return nil, err
	}
	msg.File = att
	return msg, nil
}

func attachmentFor(target string) (*workflow.Attachment, error) {
	if target == "" {
		return nil, fmt.Errorf("usage: !file <path or url>")
	}

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		name := path.Base(strings.SplitN(target, "?", 2)[0])
		return &workflow.Attachment{Name: name, URL: target, ContentType: mime.TypeByExtension(path.Ext(name))}, nil
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", target, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot send %s: %w", target, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot send %s: is a directory", target)
	}
	return &workflow.Attachment{
		Name:        filepath.Base(abs),
		URL:         "file://" + filepath.ToSlash(abs),
		ContentType: mime.TypeByExtension(filepath.Ext(abs)),
		Size:        info.Size(),
	}, nil
}

func printReply(w io.Writer, msg *transport.Outbound) {
	if msg.Text != "" {
		fmt.Fprintln(w, msg.Text)
	}
	if len(msg.Choices) > 0 {
		fmt.Fprintf(w, "  [%s]\n", strings.Join(msg.Choices, "] ["))
	}
	if msg.File != nil {
		fmt.Fprintf(w, "  file: %s (%s)\n", msg.File.Name, msg.File.URL)
	}
}
