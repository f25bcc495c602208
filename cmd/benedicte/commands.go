// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/benedicte-foundation/benedicte/chat"
	"github.com/benedicte-foundation/benedicte/lib/ref"
)

func root(out io.Writer) *command {
	return &command{
		name:    "benedicte",
		summary: "Matrix chat from the command line",
		subcommands: []*command{
			roomsCommand(out),
			joinFirstCommand(out),
			listenCommand(out),
			sendCommand(out),
			sendFileCommand(out),
			typingCommand(),
			membersCommand(out),
			presenceCommand(out),
			displayNameCommand(out),
			downloadCommand(out),
		},
	}
}

// sessionCommand builds a command that logs in before run and stops
// the session after. extraFlags may be nil.
func sessionCommand(name, summary, usage string, extraFlags func(*pflag.FlagSet), arguments int, run func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error) *command {
	var flags sessionFlags
	return &command{
		name:    name,
		summary: summary,
		usage:   usage,
		flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flags.addFlags(flagSet)
			if extraFlags != nil {
				extraFlags(flagSet)
			}
			return flagSet
		},
		run: func(ctx context.Context, args []string) error {
			if arguments >= 0 && len(args) != arguments {
				return usageError("%s takes %d argument(s), got %d\n\nUsage:\n  %s", name, arguments, len(args), usage)
			}
			manager, logger, err := connect(ctx, &flags)
			if err != nil {
				return err
			}
			defer func() {
				if err := manager.Close(); err != nil {
					logger.Warn("closing session", "error", err)
				}
			}()
			return run(ctx, manager, logger, args)
		},
	}
}

func parseRoom(raw string) (ref.RoomID, error) {
	roomID, err := ref.ParseRoomID(raw)
	if err != nil {
		return ref.RoomID{}, usageError("%v", err)
	}
	return roomID, nil
}

func parseUser(raw string) (ref.UserID, error) {
	userID, err := ref.ParseUserID(raw)
	if err != nil {
		return ref.UserID{}, usageError("%v", err)
	}
	return userID, nil
}

func roomsCommand(out io.Writer) *command {
	return sessionCommand("rooms", "List joined and invited rooms", "benedicte rooms [flags]", nil, 0,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			rooms, err := manager.Rooms()
			if err != nil {
				return err
			}
			writeRooms(out, rooms)
			return nil
		})
}

func writeRooms(out io.Writer, rooms []chat.Room) {
	tw := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tMEMBERSHIP\tNAME\tINVITED BY")
	for _, room := range rooms {
		membership := "invited"
		if room.IsJoined {
			membership = "joined"
		}
		invitedBy := room.InvitedByName
		if invitedBy == "" && !room.InvitedByUserID.IsZero() {
			invitedBy = room.InvitedByUserID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", room.ID, membership, room.DisplayName, invitedBy)
	}
	tw.Flush()
}

func joinFirstCommand(out io.Writer) *command {
	return sessionCommand("join-first", "Join the first room in the room list", "benedicte join-first [flags]", nil, 0,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			room, err := manager.JoinFirstRoom(ctx)
			if err != nil {
				return err
			}
			if room == nil {
				fmt.Fprintln(out, "no rooms")
				return nil
			}
			fmt.Fprintf(out, "%s\t%s\n", room.ID, room.DisplayName)
			return nil
		})
}

func listenCommand(out io.Writer) *command {
	var pages int
	return sessionCommand("listen", "Print a room's history and follow new messages until interrupted",
		"benedicte listen <room-id> [flags]",
		func(flagSet *pflag.FlagSet) {
			flagSet.IntVar(&pages, "pages", 0, "additional history pages to load after the first")
		}, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			roomID, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			printer := &eventPrinter{out: out}
			if err := manager.StartMessageListener(ctx, roomID, printer.print); err != nil {
				return err
			}
			defer manager.StopMessageListener(roomID)

			for page := 0; page < pages && manager.HasMoreMessages(roomID); page++ {
				if err := manager.LoadMoreMessages(ctx, roomID, 0); err != nil {
					return err
				}
			}
			logger.Info("listening", "room_id", roomID)
			<-ctx.Done()
			return nil
		})
}

// eventPrinter writes events one line at a time. Live events arrive on
// the sync goroutine and history on the caller's, so writes are
// serialized.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) print(event chat.Event) {
	line := formatEvent(event)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func formatEvent(event chat.Event) string {
	switch event := event.(type) {
	case *chat.Message:
		var line strings.Builder
		line.WriteString(event.Timestamp.Local().Format(time.DateTime))
		if event.IsHistorical {
			line.WriteString(" (history)")
		}
		fmt.Fprintf(&line, " %s: %s", event.SenderDisplayName, event.Body)
		if event.HasAttachment() {
			fmt.Fprintf(&line, " [%s %s]", event.MsgType, event.AttachmentID)
		}
		return line.String()
	case *chat.TypingChange:
		if event.State == chat.TypingStopped {
			return "* typing stopped"
		}
		return fmt.Sprintf("* %s is typing", event.SenderDisplayName)
	}
	return ""
}

func sendCommand(out io.Writer) *command {
	return sessionCommand("send", "Send a text message", "benedicte send <room-id> <text...> [flags]", nil, -1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			if len(args) < 2 {
				return usageError("send needs a room ID and message text")
			}
			roomID, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			eventID, err := manager.SendMessage(ctx, roomID, chat.OutgoingMessage{Text: strings.Join(args[1:], " ")})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, eventID)
			return nil
		})
}

func sendFileCommand(out io.Writer) *command {
	var contentType string
	return sessionCommand("send-file", "Upload a file and post it to a room", "benedicte send-file <room-id> <path> [flags]",
		func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&contentType, "content-type", "", "media type (default: from the file extension)")
		}, 2,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			roomID, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			var uploaded chat.UploadResult
			transfer, err := manager.UploadAttachment(ctx, chat.UploadRequest{
				Path:        args[1],
				ContentType: contentType,
				OnComplete:  func(result chat.UploadResult) { uploaded = result },
			})
			if err != nil {
				return err
			}
			if err := transfer.Wait(); err != nil {
				return err
			}
			eventID, err := manager.SendMessage(ctx, roomID, chat.OutgoingMessage{
				ContentURL: uploaded.ContentURI,
				Filename:   uploaded.Filename,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\n", eventID, uploaded.ContentURI)
			return nil
		})
}

func typingCommand() *command {
	var (
		stop    bool
		timeout time.Duration
	)
	return sessionCommand("typing", "Set the typing indicator in a room", "benedicte typing <room-id> [flags]",
		func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&stop, "stop", false, "clear the indicator instead of setting it")
			flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "how long the server shows the indicator")
		}, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			roomID, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			return manager.SendTypingState(ctx, roomID, !stop, timeout)
		})
}

func membersCommand(out io.Writer) *command {
	return sessionCommand("members", "List a room's members", "benedicte members <room-id> [flags]", nil, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			roomID, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			members, err := manager.GetRoomMembers(ctx, roomID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tMEMBERSHIP\tDISPLAY NAME")
			for _, member := range members {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", member.UserID, member.Membership, member.DisplayName)
			}
			return tw.Flush()
		})
}

func presenceCommand(out io.Writer) *command {
	return sessionCommand("presence", "Show a user's presence", "benedicte presence <user-id> [flags]", nil, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			presence, err := manager.GetUserPresence(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s", userID, presence.Presence)
			if presence.LastActiveAgo > 0 {
				fmt.Fprintf(out, "\tlast active %s ago", time.Duration(presence.LastActiveAgo)*time.Millisecond)
			}
			if presence.StatusMsg != "" {
				fmt.Fprintf(out, "\t%s", presence.StatusMsg)
			}
			fmt.Fprintln(out)
			return nil
		})
}

func displayNameCommand(out io.Writer) *command {
	return sessionCommand("display-name", "Show a user's profile display name", "benedicte display-name <user-id> [flags]", nil, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			userID, err := parseUser(args[0])
			if err != nil {
				return err
			}
			name, err := manager.GetMemberDisplayName(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, name)
			return nil
		})
}

func downloadCommand(out io.Writer) *command {
	var server, output string
	return sessionCommand("download", "Download an attachment", "benedicte download <attachment-id> [flags]",
		func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&server, "media-server", "", "origin server of the media (default: your homeserver)")
			flagSet.StringVarP(&output, "output", "o", "", "destination file (default: attachments.download_dir/<attachment-id>)")
		}, 1,
		func(ctx context.Context, manager *chat.Manager, logger *slog.Logger, args []string) error {
			var downloaded chat.DownloadResult
			transfer, err := manager.DownloadAttachment(ctx, chat.DownloadRequest{
				AttachmentID: args[0],
				Server:       server,
				Destination:  output,
				OnComplete:   func(result chat.DownloadResult) { downloaded = result },
			})
			if err != nil {
				return err
			}
			if err := transfer.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%d bytes\tblake3:%s\n", downloaded.Path, downloaded.Size, downloaded.Digest)
			return nil
		})
}
