package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/appetiteclub/expo/pkg/kitchenstream"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func TailCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow live kitchen item events",
		Long: `Connects to the kitchen gRPC event stream and prints one line per event.
The stream opens with the active items of the channel, then follows changes.

Usage:
  expo-utils tail                   # every station
  expo-utils tail --station grill   # one station`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := e.setting(cmd, "addr", "grpc.addr", defaultGRPCAddr)
			stationFilter, _ := cmd.Flags().GetString("station")

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("cannot dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx := cmd.Context()
			client := kitchenstream.NewClient(conn)
			evts, wait, err := client.Subscribe(ctx, stationFilter)
			if err != nil {
				return err
			}

			e.logger.Info("Tailing kitchen events", "addr", addr, "station", stationFilter)
			out := cmd.OutOrStdout()
			for evt := range evts {
				fmt.Fprintln(out, formatEvent(evt))
			}

			err = wait()
			if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream ended: %w", err)
		},
	}

	cmd.Flags().String("addr", defaultGRPCAddr, "Kitchen gRPC address")
	cmd.Flags().String("station", "", "Only follow this station")
	return cmd
}

var (
	timeColor   = color.New(color.Faint)
	urgentColor = color.New(color.FgHiRed, color.Bold)
	typeColor   = color.New(color.FgHiBlue)
)

// formatEvent renders one event as a single line.
func formatEvent(evt event.StatusChangeEvent) string {
	var b strings.Builder

	b.WriteString(timeColor.Sprint(evt.OccurredAt.Local().Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(typeColor.Sprintf("%-14s", shortType(evt.EventType)))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-8s", strings.ToUpper(evt.Station))
	b.WriteString(" ")
	b.WriteString(statusColor(evt.NewStatus).Sprintf("%-7s", evt.NewStatus))
	fmt.Fprintf(&b, " %dx %s", evt.Quantity, evt.MenuItemName)

	if evt.Notes != "" {
		fmt.Fprintf(&b, " (%s)", evt.Notes)
	}
	if evt.IsUrgent {
		b.WriteString(" ")
		b.WriteString(urgentColor.Sprint("URGENT"))
	}
	if evt.ActorID != "" {
		b.WriteString(timeColor.Sprintf(" by %s", evt.ActorID))
	}
	return b.String()
}

func shortType(eventType string) string {
	return strings.TrimPrefix(eventType, "kitchen.item.")
}

func statusColor(code string) *color.Color {
	switch code {
	case kitchenstatus.Statuses.Pending.Code():
		return color.New(color.FgYellow)
	case kitchenstatus.Statuses.Cooking.Code():
		return color.New(color.FgHiMagenta)
	case kitchenstatus.Statuses.Done.Code():
		return color.New(color.FgHiGreen)
	default:
		return color.New(color.FgWhite)
	}
}
