package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aicoder88/roigpt-sub000/internal/app"
	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

var trackFlags struct {
	category string
	action   string
	label    string
	value    string
	userID   string
	props    map[string]string
}

var trackCmd = &cobra.Command{
	Use:   "track NAME",
	Short: "Send one event through the dispatcher",
	Long: `Builds the dispatcher from the current configuration, initializes the
providers and tracks a single event. The event is subject to the same
consent and environment rules as the HTTP API, so it is dropped unless
tracking is allowed. Prints the dispatcher status afterwards.

Example:
  analyticsd track button_click --category engagement --label signup --prop plan=pro`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

func init() {
	f := trackCmd.Flags()
	f.StringVar(&trackFlags.category, "category", "", "event category")
	f.StringVar(&trackFlags.action, "action", "", "event action")
	f.StringVar(&trackFlags.label, "label", "", "event label")
	f.StringVar(&trackFlags.value, "value", "", "numeric event value")
	f.StringVar(&trackFlags.userID, "user", "", "user id")
	f.StringToStringVar(&trackFlags.props, "prop", nil, "event property as key=value (repeatable)")
}

func runTrack(cmd *cobra.Command, args []string) error {
	ev := domain.Event{
		Name:     args[0],
		Category: trackFlags.category,
		Action:   trackFlags.action,
		Label:    trackFlags.label,
		UserID:   trackFlags.userID,
	}
	if trackFlags.value != "" {
		v, err := strconv.ParseFloat(trackFlags.value, 64)
		if err != nil {
			return fmt.Errorf("--value: %w", err)
		}
		ev.Value = &v
	}
	if len(trackFlags.props) > 0 {
		ev.Properties = make(map[string]any, len(trackFlags.props))
		for k, v := range trackFlags.props {
			ev.Properties[k] = v
		}
	}
	if errs := domain.ValidateEvent(&ev); len(errs) > 0 {
		return fmt.Errorf("invalid event: %w", errs[0])
	}

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Dispatcher.Initialize(ctx)
	a.Dispatcher.Track(ctx, ev)
	status := a.Dispatcher.Status(ctx)
	if err := a.Close(); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
