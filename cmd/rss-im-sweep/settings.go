package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luksan/rss-im-sweep/internal/model"
)

var errNotPersisted = errors.New("variable is not persisted")

func newSettingsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or edit the settings file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted settings, defaults filled in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := o.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return loadSettings(o, logger).Store(cmd.OutOrStdout())
		},
	}

	set := &cobra.Command{
		Use:   "set name=value...",
		Short: "Change persisted settings",
		Long: `Values are parsed as JSON. A value that does not decode as JSON is
taken as a string, so zva_address=10.0.0.5 and zva_address='"10.0.0.5"'
are equal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := o.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s := loadSettings(o, logger)
			if err := applyAssignments(s, args); err != nil {
				return err
			}
			return s.StoreFile(o.settingsPath)
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// applyAssignments decodes every name=value pair before applying any.
func applyAssignments(s *model.Settings, args []string) error {
	applies := make([]func(), 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected name=value, got %q", arg)
		}
		e, err := s.Lookup(name)
		if err != nil {
			return err
		}
		if !e.Persistent() {
			return fmt.Errorf("%s: %w", name, errNotPersisted)
		}
		apply, err := decodeValue(e, value)
		if err != nil {
			return err
		}
		applies = append(applies, apply)
	}
	for _, apply := range applies {
		apply()
	}
	return nil
}

func decodeValue(e model.Entry, value string) (func(), error) {
	raw := json.RawMessage(value)
	if json.Valid(raw) {
		apply, err := e.Decode(raw)
		if err == nil {
			return apply, nil
		}
		if strings.HasPrefix(strings.TrimSpace(value), `"`) {
			return nil, err
		}
	}
	quoted, _ := json.Marshal(value)
	return e.Decode(quoted)
}
