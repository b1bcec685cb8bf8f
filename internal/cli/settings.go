package cli

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kevin-cantwell/docsql/internal/postrender"
	"github.com/kevin-cantwell/docsql/internal/render"
	"github.com/kevin-cantwell/docsql/internal/settings"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change persisted settings and feature flags",
	}
	cmd.AddCommand(
		newSettingsShowCmd(),
		newSettingsGetCmd(),
		newSettingsSetCmd(),
		newSettingsToggleCmd(),
		newSettingsDebugCmd(),
		newSettingsLevelCmd(),
	)
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print all settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				out, err := yaml.Marshal(s.settings.State())
				if err != nil {
					return err
				}
				_, err = s.stdout.Write(out)
				return err
			})
		},
	}
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one general setting or feature flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				name := args[0]
				switch {
				case s.settings.HasValue(name):
					v, _ := s.settings.GetValue(name)
					fmt.Fprintln(s.stdout, formatSetting(v))
				case s.settings.HasFeature(name):
					on, _ := s.settings.IsFeatureEnabled(name)
					fmt.Fprintln(s.stdout, on)
				default:
					return &settings.KeyError{Kind: "setting", Name: name}
				}
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a general setting",
		Long: `Change a general setting. VALUE is parsed according to the setting's
current kind (number, boolean or string).`,
		Example: `  docsql settings set renderFormat table
  docsql settings set reRenderDelay 250`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				name := args[0]
				cur, err := s.settings.GetValue(name)
				if err != nil {
					return err
				}
				v, err := parseSetting(cur, args[1])
				if err != nil {
					return fmt.Errorf("setting %q: %w", name, err)
				}
				if err := checkChoice(name, v); err != nil {
					return err
				}
				if err := s.settings.SetValue(name, v); err != nil {
					return err
				}
				nv, _ := s.settings.GetValue(name)
				fmt.Fprintf(s.stdout, "%s = %s\n", name, formatSetting(nv))
				return nil
			})
		},
	}
}

func newSettingsToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle FLAG [on|off]",
		Short: "Flip a feature flag, or set it explicitly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				name := args[0]
				cur, err := s.settings.IsFeatureEnabled(name)
				if err != nil {
					return err
				}
				want := !cur
				if len(args) == 2 {
					if want, err = parseSwitch(args[1]); err != nil {
						return err
					}
				}
				on, err := s.settings.ToggleFeature(name, want)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.stdout, "%s = %t\n", name, on)
				return nil
			})
		},
	}
}

func newSettingsDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Flip debug logging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				fmt.Fprintf(s.stdout, "%s = %t\n", settings.FeatureDebug, s.settings.ToggleDebug())
				return nil
			})
		},
	}
}

func newSettingsLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "log-level COMPONENT=LEVEL...",
		Short:   "Replace the per-component minimum log levels",
		Example: `  docsql settings log-level default=warn vault=debug`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			levels := make(map[string]string, len(args))
			for _, arg := range args {
				component, level, ok := strings.Cut(arg, "=")
				if !ok || component == "" || level == "" {
					return fmt.Errorf("invalid level %q (want component=level)", arg)
				}
				levels[component] = level
			}
			return withSession(cmd, func(s *session) error {
				st, err := s.settings.UpdateSettings(settings.Partial{
					LoggingOptions: &settings.LoggingOptions{MinLevels: levels},
				})
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(st.LoggingOptions)
				if err != nil {
					return err
				}
				_, err = s.stdout.Write(out)
				return err
			})
		},
	}
}

// parseSetting parses raw as the kind of cur.
func parseSetting(cur any, raw string) (any, error) {
	switch cur.(type) {
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case string:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported kind %T", cur)
	}
}

// checkChoice rejects renderer and strategy names that do not exist.
func checkChoice(name string, v any) error {
	switch name {
	case settings.KeyRenderFormat:
		_, err := render.Lookup(v.(string))
		return err
	case settings.KeyPostRenderStrategy:
		if !slices.Contains(postrender.Names(), v.(string)) {
			return fmt.Errorf("%w: %q", postrender.ErrUnknownStrategy, v)
		}
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, errors.New("want on or off, got " + strconv.Quote(s))
}

func formatSetting(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
