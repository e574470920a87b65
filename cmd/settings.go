package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/config"
	"github.com/weightfetch/weightfetch/internal/ui"
)

type settingsDoc map[string]map[string]any

func toDoc(s *config.Settings) (settingsDoc, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc settingsDoc
	err = json.Unmarshal(data, &doc)
	return doc, err
}

func fromDoc(doc settingsDoc) (*config.Settings, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	s := config.DefaultSettings()
	err = json.Unmarshal(data, s)
	return s, err
}

// findSetting locates key in the metadata and returns its category.
func findSetting(key string) (string, config.SettingMeta, bool) {
	meta := config.GetSettingsMetadata()
	for _, cat := range config.CategoryOrder() {
		for _, m := range meta[cat] {
			if m.Key == key {
				return cat, m, true
			}
		}
	}
	return "", config.SettingMeta{}, false
}

func parseSettingValue(meta config.SettingMeta, raw string) (any, error) {
	switch meta.Type {
	case "bool":
		return strconv.ParseBool(raw)
	case "int":
		return strconv.Atoi(raw)
	case "duration":
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return int64(d), nil
	case "[]string":
		var out []string
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	}
	return raw, nil
}

func formatSettingValue(meta config.SettingMeta, v any) string {
	switch meta.Type {
	case "duration":
		if n, ok := v.(float64); ok {
			return time.Duration(int64(n)).String()
		}
	case "[]string":
		list, _ := v.([]any)
		parts := make([]string, 0, len(list))
		for _, p := range list {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printSettings(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting in settings.json",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cat, meta, ok := findSetting(args[0])
				if !ok {
					return fmt.Errorf("unknown setting %q", args[0])
				}
				value, err := parseSettingValue(meta, args[1])
				if err != nil {
					return fmt.Errorf("invalid value for %s: %w", meta.Key, err)
				}

				// Start from the file, not the env-adjusted view.
				current, err := config.LoadSettings()
				if err != nil {
					return err
				}
				doc, err := toDoc(current)
				if err != nil {
					return err
				}
				doc[strings.ToLower(cat)][meta.Key] = value
				updated, err := fromDoc(doc)
				if err != nil {
					return err
				}
				if err := config.SaveSettings(updated); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("%s = %s", meta.Key, args[1]))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the settings file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), config.GetSettingsPath())
			},
		},
	)
	return cmd
}

func (a *app) printSettings(w io.Writer) error {
	if a.jsonOut {
		return json.NewEncoder(w).Encode(a.settings)
	}
	doc, err := toDoc(a.settings)
	if err != nil {
		return err
	}
	meta := config.GetSettingsMetadata()
	for _, cat := range config.CategoryOrder() {
		fmt.Fprintln(w, ui.TitleStyle.Render(cat))
		rows := make([][2]string, 0, len(meta[cat]))
		for _, m := range meta[cat] {
			rows = append(rows, [2]string{m.Key, formatSettingValue(m, doc[strings.ToLower(cat)][m.Key])})
		}
		fmt.Fprint(w, ui.KeyValue(rows))
	}
	return nil
}
