package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is the syntax of a hook configuration file
type Format string

// Format constants
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the configuration format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", errors.Errorf("unsupported hook config extension %q", filepath.Ext(path))
	}
}

// command is the argv of a hook. In configuration it is either a string,
// which is run through `sh -c`, or a list of arguments executed directly.
type command []string

var commandType = reflect.TypeOf(command{})

// hookRecord is the flat configuration format:
//
//	hooks:
//	  - id: lint
//	    event: PreToolUse
//	    matcher: Edit|Write
//	    command: ./scripts/lint.sh
//	    blocking: true
//	    timeout_ms: 5000
type hookRecord struct {
	ID        string  `mapstructure:"id"`
	Event     string  `mapstructure:"event"`
	Matcher   string  `mapstructure:"matcher"`
	Command   command `mapstructure:"command"`
	Blocking  bool    `mapstructure:"blocking"`
	TimeoutMs *int    `mapstructure:"timeout_ms"`
}

// settingsGroup is one matcher entry of the host settings format:
//
//	{"hooks": {"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "...", "timeout": 30}]}]}}
//
// where timeout is in seconds.
type settingsGroup struct {
	Matcher string         `mapstructure:"matcher"`
	Hooks   []settingsHook `mapstructure:"hooks"`
}

type settingsHook struct {
	ID       string   `mapstructure:"id"`
	Type     string   `mapstructure:"type"`
	Command  command  `mapstructure:"command"`
	Blocking bool     `mapstructure:"blocking"`
	Timeout  *float64 `mapstructure:"timeout"`
}

// LoadFile reads hook definitions from a YAML or JSON (comments allowed) file
func LoadFile(path string) ([]*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read hook config %s", path)
	}
	return Parse(path, format, content)
}

// Parse decodes hook definitions from content. Definitions are returned in
// source order; the registry assigns registration order.
func Parse(source string, format Format, content []byte) ([]*Definition, error) {
	var raw map[string]interface{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(jsonc.ToJSON(content), &raw); err != nil {
			return nil, errors.Wrapf(err, "failed to parse hook config %s", source)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, errors.Wrapf(err, "failed to parse hook config %s", source)
		}
	default:
		return nil, errors.Errorf("unsupported hook config format %q", format)
	}

	switch hooks := raw["hooks"].(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return parseFlat(source, hooks)
	case map[string]interface{}:
		return parseSettings(source, hooks)
	default:
		return nil, errors.Errorf("hook config %s: `hooks` must be a list or a map of events, got %T", source, hooks)
	}
}

func parseFlat(source string, raw []interface{}) ([]*Definition, error) {
	var records []hookRecord
	if err := decode(raw, &records); err != nil {
		return nil, errors.Wrapf(err, "hook config %s", source)
	}

	var result *multierror.Error
	defs := make([]*Definition, 0, len(records))
	for i, rec := range records {
		id := rec.ID
		if id == "" {
			id = generatedID(source, rec.Event, rec.Matcher, i)
		}

		event, err := ParseEvent(rec.Event)
		if err != nil {
			result = multierror.Append(result, &ValidationError{ID: id, Source: source, Err: err})
			continue
		}

		timeout := DefaultTimeout
		if rec.TimeoutMs != nil {
			timeout = time.Duration(*rec.TimeoutMs) * time.Millisecond
		}

		defs = append(defs, &Definition{
			ID:          id,
			Event:       event,
			ToolMatcher: rec.Matcher,
			Command:     rec.Command,
			Blocking:    rec.Blocking,
			Timeout:     timeout,
			Source:      source,
		})
	}

	return defs, result.ErrorOrNil()
}

func parseSettings(source string, raw map[string]interface{}) ([]*Definition, error) {
	var groups map[string][]settingsGroup
	if err := decode(raw, &groups); err != nil {
		return nil, errors.Wrapf(err, "hook config %s", source)
	}

	// Map iteration is random; events are emitted in a fixed order.
	events := make([]string, 0, len(groups))
	for name := range groups {
		events = append(events, name)
	}
	sort.Strings(events)

	var result *multierror.Error
	var defs []*Definition
	for _, name := range events {
		event, err := ParseEvent(name)
		if err != nil {
			// Hosts define more events than this core dispatches.
			continue
		}

		index := 0
		for _, group := range groups[name] {
			for _, h := range group.Hooks {
				id := h.ID
				if id == "" {
					id = generatedID(source, name, group.Matcher, index)
				}
				index++

				if h.Type != "" && h.Type != "command" {
					result = multierror.Append(result, &ValidationError{
						ID: id, Source: source, Err: errors.Errorf("unsupported hook type %q", h.Type),
					})
					continue
				}

				timeout := DefaultTimeout
				if h.Timeout != nil {
					timeout = time.Duration(*h.Timeout * float64(time.Second))
				}

				defs = append(defs, &Definition{
					ID:          id,
					Event:       event,
					ToolMatcher: group.Matcher,
					Command:     h.Command,
					Blocking:    h.Blocking,
					Timeout:     timeout,
					Source:      source,
				})
			}
		}
	}

	return defs, result.ErrorOrNil()
}

// generatedID names a hook without an explicit id. The source is part of the
// id so that unnamed hooks from different files never replace each other.
func generatedID(source, event, matcher string, index int) string {
	if matcher == "" {
		matcher = "*"
	}
	return fmt.Sprintf("%s#%s/%s/%d", source, event, matcher, index)
}

func decode(input, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		DecodeHook:       commandHook,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create hook config decoder")
	}
	return decoder.Decode(input)
}

// commandHook turns a command string into `sh -c <string>` and a list into
// argv.
func commandHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != commandType {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return command{}, nil
		}
		return command{"sh", "-c", v}, nil
	case []interface{}:
		argv := make(command, 0, len(v))
		for _, arg := range v {
			argv = append(argv, fmt.Sprint(arg))
		}
		return argv, nil
	default:
		return nil, errors.Errorf("command must be a string or a list, got %s", from)
	}
}
