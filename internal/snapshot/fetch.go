package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/isy-shadow/internal/rest"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// Logger is the minimal logging interface the fetcher requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Fetcher retrieves the full entity snapshot from the controller's
// REST interface: nodes and groups, programs and folders, and both
// variable types. The result seeds the shadow tree before the event
// stream opens.
type Fetcher struct {
	client *rest.Client
	logger Logger
}

// NewFetcher creates a snapshot fetcher. A nil logger disables logging.
func NewFetcher(client *rest.Client, logger Logger) *Fetcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Fetcher{client: client, logger: logger}
}

// Fetch retrieves all entities. Nodes are mandatory; program and
// variable fetch failures degrade to a partial snapshot with a
// warning, since not every controller has them configured.
func (f *Fetcher) Fetch(ctx context.Context) ([]shadow.SeedEntry, error) {
	now := time.Now()

	nodesData, err := f.client.Get(ctx, "/rest/nodes")
	if err != nil {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}
	entries, err := parseNodes(nodesData)
	if err != nil {
		return nil, err
	}

	programs, err := f.fetchPrograms(ctx)
	if err != nil {
		f.logger.Warn("program snapshot unavailable", "error", err)
	} else {
		entries = append(entries, programs...)
	}

	variables, err := f.fetchVariables(ctx, now)
	if err != nil {
		f.logger.Warn("variable snapshot unavailable", "error", err)
	} else {
		entries = append(entries, variables...)
	}

	f.logger.Info("snapshot fetched", "entities", len(entries))
	return entries, nil
}

func (f *Fetcher) fetchPrograms(ctx context.Context) ([]shadow.SeedEntry, error) {
	data, err := f.client.Get(ctx, "/rest/programs?subfolders=true")
	if err != nil {
		return nil, fmt.Errorf("fetch programs: %w", err)
	}
	return parsePrograms(data)
}

// fetchVariables retrieves both variable types (1: integer, 2: state)
// and decorates them with names from the definitions documents.
// A type with no variables defined returns 404 and is skipped.
func (f *Fetcher) fetchVariables(ctx context.Context, now time.Time) ([]shadow.SeedEntry, error) {
	var all []shadow.SeedEntry

	for _, varType := range []string{"1", "2"} {
		data, err := f.client.Get(ctx, "/rest/vars/get/"+varType)
		if err != nil {
			f.logger.Debug("no variables of type", "type", varType, "error", err)
			continue
		}
		entries, err := parseVariables(data, now)
		if err != nil {
			return nil, err
		}

		if names := f.fetchVariableNames(ctx, varType); names != nil {
			for i := range entries {
				_, id, _ := addressParts(entries[i].Address)
				if name, ok := names[id]; ok && name != "" {
					entries[i].Name = name
				}
			}
		}

		all = append(all, entries...)
	}
	return all, nil
}

func (f *Fetcher) fetchVariableNames(ctx context.Context, varType string) map[string]string {
	data, err := f.client.Get(ctx, "/rest/vars/definitions/"+varType)
	if err != nil {
		return nil
	}
	names, err := parseVariableNames(data)
	if err != nil {
		f.logger.Debug("variable definitions unparsable", "type", varType, "error", err)
		return nil
	}
	return names
}

// addressParts splits a variable address "type.id".
func addressParts(addr shadow.Address) (varType, id string, ok bool) {
	s := string(addr)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", s, false
}
