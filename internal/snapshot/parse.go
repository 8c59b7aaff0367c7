package snapshot

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// ErrParseFailed indicates a malformed snapshot document.
var ErrParseFailed = errors.New("snapshot: parse failed")

// /rest/nodes document.
type nodesDoc struct {
	XMLName xml.Name   `xml:"nodes"`
	Nodes   []nodeElem `xml:"node"`
	Groups  []nodeElem `xml:"group"`
}

type nodeElem struct {
	Flag       string     `xml:"flag,attr"`
	Address    string     `xml:"address"`
	Name       string     `xml:"name"`
	Enabled    string     `xml:"enabled"`
	Properties []propElem `xml:"property"`
}

type propElem struct {
	ID        string `xml:"id,attr"`
	Value     string `xml:"value,attr"`
	Formatted string `xml:"formatted,attr"`
	UOM       string `xml:"uom,attr"`
	Precision string `xml:"prec,attr"`
}

// /rest/programs?subfolders=true document.
type programsDoc struct {
	XMLName  xml.Name      `xml:"programs"`
	Programs []programElem `xml:"program"`
}

type programElem struct {
	ID           string `xml:"id,attr"`
	Status       string `xml:"status,attr"`
	Folder       string `xml:"folder,attr"`
	Enabled      string `xml:"enabled,attr"`
	RunAtStartup string `xml:"runAtStartup,attr"`
	Running      string `xml:"running,attr"`
	Name         string `xml:"name"`
	LastRunTime  string `xml:"lastRunTime"`
	LastFinish   string `xml:"lastFinishTime"`
}

// /rest/vars/get/{type} document.
type varsDoc struct {
	XMLName xml.Name  `xml:"vars"`
	Vars    []varElem `xml:"var"`
}

type varElem struct {
	Type string  `xml:"type,attr"`
	ID   string  `xml:"id,attr"`
	Init valElem `xml:"init"`
	Val  valElem `xml:"val"`
	TS   string  `xml:"ts"`
}

type valElem struct {
	Precision string `xml:"prec,attr"`
	Value     string `xml:",chardata"`
}

// parseNodes converts a /rest/nodes document into seed entries for
// nodes and groups. Properties other than the primary status land in
// the entity's auxiliary map.
func parseNodes(data []byte) ([]shadow.SeedEntry, error) {
	var doc nodesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: nodes: %w", ErrParseFailed, err)
	}

	entries := make([]shadow.SeedEntry, 0, len(doc.Nodes)+len(doc.Groups))
	for _, n := range doc.Nodes {
		entries = append(entries, nodeSeedEntry(n, shadow.KindNode))
	}
	for _, g := range doc.Groups {
		entries = append(entries, nodeSeedEntry(g, shadow.KindGroup))
	}
	return entries, nil
}

func nodeSeedEntry(n nodeElem, kind shadow.Kind) shadow.SeedEntry {
	state := shadow.State{Aux: make(map[string]shadow.Property)}
	for _, p := range n.Properties {
		prop := shadow.Property{
			Value:     p.Value,
			Formatted: p.Formatted,
			UOM:       p.UOM,
			Precision: p.Precision,
		}
		if prop.Formatted == "" {
			prop.Formatted = prop.Value
		}
		if p.ID == shadow.StatusKey {
			state.Status = prop
		} else {
			state.Aux[p.ID] = prop
		}
	}

	return shadow.SeedEntry{
		Address: shadow.Address(n.Address),
		Kind:    kind,
		Name:    n.Name,
		Enabled: n.Enabled != "false",
		State:   state,
	}
}

// parsePrograms converts a /rest/programs document into seed entries
// for programs and folders.
func parsePrograms(data []byte) ([]shadow.SeedEntry, error) {
	var doc programsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: programs: %w", ErrParseFailed, err)
	}

	entries := make([]shadow.SeedEntry, 0, len(doc.Programs))
	for _, p := range doc.Programs {
		kind := shadow.KindProgram
		if p.Folder == "true" {
			kind = shadow.KindFolder
		}

		aux := make(map[string]shadow.Property)
		if p.Running != "" {
			aux["running"] = shadow.Property{Value: p.Running, Formatted: p.Running}
		}
		if p.Enabled != "" {
			aux["enabled"] = flagProperty(p.Enabled == "true")
		}
		if p.RunAtStartup != "" {
			aux["runAtStartup"] = flagProperty(p.RunAtStartup == "true")
		}
		if p.LastRunTime != "" {
			aux["lastRunTime"] = shadow.Property{Value: p.LastRunTime, Formatted: p.LastRunTime}
		}
		if p.LastFinish != "" {
			aux["lastFinishTime"] = shadow.Property{Value: p.LastFinish, Formatted: p.LastFinish}
		}

		entries = append(entries, shadow.SeedEntry{
			Address: shadow.Address(p.ID),
			Kind:    kind,
			Name:    p.Name,
			Enabled: p.Enabled != "false",
			State: shadow.State{
				Status: shadow.Property{Value: p.Status, Formatted: p.Status},
				Aux:    aux,
			},
		})
	}
	return entries, nil
}

func flagProperty(v bool) shadow.Property {
	if v {
		return shadow.Property{Value: "1", Formatted: "true"}
	}
	return shadow.Property{Value: "0", Formatted: "false"}
}

// parseVariables converts a /rest/vars/get document into seed entries.
// Variable addresses combine type and ID ("2.14"); names are filled in
// later from the definitions document when available.
func parseVariables(data []byte, lastChanged time.Time) ([]shadow.SeedEntry, error) {
	var doc varsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: variables: %w", ErrParseFailed, err)
	}

	entries := make([]shadow.SeedEntry, 0, len(doc.Vars))
	for _, v := range doc.Vars {
		aux := map[string]shadow.Property{
			"init": {
				Value:     v.Init.Value,
				Formatted: v.Init.Value,
				Precision: v.Init.Precision,
			},
		}
		entries = append(entries, shadow.SeedEntry{
			Address: shadow.Address(v.Type + "." + v.ID),
			Kind:    shadow.KindVariable,
			Name:    "Variable " + v.Type + "." + v.ID,
			Enabled: true,
			State: shadow.State{
				Status: shadow.Property{
					Value:     v.Val.Value,
					Formatted: v.Val.Value,
					Precision: v.Val.Precision,
				},
				LastChanged: lastChanged,
				Aux:         aux,
			},
		})
	}
	return entries, nil
}

// /rest/vars/definitions/{type} document.
type varDefsDoc struct {
	XMLName xml.Name     `xml:"CList"`
	Entries []varDefElem `xml:"e"`
}

type varDefElem struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// parseVariableNames extracts id -> name from a variable definitions
// document.
func parseVariableNames(data []byte) (map[string]string, error) {
	var doc varDefsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: variable definitions: %w", ErrParseFailed, err)
	}
	names := make(map[string]string, len(doc.Entries))
	for _, e := range doc.Entries {
		names[e.ID] = e.Name
	}
	return names, nil
}
