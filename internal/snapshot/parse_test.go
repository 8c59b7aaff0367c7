package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

const nodesFixture = `<?xml version="1.0"?>
<nodes>
  <root>Nodes</root>
  <node flag="128">
    <address>16 2E 45 1</address>
    <name>Kitchen Light</name>
    <enabled>true</enabled>
    <property id="ST" value="255" formatted="On" uom="100" prec="0"/>
    <property id="OL" value="255" formatted="100%" uom="100"/>
  </node>
  <node flag="128">
    <address>21 A4 11 1</address>
    <name>Porch Sensor</name>
    <enabled>false</enabled>
    <property id="ST" value="" formatted=" "/>
  </node>
  <group flag="132">
    <address>22063</address>
    <name>Downstairs</name>
  </group>
</nodes>`

func TestParseNodes(t *testing.T) {
	entries, err := parseNodes([]byte(nodesFixture))
	if err != nil {
		t.Fatalf("parseNodes() error = %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	kitchen := entries[0]
	if kitchen.Address != "16 2E 45 1" {
		t.Errorf("Address = %q, want %q", kitchen.Address, "16 2E 45 1")
	}
	if kitchen.Kind != shadow.KindNode {
		t.Errorf("Kind = %q, want node", kitchen.Kind)
	}
	if kitchen.Name != "Kitchen Light" {
		t.Errorf("Name = %q, want %q", kitchen.Name, "Kitchen Light")
	}
	if !kitchen.Enabled {
		t.Error("Enabled = false, want true")
	}
	if kitchen.State.Status.Value != "255" || kitchen.State.Status.UOM != "100" {
		t.Errorf("Status = %+v, want value 255 uom 100", kitchen.State.Status)
	}
	if ol := kitchen.State.Aux["OL"]; ol.Value != "255" {
		t.Errorf("Aux[OL] = %+v, want value 255", ol)
	}

	if entries[1].Enabled {
		t.Error("disabled node parsed as enabled")
	}

	group := entries[2]
	if group.Kind != shadow.KindGroup {
		t.Errorf("Kind = %q, want group", group.Kind)
	}
	if group.Address != "22063" {
		t.Errorf("group Address = %q, want %q", group.Address, "22063")
	}
}

const programsFixture = `<?xml version="1.0"?>
<programs>
  <program id="0001" status="true" folder="true">
    <name>My Programs</name>
  </program>
  <program id="001A" status="false" folder="false" enabled="true" runAtStartup="false" running="idle">
    <name>Morning Scene</name>
    <lastRunTime>2023/08/15 07:30:00</lastRunTime>
    <lastFinishTime>2023/08/15 07:30:02</lastFinishTime>
  </program>
</programs>`

func TestParsePrograms(t *testing.T) {
	entries, err := parsePrograms([]byte(programsFixture))
	if err != nil {
		t.Fatalf("parsePrograms() error = %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	folder := entries[0]
	if folder.Kind != shadow.KindFolder {
		t.Errorf("Kind = %q, want folder", folder.Kind)
	}

	program := entries[1]
	if program.Kind != shadow.KindProgram {
		t.Errorf("Kind = %q, want program", program.Kind)
	}
	if program.Address != "001A" {
		t.Errorf("Address = %q, want %q", program.Address, "001A")
	}
	if program.Name != "Morning Scene" {
		t.Errorf("Name = %q, want %q", program.Name, "Morning Scene")
	}
	if program.State.Aux["enabled"].Value != "1" {
		t.Errorf("Aux[enabled] = %+v, want value 1", program.State.Aux["enabled"])
	}
	if program.State.Aux["runAtStartup"].Value != "0" {
		t.Errorf("Aux[runAtStartup] = %+v, want value 0", program.State.Aux["runAtStartup"])
	}
	if program.State.Aux["lastRunTime"].Value != "2023/08/15 07:30:00" {
		t.Errorf("Aux[lastRunTime] = %+v", program.State.Aux["lastRunTime"])
	}
}

const varsFixture = `<?xml version="1.0"?>
<vars>
  <var type="2" id="14">
    <init prec="0">0</init>
    <val prec="1">55</val>
    <ts>20230815 07:30:00</ts>
  </var>
  <var type="2" id="15">
    <init prec="0">10</init>
    <val prec="0">10</val>
    <ts>20230815 07:30:00</ts>
  </var>
</vars>`

func TestParseVariables(t *testing.T) {
	now := time.Now()
	entries, err := parseVariables([]byte(varsFixture), now)
	if err != nil {
		t.Fatalf("parseVariables() error = %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	v := entries[0]
	if v.Address != "2.14" {
		t.Errorf("Address = %q, want %q", v.Address, "2.14")
	}
	if v.Kind != shadow.KindVariable {
		t.Errorf("Kind = %q, want variable", v.Kind)
	}
	if v.State.Status.Value != "55" || v.State.Status.Precision != "1" {
		t.Errorf("Status = %+v, want value 55 prec 1", v.State.Status)
	}
	if v.State.Aux["init"].Value != "0" {
		t.Errorf("Aux[init] = %+v, want value 0", v.State.Aux["init"])
	}
	if !v.State.LastChanged.Equal(now) {
		t.Errorf("LastChanged = %v, want %v", v.State.LastChanged, now)
	}
}

func TestParseVariableNames(t *testing.T) {
	data := []byte(`<CList><e id="14" name="Thermostat Setpoint"/><e id="15" name="Away Mode"/></CList>`)

	names, err := parseVariableNames(data)
	if err != nil {
		t.Fatalf("parseVariableNames() error = %v", err)
	}
	if names["14"] != "Thermostat Setpoint" {
		t.Errorf("names[14] = %q, want %q", names["14"], "Thermostat Setpoint")
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := parseNodes([]byte(`<nodes><node>`)); !errors.Is(err, ErrParseFailed) {
		t.Errorf("parseNodes error = %v, want ErrParseFailed", err)
	}
	if _, err := parsePrograms([]byte(`not xml`)); !errors.Is(err, ErrParseFailed) {
		t.Errorf("parsePrograms error = %v, want ErrParseFailed", err)
	}
	if _, err := parseVariables([]byte(`<vars><var`), time.Now()); !errors.Is(err, ErrParseFailed) {
		t.Errorf("parseVariables error = %v, want ErrParseFailed", err)
	}
}
