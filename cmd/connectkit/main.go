// Command connectkit is the thin CLI front end for a declarative
// connector: it parses flags, loads the connector definition, config and
// state documents, and hands off to package engine. It never embeds
// extraction logic of its own.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/flowbridge/connectkit/blobstore"
	"github.com/flowbridge/connectkit/columnar"
	"github.com/flowbridge/connectkit/connector"
	"github.com/flowbridge/connectkit/engine"
	"github.com/flowbridge/connectkit/message"
	"github.com/flowbridge/connectkit/statestore"
)

var green = color.New(color.FgGreen).SprintFunc()
var red = color.New(color.FgRed).SprintFunc()

// ConnectorFlag locates the connector definition every subcommand needs.
type ConnectorFlag struct {
	Connector string `long:"connector" required:"true" description:"Path to the connector definition YAML document"`
}

// ConfigFlag optionally supplies the "config" template scope.
type ConfigFlag struct {
	Config string `long:"config" description:"Path to a JSON configuration document rendered into the config template scope"`
}

// VarsFlag optionally supplies the "vars" template scope.
type VarsFlag struct {
	Vars string `long:"vars" description:"Path to a JSON document rendered into the vars template scope"`
}

// StateFlag optionally points at a checkpoint file. Absent, a run is
// purely in-memory and never persists a cursor.
type StateFlag struct {
	State string `long:"state" description:"Path to a state JSON file, created on first run and updated atomically on every save"`
}

// LogConfig configures logrus's handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

func initLog(cfg LogConfig) {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetLevel(lvl)
}

func loadJSONMap(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	var out = map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
	}
	return out, nil
}

func loadStore(path string) (*statestore.Store, error) {
	if path == "" {
		return statestore.New(), nil
	}
	return statestore.LoadFile(path, statestore.WithAutoSave())
}

func loadConnector(path string) (*connector.ConnectorDefinition, error) {
	return connector.Load(path)
}

// SpecCmd prints the connectionSpecification a connector document's config
// scope must satisfy. Since the shape is connector-specific, this prints a
// permissive schema describing the three input documents rather than one
// fixed per-connector schema, and exits.
type SpecCmd struct {
	LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *SpecCmd) Execute(_ []string) error {
	initLog(c.LogConfig)
	var spec = message.Spec{
		ConnectionSpecification: map[string]interface{}{
			"type":                 "object",
			"additionalProperties": true,
			"description":          "connector-specific config, rendered into the config template scope",
		},
	}
	return json.NewEncoder(os.Stdout).Encode(message.Message{Type: message.TypeSpec, Spec: &spec})
}

// CheckCmd validates connectivity to the external system.
type CheckCmd struct {
	ConnectorFlag
	ConfigFlag
	VarsFlag
	LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *CheckCmd) Execute(_ []string) error {
	initLog(c.LogConfig)

	var def, err = loadConnector(c.Connector)
	if err != nil {
		return err
	}
	cfg, err := loadJSONMap(c.Config)
	if err != nil {
		return err
	}
	vars, err := loadJSONMap(c.Vars)
	if err != nil {
		return err
	}

	var eng = engine.New(def, statestore.New(), message.NewEncoder(os.Stdout), engine.Options{Config: cfg, Vars: vars})
	var checkErr = eng.Check(context.Background())
	if checkErr != nil {
		fmt.Fprintln(os.Stderr, red("FAILED"), checkErr)
		return checkErr
	}
	fmt.Fprintln(os.Stderr, green("SUCCEEDED"))
	return nil
}

// DiscoverCmd induces and prints a catalog of streams and their schemas.
type DiscoverCmd struct {
	ConnectorFlag
	ConfigFlag
	VarsFlag
	SampleSize int `long:"sample-size" default:"100" description:"Maximum records sampled per stream to induce its schema"`
	LogConfig  `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *DiscoverCmd) Execute(_ []string) error {
	initLog(c.LogConfig)

	var def, err = loadConnector(c.Connector)
	if err != nil {
		return err
	}
	cfg, err := loadJSONMap(c.Config)
	if err != nil {
		return err
	}
	vars, err := loadJSONMap(c.Vars)
	if err != nil {
		return err
	}

	var eng = engine.New(def, statestore.New(), message.NewEncoder(os.Stdout), engine.Options{Config: cfg, Vars: vars})
	return eng.Discover(context.Background(), c.SampleSize)
}

// StreamsCmd lists a connector's declared streams without sampling.
type StreamsCmd struct {
	ConnectorFlag
	ConfigFlag
	VarsFlag
	LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *StreamsCmd) Execute(_ []string) error {
	initLog(c.LogConfig)

	var def, err = loadConnector(c.Connector)
	if err != nil {
		return err
	}
	cfg, err := loadJSONMap(c.Config)
	if err != nil {
		return err
	}
	vars, err := loadJSONMap(c.Vars)
	if err != nil {
		return err
	}

	var eng = engine.New(def, statestore.New(), message.NewEncoder(os.Stdout), engine.Options{Config: cfg, Vars: vars})
	return eng.Streams(context.Background())
}

// ReadCmd runs a full extraction, emitting RECORD/STATE/SYNC_SUMMARY
// messages to stdout.
type ReadCmd struct {
	ConnectorFlag
	ConfigFlag
	VarsFlag
	StateFlag
	BatchSize        int    `long:"batch-size" default:"500" description:"Records buffered per RECORD-message batch"`
	MaxRecords       int    `long:"max-records" description:"Stop each partition after this many records (0 = unbounded)"`
	FailFast         bool   `long:"fail-fast" description:"Abort the run on the first stream error instead of continuing"`
	EmitStatePerPage bool   `long:"emit-state-per-page" description:"Emit a STATE message after every page instead of only per partition"`
	ColumnarOutput   string `long:"columnar-output" description:"Blob destination URI (s3://, gs://, az://, or a local path) to also write Parquet batches to"`
	LogConfig        `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (c *ReadCmd) Execute(_ []string) error {
	initLog(c.LogConfig)

	var def, err = loadConnector(c.Connector)
	if err != nil {
		return err
	}
	cfg, err := loadJSONMap(c.Config)
	if err != nil {
		return err
	}
	vars, err := loadJSONMap(c.Vars)
	if err != nil {
		return err
	}
	store, err := loadStore(c.State)
	if err != nil {
		return err
	}

	var opts = engine.Options{
		Config:           cfg,
		Vars:             vars,
		FailFast:         c.FailFast,
		BatchSize:        c.BatchSize,
		MaxRecords:       c.MaxRecords,
		EmitStatePerPage: c.EmitStatePerPage,
	}

	if c.ColumnarOutput != "" {
		sink, err := blobstore.New(c.ColumnarOutput)
		if err != nil {
			return fmt.Errorf("resolving columnar output destination %q: %w", c.ColumnarOutput, err)
		}
		opts.ColumnarWriter = columnar.NewWriter(sink)
	}

	var eng = engine.New(def, store, message.NewEncoder(os.Stdout), opts)
	return eng.Read(context.Background())
}

func main() {
	var parser = flags.NewParser(nil, flags.Default)

	var _, err = parser.AddCommand("spec", "Print the config schema", "Prints the connectionSpecification and exits", &SpecCmd{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if _, err := parser.AddCommand("check", "Check connectivity", "Tries to connect to the external system and validate the connector's configuration", &CheckCmd{}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if _, err := parser.AddCommand("discover", "Induce stream schemas", "Samples every declared stream and prints a CATALOG message", &DiscoverCmd{}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if _, err := parser.AddCommand("streams", "List declared streams", "Prints a STREAMS message without sampling any stream", &StreamsCmd{}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if _, err := parser.AddCommand("read", "Extract records", "Reads every declared stream and prints RECORD/STATE/SYNC_SUMMARY messages", &ReadCmd{}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(0)
}
