package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sensornet/internal/grammar"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/operator"
	"github.com/roach88/sensornet/internal/sensor"
)

//go:embed schema.cue
var schemaSource string

// Deployment describes a simulated tree: its nodes and their sensors, the
// query started at the root, collection timing and the transport.
type Deployment struct {
	Root       ir.Addr
	Nodes      []Node
	Sensor     []sensor.Column // used by nodes without their own columns
	Query      Query
	Timing     operator.Options
	Network    Network
	Store      string
	Properties map[ir.Addr]map[string]ir.Value
}

// Node places a non-root node in the tree.
type Node struct {
	Addr   ir.Addr
	Parent ir.Addr
	Sensor []sensor.Column
}

// Query is the query a deployment runs.
type Query struct {
	ID         int32
	Plan       string // canonical grammar text
	Schema     ir.Schema
	Period     time.Duration
	Runs       int32
	StartDelay time.Duration
}

// Network configures the in-memory transport.
type Network struct {
	InboxSize int
	Drop      []Link
}

// Link is a directed parent/child hop whose messages are lost.
type Link struct {
	From ir.Addr
	To   ir.Addr
}

// Columns returns the sensor columns of the node at addr.
func (d *Deployment) Columns(addr ir.Addr) []sensor.Column {
	for _, n := range d.Nodes {
		if n.Addr == addr && len(n.Sensor) > 0 {
			return n.Sensor
		}
	}
	return d.Sensor
}

// Addresses returns the root followed by the other nodes in file order.
func (d *Deployment) Addresses() []ir.Addr {
	out := make([]ir.Addr, 0, len(d.Nodes)+1)
	out = append(out, d.Root)
	for _, n := range d.Nodes {
		out = append(out, n.Addr)
	}
	return out
}

// Error is a deployment error, positioned in the CUE source when possible.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and validates the deployment file at path.
func Load(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment: %w", err)
	}
	return Parse(path, data)
}

// Parse validates CUE source against the deployment schema and decodes it.
// filename is used in error positions only.
func Parse(filename string, src []byte) (*Deployment, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile deployment schema: %w", err)
	}

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Deployment")).Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawDeployment
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	return build(file, &raw)
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}

type rawColumn struct {
	Kind string  `json:"kind"`
	Base float64 `json:"base"`
	Step float64 `json:"step"`
}

type rawNode struct {
	Addr   uint64      `json:"addr"`
	Parent uint64      `json:"parent"`
	Sensor []rawColumn `json:"sensor"`
}

type rawDeployment struct {
	Root   uint64      `json:"root"`
	Nodes  []rawNode   `json:"nodes"`
	Sensor []rawColumn `json:"sensor"`
	Query  struct {
		ID         int32  `json:"id"`
		Plan       string `json:"plan"`
		Schema     string `json:"schema"`
		Period     string `json:"period"`
		Runs       int32  `json:"runs"`
		StartDelay string `json:"start_delay"`
	} `json:"query"`
	Timing struct {
		LevelDelay   string `json:"level_delay"`
		PollInterval string `json:"poll_interval"`
		Isolated     bool   `json:"isolated"`
	} `json:"timing"`
	Network struct {
		InboxSize int `json:"inbox_size"`
		Drop      []struct {
			From uint64 `json:"from"`
			To   uint64 `json:"to"`
		} `json:"drop"`
	} `json:"network"`
	Store      string                       `json:"store"`
	Properties map[string]map[string]string `json:"properties"`
}

// builder turns the decoded document into a Deployment, reporting semantic
// errors at the position of the offending field in the source file.
type builder struct {
	src cue.Value
}

func (b builder) fail(field string, path []cue.Selector, format string, args ...any) error {
	return &Error{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Pos:     b.src.LookupPath(cue.MakePath(path...)).Pos(),
	}
}

func build(src cue.Value, raw *rawDeployment) (*Deployment, error) {
	b := builder{src: src}
	d := &Deployment{
		Root:       ir.Addr(raw.Root),
		Store:      raw.Store,
		Properties: make(map[ir.Addr]map[string]ir.Value),
	}

	var err error
	if d.Sensor, err = b.columns(raw.Sensor, cue.Str("sensor")); err != nil {
		return nil, err
	}
	if err := b.nodes(d, raw); err != nil {
		return nil, err
	}
	if err := b.query(d, raw); err != nil {
		return nil, err
	}
	if err := b.timing(d, raw); err != nil {
		return nil, err
	}
	if err := b.network(d, raw); err != nil {
		return nil, err
	}
	if err := b.properties(d, raw); err != nil {
		return nil, err
	}
	return d, nil
}

func (b builder) columns(raw []rawColumn, path ...cue.Selector) ([]sensor.Column, error) {
	cols := make([]sensor.Column, 0, len(raw))
	for i, c := range raw {
		if len(c.Kind) != 1 || !ir.Kind(c.Kind[0]).Valid() {
			return nil, b.fail("sensor", append(path, cue.Index(i), cue.Str("kind")), "unknown kind %q", c.Kind)
		}
		cols = append(cols, sensor.Column{Kind: ir.Kind(c.Kind[0]), Base: c.Base, Step: c.Step})
	}
	return cols, nil
}

func (b builder) nodes(d *Deployment, raw *rawDeployment) error {
	parents := map[ir.Addr]ir.Addr{}
	for i, rn := range raw.Nodes {
		n := Node{Addr: ir.Addr(rn.Addr), Parent: ir.Addr(rn.Parent)}
		at := func(field string) []cue.Selector {
			return []cue.Selector{cue.Str("nodes"), cue.Index(i), cue.Str(field)}
		}
		if n.Addr == d.Root {
			return b.fail("nodes", at("addr"), "node %d is the root", n.Addr)
		}
		if _, dup := parents[n.Addr]; dup {
			return b.fail("nodes", at("addr"), "duplicate node %d", n.Addr)
		}
		cols, err := b.columns(rn.Sensor, at("sensor")...)
		if err != nil {
			return err
		}
		n.Sensor = cols
		parents[n.Addr] = n.Parent
		d.Nodes = append(d.Nodes, n)
	}

	for i, n := range d.Nodes {
		at := []cue.Selector{cue.Str("nodes"), cue.Index(i), cue.Str("parent")}
		// Every chain of parents must end at the root within len(nodes) hops.
		cur := n.Addr
		for hops := 0; cur != d.Root; hops++ {
			p, ok := parents[cur]
			if !ok {
				return b.fail("nodes", at, "node %d has unknown ancestor %d", n.Addr, cur)
			}
			if hops > len(d.Nodes) {
				return b.fail("nodes", at, "node %d is on a parent cycle", n.Addr)
			}
			cur = p
		}
	}
	return nil
}

func (b builder) query(d *Deployment, raw *rawDeployment) error {
	rq := raw.Query
	at := func(field string) []cue.Selector {
		return []cue.Selector{cue.Str("query"), cue.Str(field)}
	}

	plan, err := grammar.ParsePlan(rq.Plan)
	if err != nil {
		return b.fail("query.plan", at("plan"), "%v", err)
	}
	if err := operator.Validate(plan); err != nil {
		return b.fail("query.plan", at("plan"), "%v", err)
	}
	canonical, err := grammar.FormatPlan(plan)
	if err != nil {
		return b.fail("query.plan", at("plan"), "%v", err)
	}
	schema, err := ir.ParseSchema(rq.Schema)
	if err != nil {
		return b.fail("query.schema", at("schema"), "%v", err)
	}
	period, err := time.ParseDuration(rq.Period)
	if err != nil {
		return b.fail("query.period", at("period"), "%v", err)
	}
	if period <= 0 && rq.Runs != 1 {
		return b.fail("query.period", at("period"), "a query with %d runs needs a positive period", rq.Runs)
	}
	delay, err := time.ParseDuration(rq.StartDelay)
	if err != nil {
		return b.fail("query.start_delay", at("start_delay"), "%v", err)
	}

	for _, addr := range d.Addresses()[1:] {
		if w := operator.Width(plan, len(d.Columns(addr))); w > len(schema) {
			return b.fail("query.schema", at("schema"),
				"plan produces %d columns on node %d, schema %q has %d", w, addr, schema.String(), len(schema))
		}
	}

	d.Query = Query{
		ID:         rq.ID,
		Plan:       canonical,
		Schema:     schema,
		Period:     period,
		Runs:       rq.Runs,
		StartDelay: delay,
	}
	return nil
}

func (b builder) timing(d *Deployment, raw *rawDeployment) error {
	level, err := time.ParseDuration(raw.Timing.LevelDelay)
	if err != nil {
		return b.fail("timing.level_delay", []cue.Selector{cue.Str("timing"), cue.Str("level_delay")}, "%v", err)
	}
	poll, err := time.ParseDuration(raw.Timing.PollInterval)
	if err != nil {
		return b.fail("timing.poll_interval", []cue.Selector{cue.Str("timing"), cue.Str("poll_interval")}, "%v", err)
	}
	d.Timing = operator.Options{
		Isolated:     raw.Timing.Isolated,
		LevelDelay:   level,
		PollInterval: poll,
	}
	return nil
}

func (b builder) network(d *Deployment, raw *rawDeployment) error {
	known := d.Addresses()
	d.Network.InboxSize = raw.Network.InboxSize
	for i, l := range raw.Network.Drop {
		link := Link{From: ir.Addr(l.From), To: ir.Addr(l.To)}
		for _, a := range []ir.Addr{link.From, link.To} {
			if !slices.Contains(known, a) {
				return b.fail("network.drop", []cue.Selector{cue.Str("network"), cue.Str("drop"), cue.Index(i)}, "unknown node %d", a)
			}
		}
		d.Network.Drop = append(d.Network.Drop, link)
	}
	return nil
}

func (b builder) properties(d *Deployment, raw *rawDeployment) error {
	known := d.Addresses()
	for key, props := range raw.Properties {
		at := []cue.Selector{cue.Str("properties"), cue.Str(key)}
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil || !slices.Contains(known, ir.Addr(n)) {
			return b.fail("properties", at, "unknown node %q", key)
		}
		values := make(map[string]ir.Value, len(props))
		for name, tok := range props {
			v, err := ir.ParseToken(tok)
			if err != nil {
				return b.fail("properties", append(at, cue.Str(name)), "%v", err)
			}
			values[name] = v
		}
		d.Properties[ir.Addr(n)] = values
	}
	return nil
}
