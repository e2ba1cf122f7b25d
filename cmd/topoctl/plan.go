package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/GoCodeAlone/topology/config"
	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/topology"
)

// planGrant is the printable form of an ingress grant.
type planGrant struct {
	From string `json:"from"`
	To   string `json:"to"`
	Port int    `json:"port"`
}

// planDocument is what plan -format json prints.
type planDocument struct {
	Topology  string                  `json:"topology"`
	Resources []platform.ResourcePlan `json:"resources"`
	Rules     []platform.RoutingRule  `json:"rules"`
	Grants    []planGrant             `json:"grants"`
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	format := fs.String("format", "text", "Output format: text or json")
	expand := fs.Bool("expand", false, "Expand ${...} references from the environment")
	verbose := fs.Bool("v", false, "Log composition details")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl plan [options] <topology.yaml> [override.yaml...]\n\nCompose a topology and print the resources it declares, in provisioning order.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("topology file path is required")
	}
	if *format != "text" && *format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", *format)
	}

	var x config.Expander
	if *expand {
		x = expander()
	}
	top, err := compose(context.Background(), x, *verbose, fs.Args()...)
	if err != nil {
		return err
	}
	if err := top.Validate(); err != nil {
		return fmt.Errorf("topology %s is invalid:\n%w", top.Config.Name, err)
	}
	doc, err := buildPlan(top)
	if err != nil {
		return err
	}
	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	writePlan(os.Stdout, doc)
	return nil
}

func buildPlan(top *topology.Topology) (*planDocument, error) {
	g := top.Graph()
	plans, err := g.Plans()
	if err != nil {
		return nil, err
	}
	doc := &planDocument{
		Topology:  g.Name(),
		Resources: plans,
		Rules:     g.RoutingRules(),
	}
	for _, gr := range g.IngressGrants() {
		doc.Grants = append(doc.Grants, planGrant{From: gr.From.Name, To: gr.To.Name, Port: gr.EffectivePort()})
	}
	sort.SliceStable(doc.Rules, func(i, j int) bool { return doc.Rules[i].Priority < doc.Rules[j].Priority })
	return doc, nil
}

func writePlan(w io.Writer, doc *planDocument) {
	fmt.Fprintf(w, "Topology %s: %d resources\n\n", doc.Topology, len(doc.Resources))
	for _, r := range doc.Resources {
		fmt.Fprintf(w, "  + %-34s %s\n", r.ResourceType, r.Name)
		if len(r.DependsOn) > 0 {
			fmt.Fprintf(w, "      after: %s\n", strings.Join(r.DependsOn, ", "))
		}
	}

	fmt.Fprintf(w, "\nRouting rules:\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PRIORITY\tUNIT\tHOST\tPATH")
	for _, r := range doc.Rules {
		host := r.HostHeader
		if host == "" {
			host = "*"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", r.Priority, r.Unit, host, r.PathPattern)
	}
	tw.Flush()

	if len(doc.Grants) > 0 {
		fmt.Fprintf(w, "\nIngress grants:\n")
		for _, gr := range doc.Grants {
			fmt.Fprintf(w, "  %s -> %s:%d\n", gr.From, gr.To, gr.Port)
		}
	}
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl diff <old.yaml> <new.yaml>\n\nCompare two topology files and show which units changed.\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("exactly two topology files are required")
	}
	oldCfg, err := config.LoadFromFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", fs.Arg(0), err)
	}
	newCfg, err := config.LoadFromFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", fs.Arg(1), err)
	}
	writeDiff(os.Stdout, config.Diff(oldCfg, newCfg))
	return nil
}

func writeDiff(w io.Writer, d *config.UnitDiff) {
	if d.Empty() {
		fmt.Fprintln(w, "No changes.")
		return
	}
	if d.PlatformChanged {
		fmt.Fprintln(w, "~ platform (affects every unit)")
	}
	for _, k := range d.Added {
		fmt.Fprintf(w, "+ %s\n", k)
	}
	for _, k := range d.Removed {
		fmt.Fprintf(w, "- %s\n", k)
	}
	for _, k := range d.Modified {
		fmt.Fprintf(w, "~ %s\n", k)
	}
	if d.LinksChanged {
		fmt.Fprintln(w, "~ links")
	}
	fmt.Fprintf(w, "\n%d added, %d removed, %d modified, %d unchanged\n",
		len(d.Added), len(d.Removed), len(d.Modified), len(d.Unchanged))
}
