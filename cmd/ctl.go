// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"grimm.is/procwall/internal/config"
	"grimm.is/procwall/internal/ctlplane"
)

// clientFlags registers the flags every control command shares.
type clientFlags struct {
	socket *string
	json   *bool
}

func newClientFlags(flags *flag.FlagSet) clientFlags {
	return clientFlags{
		socket: flags.String("socket", config.Default().Control.Socket, "Path to the control socket"),
		json:   flags.Bool("json", false, "Print raw JSON"),
	}
}

func (f clientFlags) client() *ctlplane.Client {
	return ctlplane.NewClient(*f.socket)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func printJSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(Stdout, 0, 4, 2, ' ', 0)
}

// RunStatus prints the daemon summary.
func RunStatus(args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	st, err := cf.client().Status(ctx)
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(st)
	}

	tw := newTable()
	fmt.Fprintf(tw, "Uptime:\t%s\n", st.Uptime)
	fmt.Fprintf(tw, "Default action:\t%s\n", st.DefaultAction)
	fmt.Fprintf(tw, "Rules:\t%d\n", st.Rules)
	fmt.Fprintf(tw, "Connections:\t%d\n", st.Connections)
	fmt.Fprintf(tw, "Pending (unassociated):\t%d\n", st.Pending.Unassociated)
	fmt.Fprintf(tw, "Pending (undecided):\t%d\n", st.Pending.Undecided)
	if st.DNS.Enabled {
		fmt.Fprintf(tw, "DNS records:\t%d v4, %d v6\n", st.DNS.IPv4, st.DNS.IPv6)
	} else {
		fmt.Fprintf(tw, "DNS snooping:\tdisabled\n")
	}
	fmt.Fprintf(tw, "Prompt subscribers:\t%d\n", st.Subscribers)
	return tw.Flush()
}

// RunConnections lists the connection map.
func RunConnections(args []string) error {
	flags := flag.NewFlagSet("connections", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	conns, err := cf.client().Connections(ctx)
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(conns)
	}

	tw := newTable()
	fmt.Fprintln(tw, "PROTO\tLOCAL\tREMOTE\tDOMAIN\tPID\tEXECUTABLE")
	for _, c := range conns {
		remote := c.Remote
		if remote == "" {
			remote = "*"
		}
		pid, exe := processColumns(c.Process)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Protocol, c.Local, remote, dash(c.Domain), pid, exe)
	}
	return tw.Flush()
}

// RunPending lists packets awaiting a verdict.
func RunPending(args []string) error {
	flags := flag.NewFlagSet("pending", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	pending, err := cf.client().Pending(ctx)
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(pending)
	}

	tw := newTable()
	fmt.Fprintln(tw, "QUEUE\tAGE\tDIR\tPROTO\tSOURCE\tDESTINATION\tDOMAIN\tEXECUTABLE")
	for _, p := range pending {
		_, exe := processColumns(p.Process)
		age := time.Since(p.Enqueued).Round(time.Millisecond)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Queue, age, p.Direction, p.Protocol, p.Source, p.Dest, dash(p.Domain), exe)
	}
	return tw.Flush()
}

// RunDNS looks up the domain a remote address was resolved from.
func RunDNS(args []string) error {
	flags := flag.NewFlagSet("dns", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: procwall dns <address>")
	}

	ctx, cancel := requestContext()
	defer cancel()
	res, err := cf.client().LookupDNS(ctx, flags.Arg(0))
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(res)
	}
	if !res.Found {
		fmt.Fprintf(Stdout, "%s: no snooped name\n", res.Address)
		return nil
	}
	fmt.Fprintf(Stdout, "%s\t%s\n", res.Address, res.Domain)
	return nil
}

// RunCheck validates a configuration file and prints the effective values.
func RunCheck(args []string) error {
	flags := flag.NewFlagSet("check", flag.ExitOnError)
	configFile := flags.String("config", DefaultConfigPath, "Path to the HCL or JSON configuration")
	quiet := flags.Bool("q", false, "Only report errors")
	flags.Parse(args)

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return err
	}
	if *quiet {
		return nil
	}
	fmt.Fprintf(Stdout, "%s: ok\n", *configFile)
	return printJSON(cfg)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
