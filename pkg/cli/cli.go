// Package cli holds the cobra commands of leaderctl so services can embed
// them under their own root command.
package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-leaderelection/pkg/bootstrap"
    dStatic "github.com/amirimatin/go-leaderelection/pkg/discovery/static"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/node"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-leaderelection/pkg/transport/grpc"
    "github.com/amirimatin/go-leaderelection/pkg/transport/httpjson"
)

// AddAll attaches run/status/leader/join/leave to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewLeaderCmd())
    root.AddCommand(NewJoinCmd())
    root.AddCommand(NewLeaveCmd())
}

// NewElectionCommand groups the same subcommands under "election".
func NewElectionCommand() *cobra.Command {
    parent := &cobra.Command{Use: "election", Short: "leader election commands"}
    AddAll(parent)
    return parent
}

// NewRunCmd returns the "run" command which starts a node and campaigns for
// every component given with --components.
func NewRunCmd() *cobra.Command {
    var (
        cfg                  bootstrap.Config
        componentsCSV        string
        logLevel             string
        traceEnable, logJSON bool
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if cfg.NodeID == "" { return fmt.Errorf("missing --id") }
            if logJSON { logutil.SetJSON(true) }
            logger := logutil.New("leaderctl")
            if logLevel != "" {
                lv, ok := logutil.ParseLevel(logLevel)
                if !ok { return fmt.Errorf("unknown log level %q", logLevel) }
                logger.SetLevel(lv)
            }
            cfg.Logger = logger

            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    logger.Warn("tracing setup failed", "error", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }
            cfg.FatalErrorHandler = le.FatalErrorHandlerFunc(func(err error) {
                logger.Error("fatal leader election error, shutting down", "error", err)
                cancel()
            })

            n, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer n.Close()

            for _, id := range dStatic.Parse(componentsCSV) {
                e, err := n.Election(id)
                if err != nil { return err }
                c := &contender{e: e, addr: contenderAddr(n, cfg.NodeID), out: cmd.OutOrStdout(), log: logger.With("component", id)}
                if err := e.Start(c); err != nil { return err }
                defer e.Close()
            }

            fmt.Fprintln(cmd.OutOrStdout(), "node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    f := cmd.Flags()
    f.StringVar(&cfg.NodeID, "id", "", "node id (required)")
    f.StringVar(&cfg.Backend, "backend", bootstrap.BackendRaft, "coordination backend: raft|kubernetes")
    f.StringVar(&componentsCSV, "components", "", "comma-separated component ids to campaign for")
    f.StringVar(&cfg.RaftAddr, "raft-addr", "127.0.0.1:9520", "raft bind addr (tcp), gossiped to peers")
    f.StringVar(&cfg.DataDir, "data", "", "raft data dir (bolt store and snapshots); empty keeps state in memory")
    f.BoolVar(&cfg.Bootstrap, "bootstrap", false, "bootstrap a single-node raft cluster")
    f.StringVar(&cfg.MemBind, "mem-bind", "", "membership bind addr (host:port); empty disables gossip")
    f.StringVar(&cfg.MemAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    f.StringVar(&cfg.DiscoveryKind, "discovery", "static", "seed discovery: static|dns")
    f.StringVar(&cfg.SeedsCSV, "join", "", "comma-separated membership seeds (host:port), used by discovery=static")
    f.StringVar(&cfg.DNSNamesCSV, "dns-names", "", "comma-separated DNS names or SRV records (e.g. _gossip._tcp.example.com)")
    f.IntVar(&cfg.DNSPort, "dns-port", 7946, "port used for A/AAAA lookups")
    f.DurationVar(&cfg.DiscRefresh, "disc-refresh", 5*time.Second, "discovery cache duration")
    f.StringVar(&cfg.Kubeconfig, "kubeconfig", "", "kubeconfig path; empty uses the in-cluster config")
    f.StringVar(&cfg.Namespace, "namespace", "default", "namespace of the Lease and ConfigMap")
    f.StringVar(&cfg.LeaseName, "lease", "leaderelection", "Lease name for backend=kubernetes")
    f.StringVar(&cfg.MgmtAddr, "mgmt-addr", "127.0.0.1:17946", "management address (tcp); empty disables it")
    f.StringVar(&cfg.MgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    f.BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    f.BoolVar(&logJSON, "log-json", false, "log as JSON")
    f.StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error (default from LEADER_LOG_LEVEL)")
    return cmd
}

func contenderAddr(n *node.Node, nodeID string) string {
    if a := n.ManagementAddr(); a != "" {
        return a
    }
    return nodeID
}

// contender confirms every grant right away with the node's address.
type contender struct {
    e    *le.ComponentElection
    addr string
    out  io.Writer
    log  hclog.Logger
}

func (c *contender) GrantLeadership(sessionID uuid.UUID) {
    if err := c.e.ConfirmLeadership(sessionID, c.addr); err != nil {
        c.log.Warn("confirming leadership failed", "session", sessionID, "error", err)
        return
    }
    fmt.Fprintf(c.out, "%s: leader (session %s)\n", c.e.ComponentID(), sessionID)
}

func (c *contender) RevokeLeadership() {
    fmt.Fprintf(c.out, "%s: leadership revoked\n", c.e.ComponentID())
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client := cf.client()
            defer client.Close()
            ctx, cancel := context.WithTimeout(cmd.Context(), cf.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            out := cmd.OutOrStdout()
            _, _ = out.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { _, _ = out.Write([]byte("\n")) }
            return nil
        },
    }
    cf.register(cmd)
    return cmd
}

// NewLeaderCmd returns the "leader" command.
func NewLeaderCmd() *cobra.Command {
    var (
        cf        clientFlags
        component string
    )
    cmd := &cobra.Command{
        Use:   "leader",
        Short: "Show the published leader of a component, or of all components",
        RunE: func(cmd *cobra.Command, args []string) error {
            client := cf.client()
            defer client.Close()
            ctx, cancel := context.WithTimeout(cmd.Context(), cf.timeout)
            defer cancel()
            resp, err := client.GetLeader(ctx, cf.addr, transport.LeaderRequest{ComponentID: component})
            if err != nil { return fmt.Errorf("leader error: %w", err) }
            if component != "" && len(resp.Components) == 0 {
                return fmt.Errorf("no leader published for component %q", component)
            }
            return encode(cmd.OutOrStdout(), resp)
        },
    }
    cf.register(cmd)
    cmd.Flags().StringVar(&component, "component", "", "component id; empty lists all")
    return cmd
}

// NewJoinCmd returns the "join" command.
func NewJoinCmd() *cobra.Command {
    var (
        cf           clientFlags
        id, raftAddr string
    )
    cmd := &cobra.Command{
        Use:   "join",
        Short: "Ask the leader to add a node as a raft voter",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" || raftAddr == "" { return fmt.Errorf("missing required flags: --id and --raft-addr") }
            client := cf.client()
            defer client.Close()
            ctx, cancel := context.WithTimeout(cmd.Context(), cf.timeout)
            defer cancel()
            resp, err := client.PostJoin(ctx, cf.addr, transport.JoinRequest{ID: id, RaftAddr: raftAddr})
            if err != nil {
                if resp.Leader != "" { return fmt.Errorf("join error: %w (leader at %s)", err, resp.Leader) }
                return fmt.Errorf("join error: %w", err)
            }
            return encode(cmd.OutOrStdout(), resp)
        },
    }
    cf.register(cmd)
    cmd.Flags().StringVar(&id, "id", "", "node id to add (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "node raft address (host:port, required)")
    return cmd
}

// NewLeaveCmd returns the "leave" command.
func NewLeaveCmd() *cobra.Command {
    var (
        cf clientFlags
        id string
    )
    cmd := &cobra.Command{
        Use:   "leave",
        Short: "Ask the leader to remove a node from the raft configuration",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing required flag: --id") }
            client := cf.client()
            defer client.Close()
            ctx, cancel := context.WithTimeout(cmd.Context(), cf.timeout)
            defer cancel()
            resp, err := client.PostLeave(ctx, cf.addr, transport.LeaveRequest{ID: id})
            if err != nil { return fmt.Errorf("leave error: %w", err) }
            return encode(cmd.OutOrStdout(), resp)
        },
    }
    cf.register(cmd)
    cmd.Flags().StringVar(&id, "id", "", "node id to remove (required)")
    return cmd
}

// clientFlags are shared by the commands talking to a running node.
type clientFlags struct {
    addr    string
    proto   string
    timeout time.Duration
}

func (c *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&c.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&c.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&c.timeout, "timeout", 3*time.Second, "request timeout")
}

func (c *clientFlags) client() transport.RPCClient {
    if c.proto == "grpc" {
        return mgmtgrpc.NewClient(c.timeout)
    }
    return httpjson.NewClient(c.timeout)
}

func encode(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
